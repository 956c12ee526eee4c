package pipeline

import (
	"fmt"
	"math/big"

	"anchorebridge/deploy"
	"anchorebridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

// payment amounts in motes, 1 CSPR = 1e9 motes
const (
	ApprovePaymentMotes      int64 = 3_000_000_000
	SwapPaymentMotes         int64 = 5_000_000_000
	AddLiquidityPaymentMotes int64 = 5_000_000_000
	MintPaymentMotes         int64 = 7_500_000_000
	BridgeOutPaymentMotes    int64 = 5_000_000_000
	ReleasePaymentMotes      int64 = 5_000_000_000
)

func motes(n int64) *big.Int {
	return big.NewInt(n)
}

func u256(name string, v *big.Int) (deploy.NamedArg, error) {
	cl, err := deploy.U256(v)
	if err != nil {
		return deploy.NamedArg{}, fmt.Errorf("%s: %w", name, err)
	}
	return deploy.NamedArg{Name: name, Value: cl}, nil
}

func key(name, s string) (deploy.NamedArg, error) {
	cl, err := deploy.ParseKey(s)
	if err != nil {
		return deploy.NamedArg{}, fmt.Errorf("%s: %w", name, err)
	}
	return deploy.NamedArg{Name: name, Value: cl}, nil
}

// buildArgs collects args in order and stops at the first bad one
func buildArgs(args ...func() (deploy.NamedArg, error)) (deploy.Args, error) {
	out := make(deploy.Args, 0, len(args))
	for _, f := range args {
		a, err := f()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func ApproveStep(token deploy.ContractRef, spender string, amount *big.Int) (Step, error) {
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return key("spender", spender) },
		func() (deploy.NamedArg, error) { return u256("amount", amount) },
	)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: "approve", Target: token, Args: args, Payment: motes(ApprovePaymentMotes)}, nil
}

func SwapStep(router deploy.ContractRef, amountIn *big.Int, tokenIn deploy.ContractRef, minAmountOut *big.Int, to string) (Step, error) {
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return u256("amount_in", amountIn) },
		func() (deploy.NamedArg, error) { return key("token_in", "hash-"+tokenIn.Hex()) },
		func() (deploy.NamedArg, error) { return u256("min_amount_out", minAmountOut) },
		func() (deploy.NamedArg, error) { return key("to", to) },
	)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: "swap_exact_tokens_in", Target: router, Args: args, Payment: motes(SwapPaymentMotes)}, nil
}

func AddLiquidityStep(pool deploy.ContractRef, amountA, amountB *big.Int) (Step, error) {
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return u256("amount_a", amountA) },
		func() (deploy.NamedArg, error) { return u256("amount_b", amountB) },
	)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: "add_liquidity", Target: pool, Args: args, Payment: motes(AddLiquidityPaymentMotes)}, nil
}

func MintStep(token deploy.ContractRef, recipient string, amount *big.Int) (Step, error) {
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return key("recipient", recipient) },
		func() (deploy.NamedArg, error) { return u256("amount", amount) },
	)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: "mint", Target: token, Args: args, Payment: motes(MintPaymentMotes)}, nil
}

// ReleaseStep calls receive_from_bridge, the contract refuses a nonce it has seen
func ReleaseStep(bridge deploy.ContractRef, recipient string, amount *big.Int, token deploy.ContractRef, nonce *big.Int, shouldSwap bool, payment *big.Int) (Step, error) {
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return key("recipient", recipient) },
		func() (deploy.NamedArg, error) { return u256("amount", amount) },
		func() (deploy.NamedArg, error) { return key("token_address", "hash-"+token.Hex()) },
		func() (deploy.NamedArg, error) { return u256("nonce", nonce) },
		func() (deploy.NamedArg, error) { return deploy.NamedArg{Name: "should_swap", Value: deploy.Bool(shouldSwap)}, nil },
	)
	if err != nil {
		return Step{}, err
	}
	if payment == nil {
		payment = motes(ReleasePaymentMotes)
	}
	return Step{Action: "receive_from_bridge", Target: bridge, Args: args, Payment: payment}, nil
}

func BridgeOutStep(bridge deploy.ContractRef, token deploy.ContractRef, amount *big.Int, evmRecipient string) (Step, error) {
	if !common.IsHexAddress(evmRecipient) {
		return Step{}, fmt.Errorf("%w: evm recipient %q", types.ErrInvalidRequest, evmRecipient)
	}
	checksummed := common.HexToAddress(evmRecipient).Hex()
	if err := ethav.Validate(checksummed); err != nil {
		return Step{}, fmt.Errorf("%w: evm recipient %q: %v", types.ErrInvalidRequest, evmRecipient, err)
	}
	args, err := buildArgs(
		func() (deploy.NamedArg, error) { return deploy.NamedArg{Name: "token_hash", Value: deploy.ByteArray32(token.Hash)}, nil },
		func() (deploy.NamedArg, error) { return u256("amount", amount) },
		func() (deploy.NamedArg, error) { return deploy.NamedArg{Name: "evm_recipient", Value: deploy.String(checksummed)}, nil },
	)
	if err != nil {
		return Step{}, err
	}
	return Step{Action: "bridge_to_evm", Target: bridge, Args: args, Payment: motes(BridgeOutPaymentMotes)}, nil
}

// ApproveSwapPlan approves the router for amountIn of tokenIn, then swaps
func ApproveSwapPlan(router, tokenIn deploy.ContractRef, amountIn, minAmountOut *big.Int, to string) (Plan, error) {
	approve, err := ApproveStep(tokenIn, "hash-"+router.Hex(), amountIn)
	if err != nil {
		return Plan{}, err
	}
	swap, err := SwapStep(router, amountIn, tokenIn, minAmountOut, to)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(approve, swap)
}

// AddLiquidityPlan approves the pool for both tokens before depositing
func AddLiquidityPlan(pool, tokenA, tokenB deploy.ContractRef, amountA, amountB *big.Int) (Plan, error) {
	spender := "hash-" + pool.Hex()
	approveA, err := ApproveStep(tokenA, spender, amountA)
	if err != nil {
		return Plan{}, err
	}
	approveB, err := ApproveStep(tokenB, spender, amountB)
	if err != nil {
		return Plan{}, err
	}
	add, err := AddLiquidityStep(pool, amountA, amountB)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(approveA, approveB, add)
}

func MintPlan(token deploy.ContractRef, recipient string, amount *big.Int) (Plan, error) {
	mint, err := MintStep(token, recipient, amount)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(mint)
}

// ReleasePlan is the single receive_from_bridge step for a bridge request
func ReleasePlan(bridge deploy.ContractRef, req types.BridgeRequest, token types.TokenDescriptor, shouldSwap bool, payment *big.Int) (Plan, error) {
	tokenRef, err := deploy.ParseContractHash(token.TokenRef)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: token %q: %v", types.ErrConfiguration, token.TokenRef, err)
	}
	release, err := ReleaseStep(bridge, req.DestinationRecipient, req.Amount, tokenRef, req.Nonce, shouldSwap, payment)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(release)
}

// BridgeOutPlan approves the bridge and locks tokens for release on the EVM side
func BridgeOutPlan(bridge, token deploy.ContractRef, amount *big.Int, evmRecipient string) (Plan, error) {
	approve, err := ApproveStep(token, "hash-"+bridge.Hex(), amount)
	if err != nil {
		return Plan{}, err
	}
	out, err := BridgeOutStep(bridge, token, amount, evmRecipient)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(approve, out)
}
