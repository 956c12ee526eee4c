package main

import (
	"fmt"
	"math/big"

	"anchorebridge/config"
	"anchorebridge/deploy"
	"anchorebridge/pipeline"
	"anchorebridge/tokenmap"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// flow commands submit operator deploys through the same pipeline the relay
// uses, waiting for each step before the next one

type amountFlag struct {
	value    string
	decimals uint8
}

func (f *amountFlag) register(cmd *cobra.Command, name, usage string) {
	cmd.Flags().StringVar(&f.value, name, "", usage)
	_ = cmd.MarkFlagRequired(name)
}

func (f *amountFlag) get(name string) (*big.Int, error) {
	v, err := tokenmap.BaseUnits(f.value, f.decimals)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func runPlan(cmd *cobra.Command, build func() (pipeline.Plan, error)) error {
	plan, err := build()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), config.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().Strs("steps", plan.Actions()).Msg("running plan")
	state := a.executor.Run(cmd.Context(), plan, a.key)
	fmt.Println(state.Report())
	if state.Status != pipeline.StatusComplete {
		return state.LastError
	}
	return nil
}

func contractFlag(cmd *cobra.Command, p *string, name, usage string) {
	cmd.Flags().StringVar(p, name, "", usage)
	_ = cmd.MarkFlagRequired(name)
}

func mintCmd() *cobra.Command {
	var token, recipient string
	var amount amountFlag
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint test tokens to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, func() (pipeline.Plan, error) {
				ref, err := deploy.ParseContractHash(token)
				if err != nil {
					return pipeline.Plan{}, err
				}
				v, err := amount.get("amount")
				if err != nil {
					return pipeline.Plan{}, err
				}
				return pipeline.MintPlan(ref, recipient, v)
			})
		},
	}
	contractFlag(cmd, &token, "token", "token contract hash")
	cmd.Flags().StringVar(&recipient, "recipient", "", "account-hash-... or hash-... key")
	_ = cmd.MarkFlagRequired("recipient")
	amount.register(cmd, "amount", "amount to mint")
	cmd.Flags().Uint8Var(&amount.decimals, "decimals", 0, "decimals of the amount, 0 for base units")
	return cmd
}

func swapCmd() *cobra.Command {
	var router, tokenIn, to string
	var amountIn, minOut amountFlag
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Approve the router and swap an exact input amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, func() (pipeline.Plan, error) {
				routerRef, err := deploy.ParseContractHash(router)
				if err != nil {
					return pipeline.Plan{}, err
				}
				tokenRef, err := deploy.ParseContractHash(tokenIn)
				if err != nil {
					return pipeline.Plan{}, err
				}
				in, err := amountIn.get("amount-in")
				if err != nil {
					return pipeline.Plan{}, err
				}
				out, err := minOut.get("min-out")
				if err != nil {
					return pipeline.Plan{}, err
				}
				return pipeline.ApproveSwapPlan(routerRef, tokenRef, in, out, to)
			})
		},
	}
	contractFlag(cmd, &router, "router", "router contract hash")
	contractFlag(cmd, &tokenIn, "token-in", "input token contract hash")
	cmd.Flags().StringVar(&to, "to", "", "receiving key")
	_ = cmd.MarkFlagRequired("to")
	amountIn.register(cmd, "amount-in", "input amount in base units")
	minOut.register(cmd, "min-out", "minimum output in base units")
	return cmd
}

func addLiquidityCmd() *cobra.Command {
	var pool, tokenA, tokenB string
	var amountA, amountB amountFlag
	cmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Approve both tokens and add liquidity to a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, func() (pipeline.Plan, error) {
				refs := make([]deploy.ContractRef, 3)
				for i, s := range []string{pool, tokenA, tokenB} {
					ref, err := deploy.ParseContractHash(s)
					if err != nil {
						return pipeline.Plan{}, err
					}
					refs[i] = ref
				}
				a, err := amountA.get("amount-a")
				if err != nil {
					return pipeline.Plan{}, err
				}
				b, err := amountB.get("amount-b")
				if err != nil {
					return pipeline.Plan{}, err
				}
				return pipeline.AddLiquidityPlan(refs[0], refs[1], refs[2], a, b)
			})
		},
	}
	contractFlag(cmd, &pool, "pool", "pool contract hash")
	contractFlag(cmd, &tokenA, "token-a", "first token contract hash")
	contractFlag(cmd, &tokenB, "token-b", "second token contract hash")
	amountA.register(cmd, "amount-a", "first token amount in base units")
	amountB.register(cmd, "amount-b", "second token amount in base units")
	return cmd
}

func bridgeOutCmd() *cobra.Command {
	var token, recipient string
	var amount amountFlag
	cmd := &cobra.Command{
		Use:   "bridge-out",
		Short: "Lock tokens in the bridge for release to an EVM address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, func() (pipeline.Plan, error) {
				bridge, err := config.Config.BridgeRef()
				if err != nil {
					return pipeline.Plan{}, err
				}
				ref, err := deploy.ParseContractHash(token)
				if err != nil {
					return pipeline.Plan{}, err
				}
				v, err := amount.get("amount")
				if err != nil {
					return pipeline.Plan{}, err
				}
				return pipeline.BridgeOutPlan(bridge, ref, v, recipient)
			})
		},
	}
	contractFlag(cmd, &token, "token", "token contract hash")
	cmd.Flags().StringVar(&recipient, "evm-recipient", "", "0x address on the source chain")
	_ = cmd.MarkFlagRequired("evm-recipient")
	amount.register(cmd, "amount", "amount in base units")
	return cmd
}
