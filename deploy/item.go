package deploy

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
)

type NamedArg struct {
	Name  string
	Value CLValue
}

// Args keeps insertion order, which is part of the serialized form
type Args []NamedArg

func (a Args) Bytes() []byte {
	e := encoder{}
	e.u32(uint32(len(a)))
	for _, arg := range a {
		e.str(arg.Name)
		e.raw(arg.Value.Serialize())
	}
	return e.b
}

func (a Args) MarshalJSON() ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(a))
	for _, arg := range a {
		pairs = append(pairs, [2]interface{}{arg.Name, arg.Value})
	}
	return json.Marshal(pairs)
}

// Get returns the first argument with the given name
func (a Args) Get(name string) (CLValue, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return CLValue{}, false
}

type ItemKind byte

const (
	KindModuleBytes                   ItemKind = 0
	KindStoredContractByHash          ItemKind = 1
	KindStoredVersionedContractByHash ItemKind = 3
)

// ExecutableDeployItem is the payment or session part of a deploy
type ExecutableDeployItem struct {
	Kind        ItemKind
	ModuleBytes []byte
	Hash        [32]byte
	Version     *uint32 // versioned calls only, nil means latest
	EntryPoint  string
	Args        Args
}

// StandardPayment pays from the account main purse
func StandardPayment(motes *big.Int) (ExecutableDeployItem, error) {
	amount, err := U512(motes)
	if err != nil {
		return ExecutableDeployItem{}, err
	}
	return ExecutableDeployItem{
		Kind: KindModuleBytes,
		Args: Args{{Name: "amount", Value: amount}},
	}, nil
}

// ContractCall targets a contract hash directly or, for package refs,
// the latest enabled version of the package.
func ContractCall(ref ContractRef, entryPoint string, args Args) ExecutableDeployItem {
	kind := KindStoredContractByHash
	if ref.Package {
		kind = KindStoredVersionedContractByHash
	}
	return ExecutableDeployItem{
		Kind:       kind,
		Hash:       ref.Hash,
		EntryPoint: entryPoint,
		Args:       args,
	}
}

func (it ExecutableDeployItem) Bytes() []byte {
	e := encoder{}
	e.u8(byte(it.Kind))
	switch it.Kind {
	case KindModuleBytes:
		e.bytes(it.ModuleBytes)
	case KindStoredContractByHash:
		e.raw(it.Hash[:])
		e.str(it.EntryPoint)
	case KindStoredVersionedContractByHash:
		e.raw(it.Hash[:])
		if it.Version == nil {
			e.u8(0)
		} else {
			e.u8(1)
			e.u32(*it.Version)
		}
		e.str(it.EntryPoint)
	}
	e.raw(it.Args.Bytes())
	return e.b
}

func (it ExecutableDeployItem) MarshalJSON() ([]byte, error) {
	args := it.Args
	if args == nil {
		args = Args{}
	}
	switch it.Kind {
	case KindStoredContractByHash:
		return json.Marshal(map[string]interface{}{
			"StoredContractByHash": map[string]interface{}{
				"hash":        hex.EncodeToString(it.Hash[:]),
				"entry_point": it.EntryPoint,
				"args":        args,
			},
		})
	case KindStoredVersionedContractByHash:
		return json.Marshal(map[string]interface{}{
			"StoredVersionedContractByHash": map[string]interface{}{
				"hash":        hex.EncodeToString(it.Hash[:]),
				"version":     it.Version,
				"entry_point": it.EntryPoint,
				"args":        args,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"ModuleBytes": map[string]interface{}{
				"module_bytes": hex.EncodeToString(it.ModuleBytes),
				"args":         args,
			},
		})
	}
}

// ContractRef points at a contract hash or, with Package set, a contract package
type ContractRef struct {
	Hash    [32]byte
	Package bool
}

// ParseContractHash accepts hash-<hex>, contract-<hex> or bare hex
func ParseContractHash(s string) (ContractRef, error) {
	h, err := parseHash32(stripHashPrefix(s))
	if err != nil {
		return ContractRef{}, err
	}
	return ContractRef{Hash: h}, nil
}

// ParsePackageHash is ParseContractHash for contract package hashes
func ParsePackageHash(s string) (ContractRef, error) {
	ref, err := ParseContractHash(s)
	ref.Package = err == nil
	return ref, err
}

func (c ContractRef) Hex() string {
	return hex.EncodeToString(c.Hash[:])
}

func (c ContractRef) String() string {
	if c.Package {
		return "contract-package-" + c.Hex()
	}
	return "hash-" + c.Hex()
}

func stripHashPrefix(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range []string{"contract-package-wasm", "contract-package-", "contract-", "hash-"} {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p)
		}
	}
	return s
}
