package aaclient

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// EntryPointABI is the subset of the v0.6 EntryPoint interface the client uses.
const EntryPointABI = `[
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"sender","type":"address"},{"internalType":"uint192","name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"internalType":"uint256","name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"depositTo","outputs":[],"stateMutability":"payable","type":"function"}
]`

// SimpleAccountABI covers the execute entry of the v0.6 SimpleAccount.
const SimpleAccountABI = `[
	{"inputs":[{"internalType":"address","name":"dest","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"bytes","name":"func","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// SimpleAccountFactoryABI covers account creation and counterfactual lookup.
const SimpleAccountFactoryABI = `[
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"salt","type":"uint256"}],"name":"createAccount","outputs":[{"internalType":"contract SimpleAccount","name":"ret","type":"address"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"salt","type":"uint256"}],"name":"getAddress","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

// ERC20ABI covers the allowance handshake with the paymaster fee token.
const ERC20ABI = `[
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// PowerVotingABI is the default target contract interface.
const PowerVotingABI = `[
	{"inputs":[{"internalType":"string","name":"proposalCid","type":"string"},{"internalType":"uint256","name":"expTime","type":"uint256"},{"internalType":"uint256","name":"proposalType","type":"uint256"}],"name":"createProposal","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"string","name":"optionId","type":"string"}],"name":"vote","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"proposalId","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"idToProposal","outputs":[{"internalType":"string","name":"cid","type":"string"},{"internalType":"uint256","name":"expTime","type":"uint256"},{"internalType":"uint256","name":"proposalType","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	entryPointABI     = MustParseABI(EntryPointABI)
	simpleAccountABI  = MustParseABI(SimpleAccountABI)
	accountFactoryABI = MustParseABI(SimpleAccountFactoryABI)
	erc20ABI          = MustParseABI(ERC20ABI)

	// MaxUint256 is the unlimited ERC-20 allowance.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(common.Big1, 256), common.Big1)
)

// MustParseABI parses a JSON ABI definition and panics on malformed input.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// callView runs a read-only contract call and returns the unpacked outputs.
func callView(ctx context.Context, caller bind.ContractCaller, parsed abi.ABI, address common.Address, method string, args ...interface{}) ([]interface{}, error) {
	contract := bind.NewBoundContract(address, parsed, caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, wrapRemote(method, err)
	}
	return out, nil
}

func callBigInt(ctx context.Context, caller bind.ContractCaller, parsed abi.ABI, address common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := callView(ctx, caller, parsed, address, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}
