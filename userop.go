// Package aaclient is the client side of an ERC-4337 (EntryPoint v0.6)
// account-abstraction wallet: it resolves the counterfactual smart account of
// an owner key, builds and sponsors UserOperations, keeps the entry point
// deposit funded, submits operations to a bundler and decodes revert reasons.
//
// This file defines the UserOperation struct, its hashing and its hex JSON
// representation as the bundler RPC expects it.
package aaclient

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
)

// UserOperation is the EntryPoint v0.6 user operation. An empty
// PaymasterAndData is the "0x" sentinel of a self-funded operation.
type UserOperation struct {
	Sender               common.Address `json:"sender"               mapstructure:"sender"               validate:"required"`
	Nonce                *big.Int       `json:"nonce"                mapstructure:"nonce"                validate:"required"`
	InitCode             []byte         `json:"initCode"             mapstructure:"initCode"`
	CallData             []byte         `json:"callData"             mapstructure:"callData"             validate:"required"`
	CallGasLimit         *big.Int       `json:"callGasLimit"         mapstructure:"callGasLimit"         validate:"required"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit" mapstructure:"verificationGasLimit" validate:"required"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"   mapstructure:"preVerificationGas"   validate:"required"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"         mapstructure:"maxFeePerGas"         validate:"required"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas" mapstructure:"maxPriorityFeePerGas" validate:"required"`
	PaymasterAndData     []byte         `json:"paymasterAndData"     mapstructure:"paymasterAndData"`
	Signature            []byte         `json:"signature"            mapstructure:"signature"`
}

var (
	addressType = mustNewType("address")
	uint256Type = mustNewType("uint256")
	bytes32Type = mustNewType("bytes32")

	userOpPackArgs = abi.Arguments{
		{Name: "sender", Type: addressType},
		{Name: "nonce", Type: uint256Type},
		{Name: "hashInitCode", Type: bytes32Type},
		{Name: "hashCallData", Type: bytes32Type},
		{Name: "callGasLimit", Type: uint256Type},
		{Name: "verificationGasLimit", Type: uint256Type},
		{Name: "preVerificationGas", Type: uint256Type},
		{Name: "maxFeePerGas", Type: uint256Type},
		{Name: "maxPriorityFeePerGas", Type: uint256Type},
		{Name: "hashPaymasterAndData", Type: bytes32Type},
	}

	userOpHashArgs = abi.Arguments{
		{Name: "userOpHash", Type: bytes32Type},
		{Name: "entryPoint", Type: addressType},
		{Name: "chainId", Type: uint256Type},
	}
)

func has0xPrefix(input []byte) bool {
	return len(input) >= 2 && input[0] == '0' && (input[1] == 'x' || input[1] == 'X')
}

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

// IsSponsored reports whether the operation carries paymaster data.
func (op *UserOperation) IsSponsored() bool {
	return len(op.PaymasterAndData) > 0
}

// GetPaymaster returns the paymaster address encoded in the first 20 bytes of
// PaymasterAndData, or the zero address for self-funded operations.
func (op *UserOperation) GetPaymaster() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// GetFactory returns the factory address encoded in the first 20 bytes of
// InitCode, or the zero address for deployed accounts.
func (op *UserOperation) GetFactory() common.Address {
	if len(op.InitCode) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.InitCode[:common.AddressLength])
}

// Clone returns a deep copy of the operation.
func (op *UserOperation) Clone() *UserOperation {
	cloneBig := func(b *big.Int) *big.Int {
		if b == nil {
			return nil
		}
		return new(big.Int).Set(b)
	}
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneBig(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         cloneBig(op.CallGasLimit),
		VerificationGasLimit: cloneBig(op.VerificationGasLimit),
		PreVerificationGas:   cloneBig(op.PreVerificationGas),
		MaxFeePerGas:         cloneBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
	}
}

// Pack returns the ABI encoding of the operation without its signature, with
// the dynamic byte fields replaced by their keccak256 hashes.
func (op *UserOperation) Pack() ([]byte, error) {
	return userOpPackArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

// GetUserOpHash returns the hash the account owner signs:
// keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainID)).
//
// Parameters:
//   - entryPoint: The entry point the operation is submitted to.
//   - chainID: The chain the entry point lives on.
//
// Returns:
//   - common.Hash: The userOpHash.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed, err := op.Pack()
	if err != nil {
		// Only fixed-size values are packed.
		panic(err)
	}
	encoded, err := userOpHashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, bigOrZero(chainID))
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(encoded)
}

type userOperationJSON struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// MarshalJSON encodes the operation with hex quantities and 0x-prefixed byte
// strings, the representation eth_sendUserOperation accepts.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(userOperationJSON{
		Sender:               op.Sender.Hex(),
		Nonce:                hexutil.EncodeBig(bigOrZero(op.Nonce)),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         hexutil.EncodeBig(bigOrZero(op.CallGasLimit)),
		VerificationGasLimit: hexutil.EncodeBig(bigOrZero(op.VerificationGasLimit)),
		PreVerificationGas:   hexutil.EncodeBig(bigOrZero(op.PreVerificationGas)),
		MaxFeePerGas:         hexutil.EncodeBig(bigOrZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: hexutil.EncodeBig(bigOrZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	})
}

// UnmarshalJSON does the reverse of MarshalJSON.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var aux userOperationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if !common.IsHexAddress(aux.Sender) {
		return fmt.Errorf("invalid sender address %q", aux.Sender)
	}
	op.Sender = common.HexToAddress(aux.Sender)

	var err error
	bigFields := []struct {
		dst **big.Int
		src string
	}{
		{&op.Nonce, aux.Nonce},
		{&op.CallGasLimit, aux.CallGasLimit},
		{&op.VerificationGasLimit, aux.VerificationGasLimit},
		{&op.PreVerificationGas, aux.PreVerificationGas},
		{&op.MaxFeePerGas, aux.MaxFeePerGas},
		{&op.MaxPriorityFeePerGas, aux.MaxPriorityFeePerGas},
	}
	for _, f := range bigFields {
		if *f.dst, err = hexutil.DecodeBig(f.src); err != nil {
			return err
		}
	}

	byteFields := []struct {
		dst *[]byte
		src string
	}{
		{&op.InitCode, aux.InitCode},
		{&op.CallData, aux.CallData},
		{&op.PaymasterAndData, aux.PaymasterAndData},
		{&op.Signature, aux.Signature},
	}
	for _, f := range byteFields {
		if *f.dst, err = hexutil.Decode(f.src); err != nil {
			return err
		}
	}

	return nil
}

func (op *UserOperation) String() string {
	formatBytes := func(b []byte) string {
		if len(b) == 0 {
			return "0x" // default for empty byte slice
		}
		return hexutil.Encode(b)
	}

	formatBigInt := func(b *big.Int) string {
		if b == nil {
			return "0x, 0" // Default for nil big.Int
		}
		return fmt.Sprintf("0x%x, %s", b, b.Text(10))
	}

	return fmt.Sprintf(
		"UserOperation{\n"+
			"  Sender: %s\n"+
			"  Nonce: %s\n"+
			"  InitCode: %s\n"+
			"  CallData: %s\n"+
			"  CallGasLimit: %s\n"+
			"  VerificationGasLimit: %s\n"+
			"  PreVerificationGas: %s\n"+
			"  MaxFeePerGas: %s\n"+
			"  MaxPriorityFeePerGas: %s\n"+
			"  PaymasterAndData: %s\n"+
			"  Signature: %s\n"+
			"}",
		op.Sender.String(),
		formatBigInt(op.Nonce),
		formatBytes(op.InitCode),
		formatBytes(op.CallData),
		formatBigInt(op.CallGasLimit),
		formatBigInt(op.VerificationGasLimit),
		formatBigInt(op.PreVerificationGas),
		formatBigInt(op.MaxFeePerGas),
		formatBigInt(op.MaxPriorityFeePerGas),
		formatBytes(op.PaymasterAndData),
		formatBytes(op.Signature),
	)
}
