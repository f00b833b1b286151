package aaclient

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PaymasterAPI produces the paymasterAndData value attached to an operation.
// An empty result leaves the operation self-funded.
type PaymasterAPI interface {
	PaymasterAndData(ctx context.Context, op *UserOperation) ([]byte, error)
}

// unlimitedFee is the all-ones 32-byte word the simple paymaster reads as
// "no fee ceiling".
var unlimitedFee = bytes.Repeat([]byte{0xff}, common.HashLength)

// SimplePaymasterAPI sponsors every operation through a fixed paymaster.
//
// By default it grants an unlimited fee authorization: the paymaster address
// followed by 32 bytes of 0xff. The sentinel imposes no ceiling on what the
// paymaster may charge the account in its fee token.
type SimplePaymasterAPI struct {
	Address common.Address
	// FeeCap, when set, replaces the unlimited sentinel with the cap as a
	// 32-byte big-endian word. This changes the bytes the paymaster contract
	// receives and requires a paymaster that honours the cap.
	FeeCap *big.Int
}

// NewSimplePaymasterAPI returns a provider with the unlimited sentinel.
func NewSimplePaymasterAPI(address common.Address) *SimplePaymasterAPI {
	return &SimplePaymasterAPI{Address: address}
}

// WithFeeCap returns a copy of the provider that encodes cap instead of the
// unlimited sentinel. A nil cap restores the default.
func (p *SimplePaymasterAPI) WithFeeCap(cap *big.Int) *SimplePaymasterAPI {
	return &SimplePaymasterAPI{Address: p.Address, FeeCap: cap}
}

// PaymasterAndData returns <paymaster address> || <fee word>.
func (p *SimplePaymasterAPI) PaymasterAndData(context.Context, *UserOperation) ([]byte, error) {
	fee := unlimitedFee
	if p.FeeCap != nil {
		fee = common.LeftPadBytes(p.FeeCap.Bytes(), common.HashLength)
	}
	data := make([]byte, 0, common.AddressLength+common.HashLength)
	data = append(data, p.Address.Bytes()...)
	return append(data, fee...), nil
}
