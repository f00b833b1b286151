package aaclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxDetails describes the call an operation makes from the smart account.
type TxDetails struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
	// Nonce overrides the account's next entry point nonce when set.
	Nonce *big.Int
	// SelfFunded skips the paymaster and leaves paymasterAndData as 0x.
	SelfFunded bool
}

// SimpleAccountAPI is the signer-backed API of one v0.6 SimpleAccount.
type SimpleAccountAPI struct {
	backend    Backend
	signer     Signer
	entryPoint common.Address
	factory    common.Address
	account    common.Address
	chainID    *big.Int
	paymaster  PaymasterAPI
	gas        GasPolicy
}

// AccountAddress returns the counterfactual smart-account address.
func (a *SimpleAccountAPI) AccountAddress() common.Address {
	return a.account
}

// Owner returns the owner key address.
func (a *SimpleAccountAPI) Owner() common.Address {
	return a.signer.Address()
}

// InitCode returns factory || createAccount(owner, salt) while the account has
// no code, and nil once it is deployed.
func (a *SimpleAccountAPI) InitCode(ctx context.Context) ([]byte, error) {
	code, err := a.backend.CodeAt(ctx, a.account, nil)
	if err != nil {
		return nil, wrapRemote("eth_getCode", err)
	}
	if len(code) > 0 {
		return nil, nil
	}
	createCall, err := accountFactoryABI.Pack("createAccount", a.signer.Address(), AccountSalt)
	if err != nil {
		return nil, err
	}
	return append(a.factory.Bytes(), createCall...), nil
}

// Nonce returns the next entry point nonce of the account for key 0.
func (a *SimpleAccountAPI) Nonce(ctx context.Context) (*big.Int, error) {
	return callBigInt(ctx, a.backend, entryPointABI, a.entryPoint, "getNonce", a.account, new(big.Int))
}

// EncodeExecute returns the execute(dest, value, func) call the account runs.
func (a *SimpleAccountAPI) EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return simpleAccountABI.Pack("execute", target, bigOrZero(value), data)
}

// CreateUnsignedUserOp builds the unsigned operation for details: execute
// calldata, initCode while undeployed, the next or overridden nonce, gas from
// the policy and paymaster data unless the operation is self-funded.
func (a *SimpleAccountAPI) CreateUnsignedUserOp(ctx context.Context, details TxDetails) (*UserOperation, error) {
	callData, err := a.EncodeExecute(details.Target, details.Value, details.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execute call: %w", err)
	}
	nonce := details.Nonce
	if nonce == nil {
		if nonce, err = a.Nonce(ctx); err != nil {
			return nil, err
		}
	}
	// Only the first operation can deploy the account. A later nonce means
	// an earlier operation, possibly still pending, already carries initCode.
	var initCode []byte
	if nonce.Sign() == 0 {
		if initCode, err = a.InitCode(ctx); err != nil {
			return nil, err
		}
	}

	op := &UserOperation{
		Sender:   a.account,
		Nonce:    new(big.Int).Set(nonce),
		InitCode: initCode,
		CallData: callData,
	}
	a.gas.apply(op)

	if a.paymaster != nil && !details.SelfFunded {
		if op.PaymasterAndData, err = a.paymaster.PaymasterAndData(ctx, op); err != nil {
			return nil, fmt.Errorf("failed to get paymaster data: %w", err)
		}
	}
	return op, nil
}

// UserOpHash returns the hash the owner signs for op.
func (a *SimpleAccountAPI) UserOpHash(op *UserOperation) common.Hash {
	return op.GetUserOpHash(a.entryPoint, a.chainID)
}

// SignUserOp returns a signed copy of op; op itself is left untouched.
func (a *SimpleAccountAPI) SignUserOp(ctx context.Context, op *UserOperation) (*UserOperation, error) {
	signed := op.Clone()
	hash := a.UserOpHash(signed)
	sig, err := a.signer.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation: %w", err)
	}
	signed.Signature = sig
	return signed, nil
}
