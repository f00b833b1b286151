package aaclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SubmittedOp identifies an operation accepted by the bundler.
type SubmittedOp struct {
	Hash  common.Hash
	Nonce *big.Int
}

// InvokeResult reports what Invoke submitted. Approval is nil when the fee
// token allowance was already unlimited.
type InvokeResult struct {
	Approval *SubmittedOp
	Main     SubmittedOp
}

// Invoker turns contract calls into user operations against the target
// contract registered for the client's chain.
//
// Nonces are assigned client side: an approval and the call it enables may
// both sit in the bundler before either is mined, and the entry point orders
// them only by nonce. The on-chain nonce does not count operations still
// pending in the bundler, so the Invoker remembers, per account, the nonce
// after the last operation it submitted and builds with the larger of the two.
// A per-account lock covers the whole read-build-submit sequence.
//
// Per-account state is kept for every account the Invoker has served until
// Forget is called for it.
type Invoker struct {
	registry *ContractRegistry
	contract abi.ABI
	feeToken common.Address
	log      *zap.Logger

	mu       sync.Mutex
	accounts map[common.Address]*accountState
}

// accountState is what one account has in flight with the bundler.
type accountState struct {
	mu sync.Mutex
	// next is the nonce after the last operation accepted by the bundler,
	// nil when nothing is known to be pending.
	next *big.Int
	// approved is set while a fee token approval is pending.
	approved bool
}

func (s *accountState) forget() {
	s.next = nil
	s.approved = false
}

// submitted records that the bundler accepted an operation at nonce.
func (s *accountState) submitted(nonce *big.Int) {
	s.next = new(big.Int).Add(nonce, common.Big1)
}

// NewInvoker returns an Invoker for contracts described by contract. feeToken
// is the ERC-20 the paymaster charges; it is only read when the client has a
// paymaster configured.
func NewInvoker(registry *ContractRegistry, contract abi.ABI, feeToken common.Address, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		registry: registry,
		contract: contract,
		feeToken: feeToken,
		log:      log,
		accounts: make(map[common.Address]*accountState),
	}
}

func (i *Invoker) account(account common.Address) *accountState {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.accounts[account]
	if !ok {
		st = new(accountState)
		i.accounts[account] = st
	}
	return st
}

// Forget drops the pending nonce bookkeeping of account. Call it when the
// account's session ends.
func (i *Invoker) Forget(account common.Address) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.accounts, account)
}

// nextNonce returns the nonce the next operation of c must use. Once the
// chain has caught up with everything submitted, the pending state is cleared.
func (i *Invoker) nextNonce(ctx context.Context, c *Client, st *accountState) (*big.Int, error) {
	onchain, err := c.accountAPI.Nonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read account nonce: %w", err)
	}
	if st.next == nil || onchain.Cmp(st.next) >= 0 {
		st.forget()
		return onchain, nil
	}
	return new(big.Int).Set(st.next), nil
}

// Method returns the ABI method named functionName.
func (i *Invoker) Method(functionName string) (abi.Method, error) {
	m, ok := i.contract.Methods[functionName]
	if !ok {
		return abi.Method{}, fmt.Errorf("%w: %s", ErrUnknownFunction, functionName)
	}
	return m, nil
}

// Invoke calls functionName(args...) on the target contract from the
// client's smart account.
//
// With a paymaster configured, the account's fee token allowance for the
// paymaster is read first; anything below the maximum triggers one
// self-funded approve(paymaster, MaxUint256) operation, and the main
// operation is built with the approval's nonce + 1. A failure before the
// main operation is submitted aborts the whole invocation.
//
// Parameters:
//   - c: The session's client.
//   - functionName: The contract function to call.
//   - args: The function arguments, in the Go types the ABI expects.
//
// Returns:
//   - *InvokeResult: The submitted operations.
//   - error: ErrNotInitialized, a TransportError or a RevertError.
func (i *Invoker) Invoke(ctx context.Context, c *Client, functionName string, args ...interface{}) (*InvokeResult, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	callData, err := i.contract.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", functionName, err)
	}
	target, err := i.registry.Lookup(c.chainID)
	if err != nil {
		return nil, err
	}

	st := i.account(c.account)
	st.mu.Lock()
	defer st.mu.Unlock()

	log := i.log.With(zap.Stringer("account", c.account), zap.String("function", functionName))
	result := &InvokeResult{}

	nonce, err := i.nextNonce(ctx, c, st)
	if err != nil {
		return nil, err
	}
	approval, err := i.approvePaymaster(ctx, c, st, nonce, log)
	if err != nil {
		return nil, err
	}
	if approval != nil {
		result.Approval = approval
		nonce = new(big.Int).Add(approval.Nonce, common.Big1)
	}

	op, err := c.CreateUserOp(ctx, target, new(big.Int), callData, WithNonce(nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s operation: %w", functionName, err)
	}
	hash, err := c.SignAndSend(ctx, op)
	if err != nil {
		// An approval accepted in this call is still pending at nonce-1.
		if approval == nil {
			st.forget()
		}
		return nil, err
	}
	st.submitted(op.Nonce)
	result.Main = SubmittedOp{Hash: hash, Nonce: op.Nonce}
	log.Info("contract call submitted", zap.Stringer("nonce", op.Nonce), zap.Stringer("hash", hash))
	return result, nil
}

// approvePaymaster submits the fee token approval at nonce when the current
// allowance is below the maximum and no approval is pending. It returns nil
// when no approval was needed.
func (i *Invoker) approvePaymaster(ctx context.Context, c *Client, st *accountState, nonce *big.Int, log *zap.Logger) (*SubmittedOp, error) {
	paymaster, ok := c.PaymasterAddress()
	if !ok || c.account == (common.Address{}) || st.approved {
		return nil, nil
	}
	if i.feeToken == (common.Address{}) {
		return nil, ErrNoFeeToken
	}

	allowance, err := callBigInt(ctx, c.backend, erc20ABI, i.feeToken, "allowance", c.account, paymaster)
	if err != nil {
		return nil, fmt.Errorf("failed to read paymaster allowance: %w", err)
	}
	if allowance.Cmp(MaxUint256) >= 0 {
		return nil, nil
	}

	approveData, err := erc20ABI.Pack("approve", paymaster, MaxUint256)
	if err != nil {
		return nil, err
	}
	// The approval pays for itself: sponsorship depends on it.
	op, err := c.CreateUserOp(ctx, i.feeToken, new(big.Int), approveData, WithoutPaymaster(), WithNonce(nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to build approval operation: %w", err)
	}
	hash, err := c.SignAndSend(ctx, op)
	if err != nil {
		st.forget()
		return nil, fmt.Errorf("failed to submit approval operation: %w", err)
	}
	st.submitted(op.Nonce)
	st.approved = true
	approvalsIssued.Inc()
	log.Info("paymaster approval submitted",
		zap.Stringer("allowance", allowance),
		zap.Stringer("nonce", op.Nonce),
		zap.Stringer("hash", hash),
	)
	return &SubmittedOp{Hash: hash, Nonce: op.Nonce}, nil
}

// Call runs a read-only contract function and returns its outputs.
func (i *Invoker) Call(ctx context.Context, c *Client, functionName string, args ...interface{}) ([]interface{}, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	if _, err := i.Method(functionName); err != nil {
		return nil, err
	}
	target, err := i.registry.Lookup(c.chainID)
	if err != nil {
		return nil, err
	}
	return callView(ctx, c.backend, i.contract, target, functionName, args...)
}
