package aaclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	testEntryPoint = common.HexToAddress("0x8b57d6ec08e09078Db50F265729440713E024C6a")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testPaymaster  = common.HexToAddress("0x777FA19ea9e771018678161ABf2f1E2879D3cA6C")
	testFeeToken   = common.HexToAddress("0x2868d708e442A6a940670d26100036d426F1e16b")
	testTarget     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testChainID    = big.NewInt(111)

	powerVotingABI = MustParseABI(PowerVotingABI)
)

type callHandler func(args []interface{}) ([]interface{}, error)

type contractMethod struct {
	address common.Address
	method  string
}

// fakeBackend answers contract reads from registered handlers and reports
// every transaction as mined.
type fakeBackend struct {
	mu         sync.Mutex
	code       map[common.Address][]byte
	abis       map[common.Address]abi.ABI
	handlers   map[contractMethod]callHandler
	calls      []contractMethod
	codeReads  int
	failMining bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		code:     make(map[common.Address][]byte),
		abis:     make(map[common.Address]abi.ABI),
		handlers: make(map[contractMethod]callHandler),
	}
}

func (b *fakeBackend) setCode(addr common.Address, code []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.code[addr] = code
}

func (b *fakeBackend) handle(addr common.Address, parsed abi.ABI, method string, h callHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abis[addr] = parsed
	b.handlers[contractMethod{addr, method}] = h
}

// returns registers a handler with fixed outputs.
func (b *fakeBackend) returns(addr common.Address, parsed abi.ABI, method string, out ...interface{}) {
	b.handle(addr, parsed, method, func([]interface{}) ([]interface{}, error) {
		return out, nil
	})
}

func (b *fakeBackend) callCount(addr common.Address, method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.address == addr && c.method == method {
			n++
		}
	}
	return n
}

func (b *fakeBackend) totalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls) + b.codeReads
}

func (b *fakeBackend) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codeReads++
	return b.code[contract], nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	if call.To == nil || len(call.Data) < 4 {
		b.mu.Unlock()
		return nil, errors.New("invalid call")
	}
	parsed, ok := b.abis[*call.To]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("no contract at %s", call.To)
	}
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	key := contractMethod{*call.To, method.Name}
	h, ok := b.handlers[key]
	b.calls = append(b.calls, key)
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}

	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := h(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := types.ReceiptStatusSuccessful
	if b.failMining {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{TxHash: txHash, Status: status}, nil
}

// fakeSigner signs with a real key and records sent transactions.
type fakeSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int

	mu      sync.Mutex
	sent    []*TxRequest
	sendErr error
	onSend  func(*TxRequest)
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeSigner{key: key, chainID: testChainID}
}

func (s *fakeSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *fakeSigner) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.chainID), nil
}

func (s *fakeSigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *fakeSigner) SendTransaction(_ context.Context, req *TxRequest) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, req)
	if s.onSend != nil {
		s.onSend(req)
	}
	nonce := uint64(len(s.sent) - 1)
	return types.NewTransaction(nonce, req.To, bigOrZero(req.Value), req.GasLimit, common.Big1, req.Data), nil
}

func (s *fakeSigner) sentTxs() []*TxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TxRequest(nil), s.sent...)
}

// fakeBundler records submitted operations in order.
type fakeBundler struct {
	mu  sync.Mutex
	ops []*UserOperation
	err error
}

func (b *fakeBundler) SendUserOperation(_ context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return common.Hash{}, b.err
	}
	b.ops = append(b.ops, op)
	return op.GetUserOpHash(entryPoint, testChainID), nil
}

func (b *fakeBundler) sent() []*UserOperation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*UserOperation(nil), b.ops...)
}

// testEnv is a chain with a deployed factory, entry point and fee token.
type testEnv struct {
	backend *fakeBackend
	signer  *fakeSigner
	bundler *fakeBundler
	account common.Address

	mu        sync.Mutex
	nonce     *big.Int
	deposit   *big.Int
	allowance *big.Int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend:   newFakeBackend(),
		signer:    newFakeSigner(t),
		bundler:   &fakeBundler{},
		account:   common.HexToAddress("0xACC0000000000000000000000000000000000001"),
		nonce:     big.NewInt(0),
		deposit:   big.NewInt(1000),
		allowance: new(big.Int).Set(MaxUint256),
	}
	b := env.backend
	b.setCode(testFactory, []byte{0x60, 0x80})
	b.setCode(env.account, []byte{0x60, 0x80})
	b.returns(testFactory, accountFactoryABI, "getAddress", env.account)
	b.handle(testEntryPoint, entryPointABI, "getNonce", func([]interface{}) ([]interface{}, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return []interface{}{new(big.Int).Set(env.nonce)}, nil
	})
	b.handle(testEntryPoint, entryPointABI, "balanceOf", func([]interface{}) ([]interface{}, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return []interface{}{new(big.Int).Set(env.deposit)}, nil
	})
	b.handle(testFeeToken, erc20ABI, "allowance", func([]interface{}) ([]interface{}, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return []interface{}{new(big.Int).Set(env.allowance)}, nil
	})
	return env
}

func (e *testEnv) setNonce(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce = big.NewInt(n)
}

func (e *testEnv) setDeposit(d int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deposit = big.NewInt(d)
}

func (e *testEnv) setAllowance(a *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowance = a
}

func (e *testEnv) config(paymaster bool) ClientConfig {
	cfg := ClientConfig{
		EntryPoint: testEntryPoint,
		Factory:    FactoryRef{Address: testFactory},
	}
	if paymaster {
		pm := testPaymaster
		cfg.Paymaster = &pm
	}
	return cfg
}

func (e *testEnv) newClient(t *testing.T, paymaster bool, opts ...ClientOpt) *Client {
	t.Helper()
	opts = append([]ClientOpt{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := NewClient(context.Background(), e.config(paymaster), e.signer, e.backend, e.bundler, opts...)
	require.NoError(t, err)
	return c
}
