package aaclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ClientConfig is the static configuration of a Client. The embedding
// application owns these values.
type ClientConfig struct {
	EntryPoint common.Address
	Factory    FactoryRef
	// Paymaster enables sponsorship through a SimplePaymasterAPI when set.
	Paymaster *common.Address
	// PaymasterFeeCap replaces the unlimited sponsorship sentinel when set.
	PaymasterFeeCap *big.Int
	Gas             GasPolicy
}

// Client is the account state of one connected wallet session. A Client is
// immutable once NewClient returns it; a wallet, account or network change
// builds a new one (see Session).
type Client struct {
	initialized bool
	paymaster   *common.Address
	account     common.Address
	accountAPI  *SimpleAccountAPI
	bundler     Bundler

	backend    Backend
	signer     Signer
	entryPoint common.Address
	chainID    *big.Int
	deposit    DepositPolicy
	log        *zap.Logger
}

type clientOptions struct {
	log          *zap.Logger
	resolver     *Resolver
	paymasterAPI PaymasterAPI
	gas          *GasPolicy
	deposit      *DepositPolicy
}

// ClientOpt configures NewClient.
type ClientOpt func(*clientOptions)

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) ClientOpt {
	return func(o *clientOptions) {
		o.log = log
	}
}

// WithResolver shares a resolver, and its address cache, between clients.
func WithResolver(r *Resolver) ClientOpt {
	return func(o *clientOptions) {
		o.resolver = r
	}
}

// WithPaymasterAPI replaces the SimplePaymasterAPI derived from the config.
func WithPaymasterAPI(p PaymasterAPI) ClientOpt {
	return func(o *clientOptions) {
		o.paymasterAPI = p
	}
}

// WithGasPolicy overrides ClientConfig.Gas.
func WithGasPolicy(p GasPolicy) ClientOpt {
	return func(o *clientOptions) {
		o.gas = &p
	}
}

// WithDepositPolicy overrides DefaultDepositPolicy.
func WithDepositPolicy(p DepositPolicy) ClientOpt {
	return func(o *clientOptions) {
		o.deposit = &p
	}
}

// NewClient connects the owner signer to its smart account: it reads the
// chain id, resolves (and if needed deploys the factory for) the account
// address and prepares the account API. The returned client is fully
// initialized.
func NewClient(ctx context.Context, cfg ClientConfig, signer Signer, backend Backend, bundler Bundler, opts ...ClientOpt) (*Client, error) {
	o := clientOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = NewResolver(backend, signer, WithResolverLogger(o.log))
	}
	gas := cfg.Gas
	if o.gas != nil {
		gas = *o.gas
	}
	deposit := DefaultDepositPolicy()
	if o.deposit != nil {
		deposit = *o.deposit
	}

	chainID, err := signer.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	account, err := o.resolver.Resolve(ctx, signer.Address(), cfg.Factory, AccountSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve smart account: %w", err)
	}
	factory := o.resolver.FactoryAddress(cfg.Factory)

	paymasterAPI := o.paymasterAPI
	if paymasterAPI == nil && cfg.Paymaster != nil {
		paymasterAPI = NewSimplePaymasterAPI(*cfg.Paymaster).WithFeeCap(cfg.PaymasterFeeCap)
	}

	c := &Client{
		paymaster: cfg.Paymaster,
		account:   account,
		accountAPI: &SimpleAccountAPI{
			backend:    backend,
			signer:     signer,
			entryPoint: cfg.EntryPoint,
			factory:    factory,
			account:    account,
			chainID:    chainID,
			paymaster:  paymasterAPI,
			gas:        gas.withDefaults(),
		},
		bundler:    bundler,
		backend:    backend,
		signer:     signer,
		entryPoint: cfg.EntryPoint,
		chainID:    chainID,
		deposit:    deposit,
		log: o.log.With(
			zap.Stringer("owner", signer.Address()),
			zap.Stringer("account", account),
		),
	}
	c.initialized = true
	c.log.Info("account client ready", zap.Stringer("chain_id", chainID))
	return c, nil
}

// IsInitialized reports whether the client finished initialization.
func (c *Client) IsInitialized() bool {
	return c != nil && c.initialized
}

func (c *Client) checkInitialized() error {
	if !c.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// SmartAccountAddress returns the resolved smart-account address.
func (c *Client) SmartAccountAddress() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.account
}

// Owner returns the owner key address, or the zero address when the client
// is not initialized.
func (c *Client) Owner() common.Address {
	if !c.IsInitialized() {
		return common.Address{}
	}
	return c.signer.Address()
}

// PaymasterAddress returns the configured paymaster, if any.
func (c *Client) PaymasterAddress() (common.Address, bool) {
	if c == nil || c.paymaster == nil {
		return common.Address{}, false
	}
	return *c.paymaster, true
}

// ChainID returns the chain the session is connected to, or nil when the
// client is not initialized.
func (c *Client) ChainID() *big.Int {
	if !c.IsInitialized() {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// EntryPoint returns the entry point operations are submitted to.
func (c *Client) EntryPoint() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.entryPoint
}

// AccountAPI returns the signer-backed account API.
func (c *Client) AccountAPI() *SimpleAccountAPI {
	return c.accountAPI
}

// BuildOpt adjusts a single CreateUserOp call.
type BuildOpt func(*TxDetails)

// WithNonce sets the operation nonce explicitly instead of reading the
// account's next nonce. Used to order an operation after a still-pending one.
func WithNonce(nonce *big.Int) BuildOpt {
	return func(d *TxDetails) {
		d.Nonce = nonce
	}
}

// WithoutPaymaster forces a self-funded operation (paymasterAndData = 0x).
func WithoutPaymaster() BuildOpt {
	return func(d *TxDetails) {
		d.SelfFunded = true
	}
}

// CreateUserOp builds an unsigned operation that calls target with value and
// callData from the smart account.
//
// Returns:
//   - *UserOperation: The fully populated, unsigned operation.
//   - error: ErrNotInitialized before any network call when the client is not
//     ready, or the underlying read error.
func (c *Client) CreateUserOp(ctx context.Context, target common.Address, value *big.Int, callData []byte, opts ...BuildOpt) (*UserOperation, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	details := TxDetails{Target: target, Value: value, Data: callData}
	for _, opt := range opts {
		opt(&details)
	}
	return c.accountAPI.CreateUnsignedUserOp(ctx, details)
}

// SignAndSend runs the deposit guard over op, signs it and forwards it to the
// bundler. One bundler round trip, no retries.
//
// Returns:
//   - common.Hash: The userOpHash the bundler assigned.
//   - error: Guard, signing or relayer failure.
func (c *Client) SignAndSend(ctx context.Context, op *UserOperation) (common.Hash, error) {
	if err := c.checkInitialized(); err != nil {
		return common.Hash{}, err
	}
	if err := c.ensureDeposit(ctx, op); err != nil {
		return common.Hash{}, err
	}
	signed, err := c.accountAPI.SignUserOp(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := c.bundler.SendUserOperation(ctx, signed, c.entryPoint)
	userOpsSubmitted.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return common.Hash{}, err
	}
	c.log.Info("user operation sent",
		zap.Stringer("nonce", signed.Nonce),
		zap.Bool("sponsored", signed.IsSponsored()),
		zap.Stringer("hash", hash),
	)
	return hash, nil
}
