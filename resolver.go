package aaclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DeterministicDeployer is the well-known CREATE2 deployment proxy. Contracts
// deployed through it get the same address on every chain.
var DeterministicDeployer = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")

// AccountSalt is the salt every smart account of this system is created with.
var AccountSalt = big.NewInt(0)

const resolverCacheSize = 256

// FactoryRef points at the account factory. With InitCode set the factory is
// addressed deterministically through DeterministicDeployer and deployed on
// first use; otherwise Address must already hold the factory.
type FactoryRef struct {
	Address common.Address
	// InitCode is the factory creation code with constructor arguments.
	InitCode []byte
}

// FactoryInitCode appends the ABI-encoded entry point constructor argument to
// the SimpleAccountFactory creation bytecode.
func FactoryInitCode(bytecode []byte, entryPoint common.Address) []byte {
	args, err := abi.Arguments{{Type: addressType}}.Pack(entryPoint)
	if err != nil {
		panic(err)
	}
	return append(common.CopyBytes(bytecode), args...)
}

type resolveKey struct {
	owner   common.Address
	factory common.Address
	salt    string
}

// Resolver derives counterfactual smart-account addresses.
type Resolver struct {
	backend        Backend
	signer         Signer
	cache          *lru.Cache[resolveKey, common.Address]
	deployGasLimit uint64
	log            *zap.Logger
}

// ResolverOpt configures a Resolver.
type ResolverOpt func(*Resolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(log *zap.Logger) ResolverOpt {
	return func(r *Resolver) {
		r.log = log
	}
}

// WithDeployGasLimit fixes the gas limit of the factory deployment
// transaction instead of letting the signer estimate it.
func WithDeployGasLimit(limit uint64) ResolverOpt {
	return func(r *Resolver) {
		r.deployGasLimit = limit
	}
}

// NewResolver returns a resolver that reads through backend and deploys the
// factory, when needed, with signer.
func NewResolver(backend Backend, signer Signer, opts ...ResolverOpt) *Resolver {
	cache, err := lru.New[resolveKey, common.Address](resolverCacheSize)
	if err != nil {
		panic(err)
	}
	r := &Resolver{
		backend: backend,
		signer:  signer,
		cache:   cache,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FactoryAddress returns the address the factory lives at.
func (r *Resolver) FactoryAddress(ref FactoryRef) common.Address {
	if len(ref.InitCode) == 0 {
		return ref.Address
	}
	return crypto.CreateAddress2(DeterministicDeployer, [32]byte{}, crypto.Keccak256(ref.InitCode))
}

// EnsureFactory returns the factory address, deploying the factory through
// the deterministic deployer if there is no code at its address yet.
func (r *Resolver) EnsureFactory(ctx context.Context, ref FactoryRef) (common.Address, error) {
	factory := r.FactoryAddress(ref)
	code, err := r.backend.CodeAt(ctx, factory, nil)
	if err != nil {
		return common.Address{}, wrapRemote("eth_getCode", err)
	}
	if len(code) > 0 {
		return factory, nil
	}
	if len(ref.InitCode) == 0 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrFactoryMissing, factory)
	}

	proxyCode, err := r.backend.CodeAt(ctx, DeterministicDeployer, nil)
	if err != nil {
		return common.Address{}, wrapRemote("eth_getCode", err)
	}
	if len(proxyCode) == 0 {
		return common.Address{}, ErrDeployerMissing
	}

	r.log.Info("deploying account factory", zap.Stringer("factory", factory))
	// The proxy takes salt || creation code as calldata.
	data := make([]byte, 0, common.HashLength+len(ref.InitCode))
	data = append(data, make([]byte, common.HashLength)...)
	data = append(data, ref.InitCode...)
	tx, err := r.signer.SendTransaction(ctx, &TxRequest{
		To:       DeterministicDeployer,
		Data:     data,
		GasLimit: r.deployGasLimit,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to deploy factory: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return common.Address{}, wrapRemote("eth_getTransactionReceipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, fmt.Errorf("factory deployment %s reverted", tx.Hash())
	}
	return factory, nil
}

// Resolve returns the deterministic smart-account address of owner under the
// factory and salt. Repeated calls with the same inputs return the same
// address without touching the chain again. The account itself is never
// deployed here: its first operation carries the initCode.
//
// Parameters:
//   - owner: The owner key address.
//   - ref: The account factory.
//   - salt: The CREATE2 salt, AccountSalt in this system.
//
// Returns:
//   - common.Address: The smart-account address.
//   - error: The underlying network or call error, unretried.
func (r *Resolver) Resolve(ctx context.Context, owner common.Address, ref FactoryRef, salt *big.Int) (common.Address, error) {
	salt = bigOrZero(salt)
	key := resolveKey{owner: owner, factory: r.FactoryAddress(ref), salt: salt.String()}
	if addr, ok := r.cache.Get(key); ok {
		return addr, nil
	}

	factory, err := r.EnsureFactory(ctx, ref)
	if err != nil {
		return common.Address{}, err
	}
	out, err := callView(ctx, r.backend, accountFactoryABI, factory, "getAddress", owner, salt)
	if err != nil {
		return common.Address{}, err
	}
	account := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)

	r.cache.Add(key, account)
	r.log.Debug("resolved smart account",
		zap.Stringer("owner", owner),
		zap.Stringer("account", account),
	)
	return account, nil
}
