package aaclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Bundler accepts signed operations for an entry point.
type Bundler interface {
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
}

// BundlerClient talks to an ERC-4337 bundler over JSON-RPC.
type BundlerClient struct {
	rpc *rpc.Client
	log *zap.Logger
}

// NewBundlerClient wraps an existing RPC connection.
func NewBundlerClient(c *rpc.Client, log *zap.Logger) *BundlerClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &BundlerClient{rpc: c, log: log}
}

// DialBundler connects to the bundler at url.
func DialBundler(ctx context.Context, url string, log *zap.Logger) (*BundlerClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return NewBundlerClient(c, log), nil
}

// Close closes the underlying connection.
func (b *BundlerClient) Close() {
	b.rpc.Close()
}

// ChainID returns the chain the bundler serves.
func (b *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := b.rpc.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, &TransportError{Op: "eth_chainId", Err: err}
	}
	return (*big.Int)(&result), nil
}

// ValidateChainID fails with ErrChainMismatch when the bundler does not serve
// the wallet's chain.
func (b *BundlerClient) ValidateChainID(ctx context.Context, want *big.Int) error {
	got, err := b.ChainID(ctx)
	if err != nil {
		return err
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("%w: bundler %s, wallet %s", ErrChainMismatch, got, want)
	}
	return nil
}

// SupportedEntryPoints returns the entry points the bundler accepts.
func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	if err := b.rpc.CallContext(ctx, &result, "eth_supportedEntryPoints"); err != nil {
		return nil, &TransportError{Op: "eth_supportedEntryPoints", Err: err}
	}
	return result, nil
}

// SendUserOperation submits a signed operation. The relayer's error is
// returned verbatim inside a TransportError, or as a RevertError when it
// carries revert data.
func (b *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := b.rpc.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPoint); err != nil {
		b.log.Warn("bundler rejected user operation",
			zap.Stringer("sender", op.Sender),
			zap.Stringer("nonce", op.Nonce),
			zap.Error(err),
		)
		return common.Hash{}, wrapRemote("eth_sendUserOperation", err)
	}
	return hash, nil
}
