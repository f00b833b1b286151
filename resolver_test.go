package aaclient

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testFactoryBytecode = common.FromHex("0x60806040523480156100105760006000fd5b50")

func TestFactoryAddress(t *testing.T) {
	r := NewResolver(newFakeBackend(), newFakeSigner(t))
	initCode := FactoryInitCode(testFactoryBytecode, testEntryPoint)

	// Creation code is followed by the ABI encoded entry point.
	require.Equal(t, testFactoryBytecode, initCode[:len(testFactoryBytecode)])
	require.Equal(t, common.LeftPadBytes(testEntryPoint.Bytes(), 32), initCode[len(testFactoryBytecode):])

	want := crypto.CreateAddress2(DeterministicDeployer, [32]byte{}, crypto.Keccak256(initCode))
	require.Equal(t, want, r.FactoryAddress(FactoryRef{InitCode: initCode}))
	require.Equal(t, want, r.FactoryAddress(FactoryRef{InitCode: FactoryInitCode(testFactoryBytecode, testEntryPoint)}))
	require.NotEqual(t, want, r.FactoryAddress(FactoryRef{InitCode: FactoryInitCode(testFactoryBytecode, testPaymaster)}))

	require.Equal(t, testFactory, r.FactoryAddress(FactoryRef{Address: testFactory}))
}

func TestResolveDeploysFactoryOnce(t *testing.T) {
	backend := newFakeBackend()
	signer := newFakeSigner(t)
	ref := FactoryRef{InitCode: FactoryInitCode(testFactoryBytecode, testEntryPoint)}
	account := common.HexToAddress("0xACC0000000000000000000000000000000000002")

	r := NewResolver(backend, signer, WithResolverLogger(zaptest.NewLogger(t)), WithDeployGasLimit(2_000_000))
	factory := r.FactoryAddress(ref)
	backend.setCode(DeterministicDeployer, []byte{0x60})
	backend.returns(factory, accountFactoryABI, "getAddress", account)
	signer.onSend = func(req *TxRequest) {
		backend.setCode(factory, []byte{0x60, 0x80})
	}

	ctx := context.Background()
	owner := signer.Address()
	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, owner, ref, AccountSalt)
		require.NoError(t, err)
		require.Equal(t, account, got)
	}

	txs := signer.sentTxs()
	require.Len(t, txs, 1)
	require.Equal(t, DeterministicDeployer, txs[0].To)
	require.Equal(t, uint64(2_000_000), txs[0].GasLimit)
	require.Equal(t, append(make([]byte, 32), ref.InitCode...), txs[0].Data)
	require.Equal(t, 1, backend.callCount(factory, "getAddress"))

	// A fresh resolver finds the deployed factory and does not deploy again.
	other := NewResolver(backend, signer)
	got, err := other.Resolve(ctx, owner, ref, AccountSalt)
	require.NoError(t, err)
	require.Equal(t, account, got)
	require.Len(t, signer.sentTxs(), 1)
}

func TestResolvePassesOwnerAndSalt(t *testing.T) {
	backend := newFakeBackend()
	signer := newFakeSigner(t)
	backend.setCode(testFactory, []byte{0x60})

	var gotOwner common.Address
	backend.handle(testFactory, accountFactoryABI, "getAddress", func(args []interface{}) ([]interface{}, error) {
		gotOwner = args[0].(common.Address)
		require.Zero(t, args[1].(*big.Int).Sign())
		return []interface{}{common.BytesToAddress(crypto.Keccak256(gotOwner.Bytes()))}, nil
	})

	r := NewResolver(backend, signer)
	a, err := r.Resolve(context.Background(), signer.Address(), FactoryRef{Address: testFactory}, nil)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), gotOwner)
	require.Equal(t, common.BytesToAddress(crypto.Keccak256(signer.Address().Bytes())), a)
	require.Empty(t, signer.sentTxs())
}

func TestResolveErrors(t *testing.T) {
	ref := FactoryRef{InitCode: FactoryInitCode(testFactoryBytecode, testEntryPoint)}

	t.Run("deployer missing", func(t *testing.T) {
		backend := newFakeBackend()
		signer := newFakeSigner(t)
		_, err := NewResolver(backend, signer).Resolve(context.Background(), signer.Address(), ref, AccountSalt)
		require.ErrorIs(t, err, ErrDeployerMissing)
		require.Empty(t, signer.sentTxs())
	})

	t.Run("factory missing", func(t *testing.T) {
		backend := newFakeBackend()
		signer := newFakeSigner(t)
		_, err := NewResolver(backend, signer).Resolve(context.Background(), signer.Address(), FactoryRef{Address: testFactory}, AccountSalt)
		require.ErrorIs(t, err, ErrFactoryMissing)
	})

	t.Run("deployment reverted", func(t *testing.T) {
		backend := newFakeBackend()
		backend.setCode(DeterministicDeployer, []byte{0x60})
		backend.failMining = true
		signer := newFakeSigner(t)
		_, err := NewResolver(backend, signer).Resolve(context.Background(), signer.Address(), ref, AccountSalt)
		require.ErrorContains(t, err, "reverted")
		require.Len(t, signer.sentTxs(), 1)
	})
}
