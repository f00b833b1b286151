package aaclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestDepositToCallData(t *testing.T) {
	account := common.HexToAddress("0xACC0000000000000000000000000000000000001")
	want := hexutil.MustDecode("0xb760faf9000000000000000000000000acc0000000000000000000000000000000000001")
	require.Equal(t, want, DepositToCallData(account))

	packed, err := entryPointABI.Pack("depositTo", account)
	require.NoError(t, err)
	require.Equal(t, packed, DepositToCallData(account))
}

func TestDepositGuard(t *testing.T) {
	tests := []struct {
		name      string
		paymaster bool
		deposit   int64
		wantTopUp bool
	}{
		{name: "below minimum", deposit: 999, wantTopUp: true},
		{name: "at minimum", deposit: 1000},
		{name: "empty deposit", deposit: 0, wantTopUp: true},
		{name: "sponsored ignores deposit", paymaster: true, deposit: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.setDeposit(tt.deposit)
			c := env.newClient(t, tt.paymaster)
			ctx := context.Background()

			op, err := c.CreateUserOp(ctx, testTarget, nil, nil)
			require.NoError(t, err)
			_, err = c.SignAndSend(ctx, op)
			require.NoError(t, err)
			require.Len(t, env.bundler.sent(), 1)

			txs := env.signer.sentTxs()
			if !tt.wantTopUp {
				require.Empty(t, txs)
				if tt.paymaster {
					require.Zero(t, env.backend.callCount(testEntryPoint, "balanceOf"))
				}
				return
			}
			require.Len(t, txs, 1)
			require.Equal(t, testEntryPoint, txs[0].To)
			require.Equal(t, big.NewInt(1_000_000_000_000_000), txs[0].Value)
			require.Equal(t, uint64(100_000), txs[0].GasLimit)
			require.Equal(t, DepositToCallData(env.account), txs[0].Data)
		})
	}
}

func TestDepositGuardTopUpFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{
			name: "send rejected",
			setup: func(env *testEnv) {
				env.signer.sendErr = errors.New("insufficient funds for gas * price + value")
			},
		},
		{
			name: "transaction reverted",
			setup: func(env *testEnv) {
				env.backend.failMining = true
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.setDeposit(10)
			c := env.newClient(t, false)
			tt.setup(env)
			ctx := context.Background()

			op, err := c.CreateUserOp(ctx, testTarget, nil, nil)
			require.NoError(t, err)
			_, err = c.SignAndSend(ctx, op)
			require.ErrorIs(t, err, ErrTopUpFailed)
			require.Empty(t, env.bundler.sent())
		})
	}
}

func TestDepositPolicyOverride(t *testing.T) {
	env := newTestEnv(t)
	env.setDeposit(5000)
	c := env.newClient(t, false, WithDepositPolicy(DepositPolicy{
		MinDeposit:    big.NewInt(10_000),
		TopUpAmount:   big.NewInt(42),
		TopUpGasLimit: 60_000,
	}))
	ctx := context.Background()

	op, err := c.CreateUserOp(ctx, testTarget, nil, nil)
	require.NoError(t, err)
	_, err = c.SignAndSend(ctx, op)
	require.NoError(t, err)

	txs := env.signer.sentTxs()
	require.Len(t, txs, 1)
	require.Equal(t, big.NewInt(42), txs[0].Value)
	require.Equal(t, uint64(60_000), txs[0].GasLimit)
}
