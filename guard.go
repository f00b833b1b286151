package aaclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// depositToSelector is EntryPoint.depositTo(address).
var depositToSelector = hexutil.MustDecode("0xb760faf9")

// DepositPolicy controls the pre-send check of a self-funded operation's
// entry point deposit.
type DepositPolicy struct {
	// MinDeposit is the balance below which the owner tops the deposit up.
	MinDeposit *big.Int
	// TopUpAmount is the value of the top-up transaction.
	TopUpAmount *big.Int
	// TopUpGasLimit is the gas limit of the top-up transaction.
	TopUpGasLimit uint64
}

// DefaultDepositPolicy tops up 10^15 wei whenever the deposit is below 1000 wei.
func DefaultDepositPolicy() DepositPolicy {
	return DepositPolicy{
		MinDeposit:    big.NewInt(1000),
		TopUpAmount:   big.NewInt(1_000_000_000_000_000),
		TopUpGasLimit: 100_000,
	}
}

// DepositToCallData returns the raw depositTo(account) calldata.
func DepositToCallData(account common.Address) []byte {
	data := make([]byte, 0, len(depositToSelector)+common.HashLength)
	data = append(data, depositToSelector...)
	return append(data, common.LeftPadBytes(account.Bytes(), common.HashLength)...)
}

// DepositBalance reads the account's deposit at the entry point.
func (c *Client) DepositBalance(ctx context.Context) (*big.Int, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	return callBigInt(ctx, c.backend, entryPointABI, c.entryPoint, "balanceOf", c.account)
}

// ensureDeposit makes sure a self-funded op can be paid for from the entry
// point deposit. Sponsored ops pass through untouched. A short deposit is
// topped up by the owner's own transaction and the call blocks until it is
// mined. Any failure aborts the pending operation.
func (c *Client) ensureDeposit(ctx context.Context, op *UserOperation) error {
	if op.IsSponsored() {
		return nil
	}

	balance, err := c.DepositBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to read entry point deposit: %w", err)
	}
	if balance.Cmp(c.deposit.MinDeposit) >= 0 {
		return nil
	}

	c.log.Info("topping up entry point deposit",
		zap.Stringer("balance", balance),
		zap.Stringer("amount", c.deposit.TopUpAmount),
	)
	tx, err := c.signer.SendTransaction(ctx, &TxRequest{
		To:       c.entryPoint,
		Value:    new(big.Int).Set(c.deposit.TopUpAmount),
		Data:     DepositToCallData(c.account),
		GasLimit: c.deposit.TopUpGasLimit,
	})
	if err != nil {
		depositTopUps.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrTopUpFailed, err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		depositTopUps.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrTopUpFailed, wrapRemote("eth_getTransactionReceipt", err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		depositTopUps.WithLabelValues("reverted").Inc()
		return fmt.Errorf("%w: transaction %s reverted", ErrTopUpFailed, tx.Hash())
	}
	depositTopUps.WithLabelValues("ok").Inc()
	return nil
}
