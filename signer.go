package aaclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxRequest is a plain transaction the owner signs and sends directly,
// outside of the account-abstraction flow.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	// GasLimit of zero lets the signer estimate.
	GasLimit uint64
}

// Signer is the owner wallet: the externally operated key that controls the
// smart account and pays for direct transactions.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// SignMessage returns an EIP-191 personal signature over msg.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SendTransaction(ctx context.Context, req *TxRequest) (*types.Transaction, error)
}

// Backend is the JSON-RPC node: contract reads plus receipt lookups for
// waiting on transactions. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.DeployBackend
}

// TxBackend is what KeySigner needs from the node to send transactions.
// *ethclient.Client satisfies it.
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner adapts a local private key to the Signer capability. Signing is
// delegated to go-ethereum's crypto package.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend TxBackend
}

// NewKeySigner returns a signer for key that sends transactions through backend.
func NewKeySigner(key *ecdsa.PrivateKey, backend TxBackend) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, wrapRemote("eth_chainId", err)
	}
	return chainID, nil
}

func (s *KeySigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	// Adjust v value from 0/1 to 27/28 for Ethereum compatibility
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *KeySigner) SendTransaction(ctx context.Context, req *TxRequest) (*types.Transaction, error) {
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, wrapRemote("eth_getTransactionCount", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, wrapRemote("eth_gasPrice", err)
	}
	value := bigOrZero(req.Value)
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		gasLimit, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, wrapRemote("eth_estimateGas", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &req.To,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, wrapRemote("eth_sendRawTransaction", err)
	}
	return signed, nil
}
