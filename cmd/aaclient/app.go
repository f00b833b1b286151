package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/blndgs/aaclient"
	"github.com/blndgs/aaclient/config"
)

// app wires the node, the bundler, the owner key and the session together.
type app struct {
	log     *zap.Logger
	eth     *ethclient.Client
	bundler *aaclient.BundlerClient
	signer  *aaclient.KeySigner
	session *aaclient.Session
	invoker *aaclient.Invoker
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("no owner key: set AACLIENT_PRIVATE_KEY or private-key")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid owner key: %w", err)
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	deposit, err := cfg.DepositPolicy()
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	contract, err := cfg.ContractABI()
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	signer := aaclient.NewKeySigner(key, eth)

	chainID, err := signer.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if cfg.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != cfg.ChainID) {
		eth.Close()
		return nil, fmt.Errorf("wrong network: node is on chain %s, expected %d", chainID, cfg.ChainID)
	}

	bundler, err := aaclient.DialBundler(ctx, cfg.BundlerURL, log.Named("bundler"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to dial bundler: %w", err)
	}
	if err := bundler.ValidateChainID(ctx, chainID); err != nil {
		bundler.Close()
		eth.Close()
		return nil, err
	}

	resolver := aaclient.NewResolver(eth, signer,
		aaclient.WithResolverLogger(log.Named("resolver")),
		aaclient.WithDeployGasLimit(cfg.Factory.DeployGasLimit),
	)
	clientLog := log.Named("client")
	session := aaclient.NewSession(func(ctx context.Context, s aaclient.Signer) (*aaclient.Client, error) {
		return aaclient.NewClient(ctx, clientCfg, s, eth, bundler,
			aaclient.WithLogger(clientLog),
			aaclient.WithResolver(resolver),
			aaclient.WithDepositPolicy(deposit),
		)
	}, log.Named("session"))

	return &app{
		log:     log,
		eth:     eth,
		bundler: bundler,
		signer:  signer,
		session: session,
		invoker: aaclient.NewInvoker(registry, contract, cfg.FeeToken(), log.Named("invoker")),
	}, nil
}

func (a *app) connect(ctx context.Context) (*aaclient.Client, error) {
	return a.session.Connect(ctx, a.signer)
}

func (a *app) parseArgs(function string, raw []string) ([]interface{}, error) {
	method, err := a.invoker.Method(function)
	if err != nil {
		return nil, err
	}
	return aaclient.ParseArgs(method, raw)
}

func (a *app) Close() {
	if c := a.session.Client(); c.IsInitialized() {
		a.invoker.Forget(c.SmartAccountAddress())
	}
	a.session.Disconnect()
	a.bundler.Close()
	a.eth.Close()
}
