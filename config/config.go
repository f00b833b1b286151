// Package config loads the aaclient configuration from a file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/blndgs/aaclient"
)

// EnvPrefix prefixes every environment override, e.g. AACLIENT_BUNDLER_URL.
const EnvPrefix = "AACLIENT"

// Config is the complete client configuration.
type Config struct {
	RPCURL     string `mapstructure:"rpc-url" validate:"required,url"`
	BundlerURL string `mapstructure:"bundler-url" validate:"required,url"`
	// ChainID is the chain the wallet is expected on; 0 accepts whatever the
	// node reports.
	ChainID    uint64 `mapstructure:"chain-id"`
	EntryPoint string `mapstructure:"entry-point" validate:"required,eth_addr"`
	// PrivateKey is the owner key, hex encoded. Normally set through
	// AACLIENT_PRIVATE_KEY.
	PrivateKey string `mapstructure:"private-key"`

	Factory   FactoryConfig   `mapstructure:"factory"`
	Paymaster PaymasterConfig `mapstructure:"paymaster"`
	Contract  ContractConfig  `mapstructure:"contract"`
	Gas       GasConfig       `mapstructure:"gas"`
	Deposit   DepositConfig   `mapstructure:"deposit"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// FactoryConfig locates the SimpleAccountFactory. Exactly one of Address and
// BytecodeFile is used; the bytecode file wins when both are set.
type FactoryConfig struct {
	Address string `mapstructure:"address" validate:"opt_eth_addr"`
	// BytecodeFile holds the hex encoded factory creation code. The factory
	// is then deployed through the deterministic deployment proxy.
	BytecodeFile   string `mapstructure:"bytecode-file"`
	DeployGasLimit uint64 `mapstructure:"deploy-gas-limit"`
}

// PaymasterConfig enables sponsored operations when Address is set.
type PaymasterConfig struct {
	Address  string `mapstructure:"address" validate:"opt_eth_addr"`
	FeeToken string `mapstructure:"fee-token" validate:"opt_eth_addr"`
	// FeeCap, a decimal integer, replaces the unlimited sponsorship sentinel.
	FeeCap string `mapstructure:"fee-cap" validate:"opt_wei"`
}

// ContractConfig describes the target contract.
type ContractConfig struct {
	// Addresses maps decimal chain ids to the deployed contract.
	Addresses map[string]string `mapstructure:"addresses" validate:"dive,keys,numeric,endkeys,eth_addr"`
	Default   string            `mapstructure:"default" validate:"opt_eth_addr"`
	// ABIFile is a JSON ABI; empty selects the built-in PowerVoting ABI.
	ABIFile string `mapstructure:"abi-file"`
}

// GasConfig overrides the fixed gas policy. Zero keeps the default.
type GasConfig struct {
	CallGasLimit               uint64 `mapstructure:"call-gas-limit"`
	VerificationGasLimit       uint64 `mapstructure:"verification-gas-limit"`
	DeployVerificationGasLimit uint64 `mapstructure:"deploy-verification-gas-limit"`
	PreVerificationGas         uint64 `mapstructure:"pre-verification-gas"`
	MaxFeePerGas               uint64 `mapstructure:"max-fee-per-gas"`
	MaxPriorityFeePerGas       uint64 `mapstructure:"max-priority-fee-per-gas"`
}

// DepositConfig tunes the pre-send deposit guard, in wei.
type DepositConfig struct {
	MinDeposit    string `mapstructure:"min-deposit" validate:"opt_wei"`
	TopUpAmount   string `mapstructure:"top-up-amount" validate:"opt_wei"`
	TopUpGasLimit uint64 `mapstructure:"top-up-gas-limit"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`
}

// DefaultConfig returns the voting dApp deployment on BOB.
func DefaultConfig() Config {
	return Config{
		RPCURL:     "https://l2-puff-bob-jznbxtoq7h.t.conduit.xyz",
		BundlerURL: "https://bundler-sepolia.gobob.xyz/rpc",
		ChainID:    111,
		EntryPoint: "0x8b57d6ec08e09078Db50F265729440713E024C6a",
		Paymaster: PaymasterConfig{
			FeeToken: "0x2868d708e442A6a940670d26100036d426F1e16b",
		},
		Contract: ContractConfig{
			Addresses: map[string]string{},
		},
		Deposit: DepositConfig{
			MinDeposit:    "1000",
			TopUpAmount:   "1000000000000000",
			TopUpGasLimit: 100_000,
		},
		Log: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// setDefaults registers every default with vip so that environment variables
// are picked up by Unmarshal even without a config file.
func setDefaults(vip *viper.Viper, cfg Config) {
	vip.SetDefault("rpc-url", cfg.RPCURL)
	vip.SetDefault("bundler-url", cfg.BundlerURL)
	vip.SetDefault("chain-id", cfg.ChainID)
	vip.SetDefault("entry-point", cfg.EntryPoint)
	vip.SetDefault("private-key", cfg.PrivateKey)
	vip.SetDefault("factory.address", cfg.Factory.Address)
	vip.SetDefault("factory.bytecode-file", cfg.Factory.BytecodeFile)
	vip.SetDefault("factory.deploy-gas-limit", cfg.Factory.DeployGasLimit)
	vip.SetDefault("paymaster.address", cfg.Paymaster.Address)
	vip.SetDefault("paymaster.fee-token", cfg.Paymaster.FeeToken)
	vip.SetDefault("paymaster.fee-cap", cfg.Paymaster.FeeCap)
	vip.SetDefault("contract.addresses", cfg.Contract.Addresses)
	vip.SetDefault("contract.default", cfg.Contract.Default)
	vip.SetDefault("contract.abi-file", cfg.Contract.ABIFile)
	vip.SetDefault("gas.call-gas-limit", cfg.Gas.CallGasLimit)
	vip.SetDefault("gas.verification-gas-limit", cfg.Gas.VerificationGasLimit)
	vip.SetDefault("gas.deploy-verification-gas-limit", cfg.Gas.DeployVerificationGasLimit)
	vip.SetDefault("gas.pre-verification-gas", cfg.Gas.PreVerificationGas)
	vip.SetDefault("gas.max-fee-per-gas", cfg.Gas.MaxFeePerGas)
	vip.SetDefault("gas.max-priority-fee-per-gas", cfg.Gas.MaxPriorityFeePerGas)
	vip.SetDefault("deposit.min-deposit", cfg.Deposit.MinDeposit)
	vip.SetDefault("deposit.top-up-amount", cfg.Deposit.TopUpAmount)
	vip.SetDefault("deposit.top-up-gas-limit", cfg.Deposit.TopUpGasLimit)
	vip.SetDefault("log.level", cfg.Log.Level)
	vip.SetDefault("log.json", cfg.Log.JSON)
	vip.SetDefault("http.listen", cfg.HTTP.Listen)
}

// Load reads fileLocation, if set, applies AACLIENT_* environment overrides
// on top of DefaultConfig and validates the result.
func Load(fileLocation string, vip *viper.Viper) (*Config, error) {
	setDefaults(vip, DefaultConfig())
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	vip.AutomaticEnv()

	if fileLocation != "" {
		vip.SetConfigFile(fileLocation)
		if err := vip.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %v: %w", fileLocation, err)
		}
	}

	conf := DefaultConfig()
	if err := vip.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unmarshal viper: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks field formats.
func (c *Config) Validate() error {
	v := validator.New()
	if err := aaclient.RegisterValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Factory.Address == "" && c.Factory.BytecodeFile == "" {
		return errors.New("invalid config: factory.address or factory.bytecode-file is required")
	}
	return nil
}

// ClientConfig converts the file representation into aaclient.ClientConfig.
func (c *Config) ClientConfig() (aaclient.ClientConfig, error) {
	entryPoint := common.HexToAddress(c.EntryPoint)
	factory, err := c.FactoryRef(entryPoint)
	if err != nil {
		return aaclient.ClientConfig{}, err
	}
	cfg := aaclient.ClientConfig{
		EntryPoint: entryPoint,
		Factory:    factory,
		Gas:        c.GasPolicy(),
	}
	if c.Paymaster.Address != "" {
		paymaster := common.HexToAddress(c.Paymaster.Address)
		cfg.Paymaster = &paymaster
	}
	if c.Paymaster.FeeCap != "" {
		feeCap, err := parseWei(c.Paymaster.FeeCap)
		if err != nil {
			return aaclient.ClientConfig{}, fmt.Errorf("paymaster.fee-cap: %w", err)
		}
		cfg.PaymasterFeeCap = feeCap
	}
	return cfg, nil
}

// FactoryRef returns the configured factory location.
func (c *Config) FactoryRef(entryPoint common.Address) (aaclient.FactoryRef, error) {
	if c.Factory.BytecodeFile == "" {
		return aaclient.FactoryRef{Address: common.HexToAddress(c.Factory.Address)}, nil
	}
	raw, err := os.ReadFile(c.Factory.BytecodeFile)
	if err != nil {
		return aaclient.FactoryRef{}, fmt.Errorf("failed to read factory bytecode: %w", err)
	}
	bytecode, err := hexutil.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return aaclient.FactoryRef{}, fmt.Errorf("failed to decode factory bytecode: %w", err)
	}
	return aaclient.FactoryRef{InitCode: aaclient.FactoryInitCode(bytecode, entryPoint)}, nil
}

// GasPolicy returns the gas overrides; unset fields fall back to the defaults.
func (c *Config) GasPolicy() aaclient.GasPolicy {
	opt := func(v uint64) *big.Int {
		if v == 0 {
			return nil
		}
		return new(big.Int).SetUint64(v)
	}
	return aaclient.GasPolicy{
		CallGasLimit:               opt(c.Gas.CallGasLimit),
		VerificationGasLimit:       opt(c.Gas.VerificationGasLimit),
		DeployVerificationGasLimit: opt(c.Gas.DeployVerificationGasLimit),
		PreVerificationGas:         opt(c.Gas.PreVerificationGas),
		MaxFeePerGas:               opt(c.Gas.MaxFeePerGas),
		MaxPriorityFeePerGas:       opt(c.Gas.MaxPriorityFeePerGas),
	}
}

// DepositPolicy returns the guard thresholds.
func (c *Config) DepositPolicy() (aaclient.DepositPolicy, error) {
	policy := aaclient.DefaultDepositPolicy()
	if c.Deposit.MinDeposit != "" {
		v, err := parseWei(c.Deposit.MinDeposit)
		if err != nil {
			return policy, fmt.Errorf("deposit.min-deposit: %w", err)
		}
		policy.MinDeposit = v
	}
	if c.Deposit.TopUpAmount != "" {
		v, err := parseWei(c.Deposit.TopUpAmount)
		if err != nil {
			return policy, fmt.Errorf("deposit.top-up-amount: %w", err)
		}
		policy.TopUpAmount = v
	}
	if c.Deposit.TopUpGasLimit != 0 {
		policy.TopUpGasLimit = c.Deposit.TopUpGasLimit
	}
	return policy, nil
}

// Registry builds the chain id to contract address registry.
func (c *Config) Registry() (*aaclient.ContractRegistry, error) {
	addresses := make(map[uint64]common.Address, len(c.Contract.Addresses))
	for id, addr := range c.Contract.Addresses {
		chainID, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("contract.addresses: invalid chain id %q: %w", id, err)
		}
		addresses[chainID] = common.HexToAddress(addr)
	}
	var fallback *common.Address
	if c.Contract.Default != "" {
		addr := common.HexToAddress(c.Contract.Default)
		fallback = &addr
	}
	return aaclient.NewContractRegistry(addresses, fallback), nil
}

// ContractABI returns the target contract ABI.
func (c *Config) ContractABI() (abi.ABI, error) {
	if c.Contract.ABIFile == "" {
		return aaclient.MustParseABI(aaclient.PowerVotingABI), nil
	}
	f, err := os.Open(c.Contract.ABIFile)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to open contract ABI: %w", err)
	}
	defer f.Close()
	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	return parsed, nil
}

// FeeToken returns the paymaster fee token, or the zero address.
func (c *Config) FeeToken() common.Address {
	if c.Paymaster.FeeToken == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Paymaster.FeeToken)
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
