package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aaclient"
)

const testConfig = `
rpc-url: http://127.0.0.1:8545
bundler-url: http://127.0.0.1:3000/rpc
chain-id: 111
factory:
  address: "0x9406Cc6185a346906296840746125a0E44976454"
paymaster:
  address: "0x777FA19ea9e771018678161ABf2f1E2879D3cA6C"
contract:
  addresses:
    "111": "0x1111111111111111111111111111111111111111"
gas:
  call-gas-limit: 300000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aaclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	conf, err := Load(writeConfig(t, testConfig), viper.New())
	require.NoError(t, err)

	require.Equal(t, "http://127.0.0.1:3000/rpc", conf.BundlerURL)
	require.Equal(t, uint64(111), conf.ChainID)
	// Untouched keys keep their defaults.
	require.Equal(t, DefaultConfig().EntryPoint, conf.EntryPoint)
	require.Equal(t, DefaultConfig().Paymaster.FeeToken, conf.Paymaster.FeeToken)

	clientCfg, err := conf.ClientConfig()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x8b57d6ec08e09078Db50F265729440713E024C6a"), clientCfg.EntryPoint)
	require.Equal(t, common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454"), clientCfg.Factory.Address)
	require.Nil(t, clientCfg.Factory.InitCode)
	require.NotNil(t, clientCfg.Paymaster)
	require.Equal(t, common.HexToAddress("0x777FA19ea9e771018678161ABf2f1E2879D3cA6C"), *clientCfg.Paymaster)
	require.Nil(t, clientCfg.PaymasterFeeCap)
	require.Equal(t, big.NewInt(300_000), clientCfg.Gas.CallGasLimit)
	require.Nil(t, clientCfg.Gas.VerificationGasLimit)

	registry, err := conf.Registry()
	require.NoError(t, err)
	target, err := registry.Lookup(big.NewInt(111))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), target)
	_, err = registry.Lookup(big.NewInt(1))
	require.ErrorIs(t, err, aaclient.ErrUnknownChain)

	deposit, err := conf.DepositPolicy()
	require.NoError(t, err)
	require.Equal(t, aaclient.DefaultDepositPolicy(), deposit)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), viper.New())
	require.ErrorContains(t, err, "failed to read config file")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AACLIENT_BUNDLER_URL", "http://bundler.local/rpc")
	t.Setenv("AACLIENT_PAYMASTER_FEE_CAP", "5000")
	t.Setenv("AACLIENT_FACTORY_ADDRESS", "0x9406Cc6185a346906296840746125a0E44976454")

	conf, err := Load("", viper.New())
	require.NoError(t, err)
	require.Equal(t, "http://bundler.local/rpc", conf.BundlerURL)

	clientCfg, err := conf.ClientConfig()
	require.NoError(t, err)
	require.Nil(t, clientCfg.Paymaster)
	require.Equal(t, big.NewInt(5000), clientCfg.PaymasterFeeCap)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.Factory.Address = "0x9406Cc6185a346906296840746125a0E44976454"
		return c
	}
	badChains := map[string]string{"bob": "0x1111111111111111111111111111111111111111"}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with factory", mutate: func(*Config) {}},
		{
			name:    "bad entry point",
			mutate:  func(c *Config) { c.EntryPoint = "0x1234" },
			wantErr: "EntryPoint",
		},
		{
			name:    "bad paymaster",
			mutate:  func(c *Config) { c.Paymaster.Address = "paymaster" },
			wantErr: "Address",
		},
		{
			name:    "bad fee cap",
			mutate:  func(c *Config) { c.Paymaster.FeeCap = "-1" },
			wantErr: "FeeCap",
		},
		{
			name:    "bad contract chain id",
			mutate:  func(c *Config) { c.Contract.Addresses = badChains },
			wantErr: "Addresses",
		},
		{
			name:    "no factory",
			mutate:  func(c *Config) { c.Factory.Address = "" },
			wantErr: "factory.address or factory.bytecode-file is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "Level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFactoryRefFromBytecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.hex")
	require.NoError(t, os.WriteFile(path, []byte("0x6080604052\n"), 0o600))

	c := DefaultConfig()
	c.Factory.BytecodeFile = path
	entryPoint := common.HexToAddress(c.EntryPoint)

	ref, err := c.FactoryRef(entryPoint)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, ref.Address)
	require.Equal(t, aaclient.FactoryInitCode(common.FromHex("0x6080604052"), entryPoint), ref.InitCode)
}

func TestContractABIDefault(t *testing.T) {
	c := DefaultConfig()
	parsed, err := c.ContractABI()
	require.NoError(t, err)
	_, ok := parsed.Methods["vote"]
	require.True(t, ok)
}
