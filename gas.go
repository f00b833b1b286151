package aaclient

import "math/big"

// GasPolicy supplies the gas limits and fees written into every built
// operation. Values are fixed rather than estimated; override them per client
// with WithGasPolicy or through configuration.
type GasPolicy struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	// DeployVerificationGasLimit replaces VerificationGasLimit when the
	// operation carries initCode and deploys the account.
	DeployVerificationGasLimit *big.Int
	PreVerificationGas         *big.Int
	MaxFeePerGas               *big.Int
	MaxPriorityFeePerGas       *big.Int
}

// DefaultGasPolicy returns the fixed gas constants used by the voting dApp
// deployment.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		CallGasLimit:               big.NewInt(200_000),
		VerificationGasLimit:       big.NewInt(150_000),
		DeployVerificationGasLimit: big.NewInt(1_000_000),
		PreVerificationGas:         big.NewInt(50_000),
		MaxFeePerGas:               big.NewInt(0x6507a5d0),
		MaxPriorityFeePerGas:       big.NewInt(0x6507a5c0),
	}
}

// withDefaults fills unset fields from DefaultGasPolicy.
func (p GasPolicy) withDefaults() GasPolicy {
	def := DefaultGasPolicy()
	pick := func(v, d *big.Int) *big.Int {
		if v == nil {
			return d
		}
		return v
	}
	return GasPolicy{
		CallGasLimit:               pick(p.CallGasLimit, def.CallGasLimit),
		VerificationGasLimit:       pick(p.VerificationGasLimit, def.VerificationGasLimit),
		DeployVerificationGasLimit: pick(p.DeployVerificationGasLimit, def.DeployVerificationGasLimit),
		PreVerificationGas:         pick(p.PreVerificationGas, def.PreVerificationGas),
		MaxFeePerGas:               pick(p.MaxFeePerGas, def.MaxFeePerGas),
		MaxPriorityFeePerGas:       pick(p.MaxPriorityFeePerGas, def.MaxPriorityFeePerGas),
	}
}

// apply writes the policy into op. Values are copied so later edits of op do
// not leak back into the policy.
func (p GasPolicy) apply(op *UserOperation) {
	verification := p.VerificationGasLimit
	if len(op.InitCode) > 0 {
		verification = p.DeployVerificationGasLimit
	}
	op.CallGasLimit = new(big.Int).Set(p.CallGasLimit)
	op.VerificationGasLimit = new(big.Int).Set(verification)
	op.PreVerificationGas = new(big.Int).Set(p.PreVerificationGas)
	op.MaxFeePerGas = new(big.Int).Set(p.MaxFeePerGas)
	op.MaxPriorityFeePerGas = new(big.Int).Set(p.MaxPriorityFeePerGas)
}
