package aaclient

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ContractRegistry maps chain ids to the deployed target contract. It is
// built once from configuration and only read afterwards.
type ContractRegistry struct {
	byChain  map[uint64]common.Address
	fallback *common.Address
}

// NewContractRegistry copies addresses into a registry. fallback, if not nil,
// answers chains without an entry.
func NewContractRegistry(addresses map[uint64]common.Address, fallback *common.Address) *ContractRegistry {
	byChain := make(map[uint64]common.Address, len(addresses))
	for id, addr := range addresses {
		byChain[id] = addr
	}
	return &ContractRegistry{byChain: byChain, fallback: fallback}
}

// Lookup returns the contract deployed on chainID.
func (r *ContractRegistry) Lookup(chainID *big.Int) (common.Address, error) {
	if chainID != nil && chainID.IsUint64() {
		if addr, ok := r.byChain[chainID.Uint64()]; ok {
			return addr, nil
		}
	}
	if r.fallback != nil {
		return *r.fallback, nil
	}
	return common.Address{}, fmt.Errorf("%w %s", ErrUnknownChain, chainID)
}
