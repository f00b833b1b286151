package aaclient

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Custom validation for Ethereum address using go-playground validator.
func validEthAddress(fl validator.FieldLevel) bool {
	address := fl.Field().String()
	return common.IsHexAddress(address)
}

// validOptEthAddress accepts an empty string or a valid address.
func validOptEthAddress(fl validator.FieldLevel) bool {
	address := fl.Field().String()
	return address == "" || common.IsHexAddress(address)
}

// Custom validation for ChainID to ensure it's positive. Accepts *big.Int,
// unsigned integers and decimal strings.
func validChainID(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case *big.Int:
		return v != nil && v.Sign() > 0
	case big.Int:
		return v.Sign() > 0
	case uint64:
		return v > 0
	case string:
		id, ok := new(big.Int).SetString(v, 10)
		return ok && id.Sign() > 0
	default:
		return false
	}
}

// validOptionalInt checks if the field is either empty or a valid integer.
func validOptionalInt(fl validator.FieldLevel) bool {
	fieldValue := fl.Field().String()
	if fieldValue == "" {
		return true
	}
	_, err := strconv.Atoi(fieldValue)
	return err == nil
}

// validOptWei checks if the field is either empty or a non-negative decimal
// integer of any size.
func validOptWei(fl validator.FieldLevel) bool {
	fieldValue := fl.Field().String()
	if fieldValue == "" {
		return true
	}
	v, ok := new(big.Int).SetString(fieldValue, 10)
	return ok && v.Sign() >= 0
}

// validHexBytes checks for a 0x-prefixed, even length hex string.
func validHexBytes(fl validator.FieldLevel) bool {
	_, err := hexutil.Decode(fl.Field().String())
	return err == nil
}

// RegisterValidators adds the custom tags (eth_addr, opt_eth_addr, chain_id,
// opt_int, opt_wei, hex_bytes) to v.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("eth_addr", validEthAddress); err != nil {
		return fmt.Errorf("failed to register validator for eth_addr: %w", err)
	}
	if err := v.RegisterValidation("opt_eth_addr", validOptEthAddress); err != nil {
		return fmt.Errorf("failed to register validator for opt_eth_addr: %w", err)
	}
	if err := v.RegisterValidation("chain_id", validChainID); err != nil {
		return fmt.Errorf("failed to register validator for chain_id: %w", err)
	}
	if err := v.RegisterValidation("opt_int", validOptionalInt); err != nil {
		return fmt.Errorf("failed to register validator for 'opt_int': %w", err)
	}
	if err := v.RegisterValidation("opt_wei", validOptWei); err != nil {
		return fmt.Errorf("failed to register validator for opt_wei: %w", err)
	}
	if err := v.RegisterValidation("hex_bytes", validHexBytes); err != nil {
		return fmt.Errorf("failed to register validator for hex_bytes: %w", err)
	}
	return nil
}

// NewValidator registers the custom validators with gin's binding engine.
func NewValidator() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return RegisterValidators(v)
	}
	return nil
}
