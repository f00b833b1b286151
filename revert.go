package aaclient

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// selectorHexEnd is the offset in a 0x-prefixed hex string where the 4-byte
// selector ends.
const selectorHexEnd = 10

var revertReasonArgs = abi.Arguments{{Type: mustNewType("string")}}

// DecodeRevertReason extracts the message of an ABI-encoded Error(string)
// revert payload given as a 0x-prefixed hex string.
// The 4-byte selector is dropped without being checked and the remainder is
// decoded as a single string. A string that is not valid UTF-8 does not
// decode.
//
// Returns:
//   - string: the decoded message, or "" if the payload does not decode.
func DecodeRevertReason(data string) string {
	if len(data) < selectorHexEnd || !has0xPrefix([]byte(data)) {
		return ""
	}
	payload, err := hexutil.Decode(data[:2] + data[selectorHexEnd:])
	if err != nil {
		return ""
	}
	values, err := revertReasonArgs.Unpack(payload)
	if err != nil || len(values) != 1 {
		return ""
	}
	reason, ok := values[0].(string)
	if !ok || !utf8.ValidString(reason) {
		return ""
	}
	return reason
}

// RevertFromError returns a RevertError when err carries revert data in its
// JSON-RPC error payload, and nil otherwise.
func RevertFromError(err error) *RevertError {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}
	data := revertData(dataErr.ErrorData())
	if data == "" {
		return nil
	}
	return &RevertError{
		Reason: DecodeRevertReason(data),
		Data:   data,
		Err:    err,
	}
}

// revertData digs the hex payload out of the shapes nodes and bundlers use:
// a bare string, {"data": ...} or {"originalError": {"data": ...}}.
func revertData(v interface{}) string {
	switch d := v.(type) {
	case string:
		if has0xPrefix([]byte(d)) {
			return d
		}
	case map[string]interface{}:
		if inner, ok := d["originalError"]; ok {
			if data := revertData(inner); data != "" {
				return data
			}
		}
		if inner, ok := d["data"]; ok {
			return revertData(inner)
		}
	}
	return ""
}

// ErrorMessage returns the user-visible text for err: the decoded revert
// reason when there is one, the fallback message for undecodable reverts,
// and the error text otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return revertErr.Message()
	}
	if revert := RevertFromError(err); revert != nil {
		return revert.Message()
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return OperationFailedMsg
}
