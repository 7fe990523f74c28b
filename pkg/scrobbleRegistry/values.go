package scrobbleRegistry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EncodeValues packs typed values against a list of Solidity type names.
// Used to build synthetic return payloads in tests and relay fixtures.
func EncodeValues(typeNames []string, values ...interface{}) ([]byte, error) {
	args, err := buildArguments(typeNames)
	if err != nil {
		return nil, err
	}
	data, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack values: %w", err)
	}
	return data, nil
}

// DecodeValues unpacks data against a list of Solidity type names.
func DecodeValues(typeNames []string, data []byte) ([]interface{}, error) {
	args, err := buildArguments(typeNames)
	if err != nil {
		return nil, err
	}
	out, err := args.Unpack(data)
	if err != nil {
		return nil, &DecodeError{Method: "values", Cause: err}
	}
	return out, nil
}

func buildArguments(typeNames []string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid abi type %q: %w", name, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}
