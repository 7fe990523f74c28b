package chainReader

import (
	"errors"
	"strings"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider error text varies; these fragments are the only string matching in
// the engine. Everything downstream works from ErrorKind.
var underpricedFragments = []string{
	"replacement transaction underpriced",
	"replacement underpriced",
}

var keyAuthorizationFragments = []string{
	"unauthorized key",
	"key authorization",
	"key not authorized",
	"invalid signature",
	"session key expired",
}

// ClassifyRPCMessage maps an RPC-level error message to an ErrorKind. This is
// the single place raw error text is inspected; the relay client routes its
// error bodies through it as well.
func ClassifyRPCMessage(msg string) types.ErrorKind {
	lowered := strings.ToLower(msg)
	for _, fragment := range underpricedFragments {
		if strings.Contains(lowered, fragment) {
			return types.ErrorKindUnderpricedReplacement
		}
	}
	for _, fragment := range keyAuthorizationFragments {
		if strings.Contains(lowered, fragment) {
			return types.ErrorKindKeyAuthorization
		}
	}
	return types.ErrorKindRPCResponse
}

// classifyError wraps a raw client error as a classified EngineError,
// distinguishing an unreachable endpoint from an RPC-level error object.
func classifyError(op string, err error) *types.EngineError {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		kind := ClassifyRPCMessage(rpcErr.Error())
		return types.WrapEngineError(kind, err, "%s rejected", op)
	}
	return types.WrapEngineError(types.ErrorKindRPCUnreachable, err, "%s transport failure", op)
}
