package chainReader

import (
	"testing"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRPCMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		expected types.ErrorKind
	}{
		{
			name:     "geth underpriced replacement",
			msg:      "replacement transaction underpriced",
			expected: types.ErrorKindUnderpricedReplacement,
		},
		{
			name:     "underpriced with surrounding text",
			msg:      "err: replacement transaction underpriced: new tx gas fee cap 2000000",
			expected: types.ErrorKindUnderpricedReplacement,
		},
		{
			name:     "short provider variant",
			msg:      "REPLACEMENT UNDERPRICED",
			expected: types.ErrorKindUnderpricedReplacement,
		},
		{
			name:     "unauthorized session key",
			msg:      "execution reverted: unauthorized key",
			expected: types.ErrorKindKeyAuthorization,
		},
		{
			name:     "expired session key",
			msg:      "session key expired",
			expected: types.ErrorKindKeyAuthorization,
		},
		{
			name:     "invalid signature",
			msg:      "invalid signature length",
			expected: types.ErrorKindKeyAuthorization,
		},
		{
			name:     "plain underpriced is not a replacement rejection",
			msg:      "transaction underpriced",
			expected: types.ErrorKindRPCResponse,
		},
		{
			name:     "unrelated revert",
			msg:      "execution reverted: track not found",
			expected: types.ErrorKindRPCResponse,
		},
		{
			name:     "empty message",
			msg:      "",
			expected: types.ErrorKindRPCResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyRPCMessage(tt.msg))
		})
	}
}
