package chainReader

import (
	"bytes"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CodeReader is the slice of IChainReader the probe needs.
type CodeReader interface {
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
}

// CapabilityProbe detects whether a deployed contract supports an optional
// function by scanning its bytecode for the function selector. Older registry
// deployments predate the metadata setters; the probe keeps the engine from
// ever invoking a function the contract doesn't have. Results are memoized
// for the process lifetime since deployed bytecode doesn't change.
//
// Selector scanning is a pragmatic mechanism, not a proof: a selector byte
// sequence could in principle appear in unrelated code or data.
type CapabilityProbe struct {
	reader CodeReader
	logger *zap.Logger

	mu   sync.Mutex
	memo map[common.Address]map[[4]byte]bool
}

func NewCapabilityProbe(reader CodeReader, logger *zap.Logger) *CapabilityProbe {
	return &CapabilityProbe{
		reader: reader,
		logger: logger,
		memo:   make(map[common.Address]map[[4]byte]bool),
	}
}

// SupportsSelector reports whether the contract at addr exposes the function
// with the given selector. The first probe per (contract, selector) pair hits
// the network; subsequent probes are served from memory.
func (p *CapabilityProbe) SupportsSelector(ctx context.Context, contract common.Address, selector [4]byte) (bool, error) {
	p.mu.Lock()
	if bySelector, ok := p.memo[contract]; ok {
		if supported, ok := bySelector[selector]; ok {
			p.mu.Unlock()
			return supported, nil
		}
	}
	p.mu.Unlock()

	code, err := p.reader.GetCode(ctx, contract)
	if err != nil {
		return false, err
	}
	supported := bytes.Contains(code, selector[:])

	p.mu.Lock()
	if _, ok := p.memo[contract]; !ok {
		p.memo[contract] = make(map[[4]byte]bool)
	}
	p.memo[contract][selector] = supported
	p.mu.Unlock()

	p.logger.Sugar().Debugw("CapabilityProbe: probed selector",
		"contract", contract.Hex(),
		"selector", common.Bytes2Hex(selector[:]),
		"supported", supported,
	)
	return supported, nil
}
