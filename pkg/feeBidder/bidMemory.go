package feeBidder

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// BidMemory remembers the highest fees ever bid per sending address for the
// lifetime of the process. A second submission for the same address must never
// under-bid a prior in-flight one, or the network rejects it as an underpriced
// replacement. The store is owned by the engine instance, not a package-level
// singleton, so tests inject a fresh one per case.
type BidMemory struct {
	mu   sync.Mutex
	bids map[common.Address]Eip1559Fees
}

func NewBidMemory() *BidMemory {
	return &BidMemory{
		bids: make(map[common.Address]Eip1559Fees),
	}
}

// WithAddressBidFloor raises f to at least the remembered bid for addr, per
// field. f is returned unchanged when no bid is remembered.
func (m *BidMemory) WithAddressBidFloor(addr common.Address, f Eip1559Fees) Eip1559Fees {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := f.Clone()
	remembered, ok := m.bids[addr]
	if !ok {
		return out
	}
	out.MaxPriorityFeePerGas = maxBig(out.MaxPriorityFeePerGas, remembered.MaxPriorityFeePerGas)
	out.MaxFeePerGas = maxBig(out.MaxFeePerGas, remembered.MaxFeePerGas)
	return out
}

// RememberBid records f for addr, monotonically per field. Called after every
// submission attempt and after every explicit bump.
func (m *BidMemory) RememberBid(addr common.Address, f Eip1559Fees) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bids[addr]
	if !ok {
		m.bids[addr] = f.Clone()
		return
	}
	m.bids[addr] = Eip1559Fees{
		MaxPriorityFeePerGas: maxBig(current.MaxPriorityFeePerGas, cloneOrZero(f.MaxPriorityFeePerGas)),
		MaxFeePerGas:         maxBig(current.MaxFeePerGas, cloneOrZero(f.MaxFeePerGas)),
	}
}

// RememberedBid returns the current remembered bid for addr.
func (m *BidMemory) RememberedBid(addr common.Address) (Eip1559Fees, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.bids[addr]
	if !ok {
		return Eip1559Fees{}, false
	}
	return f.Clone(), true
}
