package feeBidder

import (
	"math/big"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
)

// maxUint128 bounds all fee arithmetic. Fee fields travel in uint128 wire
// slots, so saturating at this bound beats overflowing into garbage bids.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Eip1559Fees is a priority/max fee pair. Invariant after any bidder
// operation: MaxFeePerGas >= MaxPriorityFeePerGas + 1.
type Eip1559Fees struct {
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
}

// NewFees builds a fee pair from wei values.
func NewFees(priority, maxFee int64) Eip1559Fees {
	return Eip1559Fees{
		MaxPriorityFeePerGas: big.NewInt(priority),
		MaxFeePerGas:         big.NewInt(maxFee),
	}
}

// Clone deep-copies the pair so callers can mutate freely.
func (f Eip1559Fees) Clone() Eip1559Fees {
	return Eip1559Fees{
		MaxPriorityFeePerGas: cloneOrZero(f.MaxPriorityFeePerGas),
		MaxFeePerGas:         cloneOrZero(f.MaxFeePerGas),
	}
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// SaturatingAdd returns a+b clamped to the uint128 bound.
func SaturatingAdd(a, b *big.Int) *big.Int {
	sum := new(big.Int).Add(cloneOrZero(a), cloneOrZero(b))
	if sum.Cmp(maxUint128) > 0 {
		return new(big.Int).Set(maxUint128)
	}
	return sum
}

// SaturatingMul returns a*b clamped to the uint128 bound.
func SaturatingMul(a, b *big.Int) *big.Int {
	prod := new(big.Int).Mul(cloneOrZero(a), cloneOrZero(b))
	if prod.Cmp(maxUint128) > 0 {
		return new(big.Int).Set(maxUint128)
	}
	return prod
}

// PercentBump returns v scaled by pct/100, saturating. PercentBump(v, 125) is
// a 25% raise.
func PercentBump(v *big.Int, pct int64) *big.Int {
	scaled := SaturatingMul(v, big.NewInt(pct))
	return scaled.Div(scaled, big.NewInt(100))
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// WithRelayMinimumFeeFloor raises a fee pair to the sponsor relay's hard
// minimum tier and restores the max >= priority + 1 invariant.
func WithRelayMinimumFeeFloor(f Eip1559Fees) Eip1559Fees {
	out := f.Clone()
	out.MaxPriorityFeePerGas = maxBig(out.MaxPriorityFeePerGas, config.RelayMinPriorityFeePerGas)
	out.MaxFeePerGas = maxBig(out.MaxFeePerGas, config.RelayMinMaxFeePerGas)
	out.MaxFeePerGas = maxBig(out.MaxFeePerGas, SaturatingAdd(out.MaxPriorityFeePerGas, big.NewInt(1)))
	return out
}

// AggressivelyBumpFees raises both fields to max(v*1.25, v*2). The validity
// window is tens of seconds, so a gentle linear bump risks expiring before the
// replacement is accepted. The max fee is re-floored to priority + 1 gwei.
func AggressivelyBumpFees(f Eip1559Fees) Eip1559Fees {
	out := f.Clone()
	out.MaxPriorityFeePerGas = bumpValue(out.MaxPriorityFeePerGas)
	out.MaxFeePerGas = bumpValue(out.MaxFeePerGas)
	out.MaxFeePerGas = maxBig(out.MaxFeePerGas, SaturatingAdd(out.MaxPriorityFeePerGas, config.OneGwei))
	return out
}

func bumpValue(v *big.Int) *big.Int {
	return maxBig(
		PercentBump(v, 125),
		SaturatingMul(v, big.NewInt(2)),
	)
}
