package feeBidder

import (
	"math/big"
	"testing"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRelayMinimumFeeFloor_RaisesToFloor(t *testing.T) {
	tests := []struct {
		name             string
		in               Eip1559Fees
		expectedPriority *big.Int
		expectedMaxFee   *big.Int
	}{
		{
			name:             "zero fees get the full floor",
			in:               NewFees(0, 0),
			expectedPriority: config.RelayMinPriorityFeePerGas,
			expectedMaxFee:   config.RelayMinMaxFeePerGas,
		},
		{
			name:             "fees above the floor pass through",
			in:               NewFees(5_000_000, 10_000_000),
			expectedPriority: big.NewInt(5_000_000),
			expectedMaxFee:   big.NewInt(10_000_000),
		},
		{
			name:             "priority above floor drags max fee to priority plus one",
			in:               NewFees(50_000_000, 0),
			expectedPriority: big.NewInt(50_000_000),
			expectedMaxFee:   big.NewInt(50_000_001),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := WithRelayMinimumFeeFloor(tt.in)
			assert.Equal(t, 0, out.MaxPriorityFeePerGas.Cmp(tt.expectedPriority))
			assert.Equal(t, 0, out.MaxFeePerGas.Cmp(tt.expectedMaxFee))
		})
	}
}

func TestWithRelayMinimumFeeFloor_Invariants(t *testing.T) {
	// maxFee >= max(input maxFee, floor) and maxFee >= priority + 1 for a
	// spread of inputs.
	inputs := []Eip1559Fees{
		NewFees(0, 0),
		NewFees(1, 1),
		NewFees(1_000_000, 1_000_000),
		NewFees(999_999_999, 1),
		NewFees(0, 999_999_999_999),
	}
	for _, in := range inputs {
		out := WithRelayMinimumFeeFloor(in)
		assert.True(t, out.MaxFeePerGas.Cmp(in.MaxFeePerGas) >= 0)
		assert.True(t, out.MaxFeePerGas.Cmp(config.RelayMinMaxFeePerGas) >= 0)
		minMax := new(big.Int).Add(out.MaxPriorityFeePerGas, big.NewInt(1))
		assert.True(t, out.MaxFeePerGas.Cmp(minMax) >= 0)
	}
}

func TestAggressivelyBumpFees_StrictlyGreater(t *testing.T) {
	inputs := []Eip1559Fees{
		NewFees(1, 2),
		NewFees(1_000_000, 2_000_000),
		NewFees(1_000_000_000, 3_000_000_000),
	}
	for _, in := range inputs {
		out := AggressivelyBumpFees(in)
		assert.Equal(t, 1, out.MaxPriorityFeePerGas.Cmp(in.MaxPriorityFeePerGas),
			"priority must strictly increase")
		assert.Equal(t, 1, out.MaxFeePerGas.Cmp(in.MaxFeePerGas),
			"max fee must strictly increase")
	}
}

func TestAggressivelyBumpFees_RefloorsMaxFee(t *testing.T) {
	// Doubling priority can overtake a barely-higher max fee; the bump must
	// restore max >= priority + 1 gwei.
	out := AggressivelyBumpFees(NewFees(10_000_000_000, 10_000_000_001))
	minMax := new(big.Int).Add(out.MaxPriorityFeePerGas, config.OneGwei)
	assert.True(t, out.MaxFeePerGas.Cmp(minMax) >= 0)
}

func TestAggressivelyBumpFees_SmallValuesDouble(t *testing.T) {
	// At small magnitudes the x2 arm dominates the +25% arm.
	out := AggressivelyBumpFees(NewFees(100, 5_000_000_000))
	assert.Equal(t, int64(200), out.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(10_000_000_000), out.MaxFeePerGas.Int64())
}

func TestSaturatingArithmetic_ClampsAtUint128(t *testing.T) {
	nearMax := new(big.Int).Sub(maxUint128, big.NewInt(10))

	sum := SaturatingAdd(nearMax, big.NewInt(100))
	assert.Equal(t, 0, sum.Cmp(maxUint128))

	prod := SaturatingMul(nearMax, big.NewInt(2))
	assert.Equal(t, 0, prod.Cmp(maxUint128))

	bumped := AggressivelyBumpFees(Eip1559Fees{
		MaxPriorityFeePerGas: new(big.Int).Set(maxUint128),
		MaxFeePerGas:         new(big.Int).Set(maxUint128),
	})
	assert.Equal(t, 0, bumped.MaxPriorityFeePerGas.Cmp(maxUint128))
	assert.Equal(t, 0, bumped.MaxFeePerGas.Cmp(maxUint128))
}

func TestSaturatingAdd_NilOperands(t *testing.T) {
	sum := SaturatingAdd(nil, big.NewInt(5))
	require.NotNil(t, sum)
	assert.Equal(t, int64(5), sum.Int64())
}

func TestClone_Isolates(t *testing.T) {
	original := NewFees(100, 200)
	clone := original.Clone()
	clone.MaxFeePerGas.SetInt64(999)
	assert.Equal(t, int64(200), original.MaxFeePerGas.Int64())
}

func TestPercentBump(t *testing.T) {
	assert.Equal(t, int64(125), PercentBump(big.NewInt(100), 125).Int64())
	assert.Equal(t, int64(0), PercentBump(big.NewInt(0), 125).Int64())
}
