package dealscore

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var healthyMarket = MarketValue{Median: dec("200"), SampleCount: 10}

func TestComputeGoodDeal(t *testing.T) {
	info, err := Compute(Listing{Price: dec("100"), Shipping: dec("10")}, healthyMarket)
	require.NoError(t, err)
	assert.True(t, info.Score.Equal(dec("45")), "score %s", info.Score)
	assert.False(t, info.AboveMarket)
	assert.False(t, info.LowData)
	assert.Equal(t, []string{FlagGoodDeal}, info.Flags)
}

func TestComputeExcellentDeal(t *testing.T) {
	info, err := Compute(Listing{Price: dec("50"), Shipping: dec("10")}, healthyMarket)
	require.NoError(t, err)
	assert.True(t, info.Score.Equal(dec("70")))
	assert.Contains(t, info.Flags, FlagExcellentDeal)
}

func TestComputeClampsAboveMarketToZero(t *testing.T) {
	info, err := Compute(Listing{Price: dec("180"), Shipping: dec("30")}, healthyMarket)
	require.NoError(t, err)
	assert.True(t, info.Score.IsZero())
	assert.True(t, info.AboveMarket)
	assert.Contains(t, info.Flags, FlagAboveMarket)
	assert.Contains(t, info.Flags, FlagPoorDeal)
}

func TestComputeFreeListingScoresHundred(t *testing.T) {
	info, err := Compute(Listing{Price: dec("0"), Shipping: dec("0")}, healthyMarket)
	require.NoError(t, err)
	assert.True(t, info.Score.Equal(dec("100")))
}

func TestComputeRoundsToTwoPlaces(t *testing.T) {
	info, err := Compute(Listing{Price: dec("100"), Shipping: dec("0")}, MarketValue{Median: dec("300"), SampleCount: 10})
	require.NoError(t, err)
	assert.Equal(t, "66.67", info.Score.String())
	assert.Contains(t, info.Flags, FlagExcellentDeal)
}

func TestComputeBandUsesUnroundedScore(t *testing.T) {
	info, err := Compute(Listing{Price: dec("5000.4"), Shipping: dec("0")}, MarketValue{Median: dec("10000"), SampleCount: 10})
	require.NoError(t, err)
	assert.Equal(t, "50", info.Score.String())
	assert.Equal(t, []string{FlagGoodDeal}, info.Flags)
}

func TestComputeLowDataFlags(t *testing.T) {
	info, err := Compute(Listing{Price: dec("190"), Shipping: dec("0")}, MarketValue{Median: dec("200"), SampleCount: 2, LowConfidence: true})
	require.NoError(t, err)
	assert.True(t, info.LowData)
	assert.Equal(t, []string{FlagLowConfidence, FlagLowSampleSize, FlagFairDeal}, info.Flags)
}

func TestComputeRejectsBadInput(t *testing.T) {
	_, err := Compute(Listing{Price: dec("-1")}, healthyMarket)
	assert.Error(t, err)
	_, err = Compute(Listing{Price: dec("1")}, MarketValue{Median: dec("0")})
	assert.Error(t, err)
	_, err = Compute(Listing{Price: dec("1")}, MarketValue{Median: dec("10"), SampleCount: -1})
	assert.Error(t, err)
}
