// Package dealscore rates a listing's discount against its market median.
package dealscore

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Flag values attached to a score.
const (
	FlagLowConfidence = "LOW_CONFIDENCE"
	FlagLowSampleSize = "LOW_SAMPLE_SIZE"
	FlagAboveMarket   = "ABOVE_MARKET"
	FlagExcellentDeal = "EXCELLENT_DEAL"
	FlagGoodDeal      = "GOOD_DEAL"
	FlagFairDeal      = "FAIR_DEAL"
	FlagPoorDeal      = "POOR_DEAL"
)

// MinSamples is the sample count below which market data is considered thin.
const MinSamples = 5

var (
	hundred   = decimal.NewFromInt(100)
	excellent = decimal.NewFromInt(50)
	good      = decimal.NewFromInt(25)
)

// Listing is the asking side of a deal.
type Listing struct {
	Price    decimal.Decimal
	Shipping decimal.Decimal
}

// MarketValue is the reference side of a deal, supplied by the catalog.
type MarketValue struct {
	Median        decimal.Decimal
	SampleCount   int
	LowConfidence bool
}

// Info is the computed score with its qualifiers.
type Info struct {
	Score       decimal.Decimal
	LowData     bool
	AboveMarket bool
	Flags       []string
}

// Compute derives the percentage-off score, clamped to [0, 100] and rounded
// to two places.
func Compute(l Listing, mv MarketValue) (Info, error) {
	if l.Price.IsNegative() || l.Shipping.IsNegative() {
		return Info{}, errors.New("listing price and shipping must be non-negative")
	}
	if !mv.Median.IsPositive() {
		return Info{}, fmt.Errorf("market median must be positive, got %s", mv.Median)
	}
	if mv.SampleCount < 0 {
		return Info{}, fmt.Errorf("market sample count must be non-negative, got %d", mv.SampleCount)
	}

	total := l.Price.Add(l.Shipping)
	raw := hundred.Mul(decimal.NewFromInt(1).Sub(total.Div(mv.Median)))
	clamped := decimal.Max(decimal.Zero, decimal.Min(hundred, raw))
	score := clamped.Round(2)

	info := Info{
		Score:       score,
		LowData:     mv.LowConfidence || mv.SampleCount < MinSamples,
		AboveMarket: total.GreaterThan(mv.Median),
	}

	if mv.LowConfidence {
		info.Flags = append(info.Flags, FlagLowConfidence)
	}
	if mv.SampleCount < MinSamples {
		info.Flags = append(info.Flags, FlagLowSampleSize)
	}
	if info.AboveMarket {
		info.Flags = append(info.Flags, FlagAboveMarket)
	}

	// band from the unrounded score so 49.996 stays a good deal
	switch {
	case clamped.GreaterThanOrEqual(excellent):
		info.Flags = append(info.Flags, FlagExcellentDeal)
	case clamped.GreaterThanOrEqual(good):
		info.Flags = append(info.Flags, FlagGoodDeal)
	case clamped.IsPositive():
		info.Flags = append(info.Flags, FlagFairDeal)
	default:
		info.Flags = append(info.Flags, FlagPoorDeal)
	}

	return info, nil
}
