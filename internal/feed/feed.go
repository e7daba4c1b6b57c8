package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/dealscore"
	"comic-deal-alerts/internal/matching"
)

// Source supplies deal records to the match engine.
type Source interface {
	FetchDeals(ctx context.Context) ([]matching.DealRecord, error)
}

// Document is the wire format shared by the HTTP feed and recorded feed files.
type Document struct {
	Deals []Item `json:"deals"`
}

// Item is a single listing as published by the feed. Either DealScore is
// set, or Price and MarketValue are set and the score is derived.
type Item struct {
	ListingID   string           `json:"listingId"`
	SeriesID    string           `json:"seriesId"`
	IssueNumber string           `json:"issueNumber"`
	Title       string           `json:"title"`
	Grade       string           `json:"grade"`
	URL         string           `json:"url"`
	DealScore   *decimal.Decimal `json:"dealScore"`
	Price       *decimal.Decimal `json:"price"`
	Shipping    *decimal.Decimal `json:"shipping"`
	MarketValue *MarketValue     `json:"marketValue"`
}

// MarketValue mirrors dealscore.MarketValue on the wire.
type MarketValue struct {
	Median        decimal.Decimal `json:"median"`
	SampleCount   int             `json:"sampleCount"`
	LowConfidence bool            `json:"lowConfidence"`
}

// Record converts an item into a deal record, deriving the score when the
// feed did not publish one.
func (it Item) Record() (matching.DealRecord, error) {
	rec := matching.DealRecord{
		ListingID:   it.ListingID,
		SeriesID:    it.SeriesID,
		IssueNumber: it.IssueNumber,
		Title:       it.Title,
		Grade:       it.Grade,
		URL:         it.URL,
	}
	if it.Price != nil {
		rec.Price = *it.Price
	}
	if it.MarketValue != nil {
		rec.MarketValue = it.MarketValue.Median
	}

	if it.DealScore != nil {
		rec.DealScore = *it.DealScore
		return rec, nil
	}

	if it.Price == nil || it.MarketValue == nil {
		return matching.DealRecord{}, fmt.Errorf("listing %s: neither dealScore nor price+marketValue present", it.ListingID)
	}

	listing := dealscore.Listing{Price: *it.Price}
	if it.Shipping != nil {
		listing.Shipping = *it.Shipping
	}
	info, err := dealscore.Compute(listing, dealscore.MarketValue{
		Median:        it.MarketValue.Median,
		SampleCount:   it.MarketValue.SampleCount,
		LowConfidence: it.MarketValue.LowConfidence,
	})
	if err != nil {
		return matching.DealRecord{}, fmt.Errorf("listing %s: %w", it.ListingID, err)
	}
	rec.DealScore = info.Score
	return rec, nil
}

// Records converts a document, skipping items that cannot be scored.
func (d Document) Records(logger zerolog.Logger) []matching.DealRecord {
	out := make([]matching.DealRecord, 0, len(d.Deals))
	for _, item := range d.Deals {
		rec, err := item.Record()
		if err != nil {
			logger.Warn().Err(err).Str("listing_id", item.ListingID).Msg("skipping unscorable listing")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Static serves a fixed set of deals.
type Static struct {
	Deals []matching.DealRecord
}

// FetchDeals returns the configured deals.
func (s *Static) FetchDeals(ctx context.Context) ([]matching.DealRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]matching.DealRecord, len(s.Deals))
	copy(out, s.Deals)
	return out, nil
}

// File reads a recorded feed document from disk.
type File struct {
	Path   string
	logger zerolog.Logger
}

// NewFile constructs a file-backed feed.
func NewFile(path string, logger zerolog.Logger) *File {
	return &File{Path: path, logger: logger.With().Str("component", "feed_file").Logger()}
}

// FetchDeals parses the file on every call.
func (f *File) FetchDeals(ctx context.Context) ([]matching.DealRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode feed file %s: %w", f.Path, err)
	}
	return doc.Records(f.logger), nil
}

var (
	_ Source = (*Static)(nil)
	_ Source = (*File)(nil)
)
