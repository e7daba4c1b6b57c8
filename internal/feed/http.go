package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"comic-deal-alerts/internal/matching"
)

const (
	defaultPath = "/deals"

	// maxBodyBytes caps one feed page.
	maxBodyBytes = 16 << 20

	errorExcerptRunes = 200
)

// HTTPOptions parameterise the HTTP deal feed.
type HTTPOptions struct {
	BaseURL   string
	Path      string
	Limit     int
	Timeout   time.Duration
	UserAgent string
}

// HTTP pulls deals from a JSON endpoint.
type HTTP struct {
	opts     HTTPOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
}

// NewHTTP constructs an HTTP deal feed.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &HTTP{
		opts:     opts,
		logger:   logger.With().Str("component", "deal_feed").Logger(),
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(opts.BaseURL, "/") + path,
	}
}

// FetchDeals retrieves the current deal page and converts it to records.
func (h *HTTP) FetchDeals(ctx context.Context) ([]matching.DealRecord, error) {
	if strings.TrimSpace(h.opts.BaseURL) == "" {
		return nil, fmt.Errorf("deal feed base url not configured")
	}

	endpoint, err := url.Parse(h.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if h.opts.Limit > 0 {
		q := endpoint.Query()
		q.Set("limit", strconv.Itoa(h.opts.Limit))
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch deals: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	if len(payload) > maxBodyBytes {
		return nil, fmt.Errorf("feed body exceeds %d bytes", maxBodyBytes)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode feed body: %w", err)
	}

	records := doc.Records(h.logger)
	h.logger.Debug().Int("received", len(doc.Deals)).Int("usable", len(records)).Msg("deal page fetched")
	return records, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("deal feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("deal feed error (%d): %s", status, apiErr.Error)
		}
	}
	body := excerpt(strings.TrimSpace(string(payload)), errorExcerptRunes)
	if body != "" {
		return fmt.Errorf("deal feed error (%d): %s", status, body)
	}
	return fmt.Errorf("deal feed error (%d)", status)
}

// excerpt truncates s to at most n runes.
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var _ Source = (*HTTP)(nil)
