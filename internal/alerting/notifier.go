package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/matching"
	"comic-deal-alerts/internal/rules"
)

// Notification carries a match event to a delivery channel.
type Notification struct {
	RuleID       string
	SeriesID     string
	IssueNumber  string
	MinDealScore decimal.Decimal
	Deal         matching.DealRecord
	MatchedAt    time.Time
	Channels     []string
}

// FromMatch builds a notification for an event produced by rule.
func FromMatch(ev matching.MatchEvent, rule rules.AlertRule, channels []string) Notification {
	return Notification{
		RuleID:       ev.RuleID,
		SeriesID:     rule.SeriesID,
		IssueNumber:  rule.IssueNumber,
		MinDealScore: rule.MinDealScore,
		Deal:         ev.Deal,
		MatchedAt:    ev.MatchedAt,
		Channels:     channels,
	}
}

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("rule_id", note.RuleID).
		Str("listing_id", note.Deal.ListingID).
		Msg("alert delivered (telegram)")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification at info level.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info().
		Str("rule_id", note.RuleID).
		Str("series_id", note.SeriesID).
		Str("issue", note.IssueNumber).
		Str("listing_id", note.Deal.ListingID).
		Str("deal_score", note.Deal.DealScore.String()).
		Str("min_deal_score", note.MinDealScore.String()).
		Time("matched_at", note.MatchedAt).
		Msg("deal alert")
	return nil
}

// Fanout delivers to every notifier and joins their failures.
type Fanout []Notifier

// Notify calls each notifier in order; one failing channel does not stop the rest.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Comic Deal Alert]\n")
	title := note.Deal.Title
	if title == "" {
		title = note.SeriesID
	}
	builder.WriteString(fmt.Sprintf("%s #%s\n", title, note.IssueNumber))
	if note.Deal.Grade != "" {
		builder.WriteString(fmt.Sprintf("Grade: %s\n", note.Deal.Grade))
	}
	builder.WriteString(fmt.Sprintf("Deal score: %s%% off (alert at %s%%)\n", note.Deal.DealScore.StringFixed(2), note.MinDealScore.String()))
	if !note.Deal.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s", note.Deal.Price.StringFixed(2)))
		if !note.Deal.MarketValue.IsZero() {
			builder.WriteString(fmt.Sprintf(" (market %s)", note.Deal.MarketValue.StringFixed(2)))
		}
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("Matched: %s UTC\n", note.MatchedAt.UTC().Format(time.RFC3339)))
	if note.Deal.URL != "" {
		builder.WriteString(note.Deal.URL)
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("Rule: %s", note.RuleID))
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
