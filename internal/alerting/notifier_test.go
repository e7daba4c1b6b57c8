package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/matching"
	"comic-deal-alerts/internal/rules"
)

func testNotification() Notification {
	rule := rules.AlertRule{ID: "r1", SeriesID: "amazing-spider-man-1963", IssueNumber: "300", MinDealScore: decimal.NewFromInt(20), Status: rules.StatusActive}
	ev := matching.MatchEvent{
		RuleID: "r1",
		Deal: matching.DealRecord{
			ListingID:   "l1",
			SeriesID:    "amazing-spider-man-1963",
			IssueNumber: "300",
			DealScore:   decimal.NewFromInt(23),
			Title:       "Amazing Spider-Man",
			Grade:       "9.4",
			Price:       decimal.NewFromInt(770),
			MarketValue: decimal.NewFromInt(1000),
			URL:         "https://example.com/l1",
		},
		MatchedAt: time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	return FromMatch(ev, rule, []string{"telegram"})
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "Amazing Spider-Man #300") {
		t.Fatalf("text should name the comic: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestRenderMessage(t *testing.T) {
	text := RenderMessage(testNotification())
	for _, want := range []string{
		"Grade: 9.4",
		"Deal score: 23.00% off (alert at 20%)",
		"Price: 770.00 (market 1000.00)",
		"Matched: 2024-05-04T12:00:00Z UTC",
		"https://example.com/l1",
		"Rule: r1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(ctx context.Context, note Notification) error {
	f.calls++
	return errors.New("boom")
}

func TestFanoutContinuesAfterFailure(t *testing.T) {
	first := &failingNotifier{}
	second := &failingNotifier{}
	err := Fanout{first, NewLogNotifier(testLogger()), second}.Notify(context.Background(), testNotification())
	if err == nil {
		t.Fatal("fanout should surface failures")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("every notifier should be called once: %d %d", first.calls, second.calls)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
