package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/queue"
)

func testItem() queue.Item {
	return queue.Item{
		ID:       "ALERT|TELEGRAM|F_abc",
		Text:     "REC -> GRU | 15/02/2026\nBest price R$ 550",
		Group:    "deals-general",
		Priority: 92,
	}
}

func TestTelegramDeliverSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path %s should contain sendMessage", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	d := NewTelegramDeliverer(TelegramOptions{
		BotToken: "token",
		ChatIDs:  map[string]string{"deals-general": "-100123"},
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, zerolog.Nop())

	if err := d.Deliver(context.Background(), testItem()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if received["chat_id"] != "-100123" {
		t.Errorf("chat_id = %q, want -100123", received["chat_id"])
	}
	if !strings.Contains(received["text"], "R$ 550") {
		t.Errorf("text = %q, want alert body", received["text"])
	}
}

func TestTelegramDeliverUnknownGroup(t *testing.T) {
	d := NewTelegramDeliverer(TelegramOptions{
		BotToken: "token",
		ChatIDs:  map[string]string{"deals-general": "-100123"},
	}, zerolog.Nop())

	item := testItem()
	item.Group = "deals-intl"
	if err := d.Deliver(context.Background(), item); err == nil {
		t.Fatal("Deliver() = nil error, want unmapped group error")
	}
}

func TestTelegramDeliverAPIRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	d := NewTelegramDeliverer(TelegramOptions{
		BotToken: "token",
		ChatIDs:  map[string]string{"deals-general": "-100123"},
		BaseURL:  srv.URL,
	}, zerolog.Nop())

	if err := d.Deliver(context.Background(), testItem()); err == nil {
		t.Fatal("Deliver() = nil error, want ok=false error")
	}
}
