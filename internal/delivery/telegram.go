package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/queue"
)

// TelegramOptions parameterise the Telegram deliverer. ChatIDs maps
// recipient group names to Telegram chat ids.
type TelegramOptions struct {
	BotToken string
	ChatIDs  map[string]string
	BaseURL  string
	Timeout  time.Duration
}

// TelegramDeliverer pushes messages through the Telegram Bot API.
type TelegramDeliverer struct {
	botToken string
	chatIDs  map[string]string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramDeliverer constructs a Telegram deliverer.
func NewTelegramDeliverer(opts TelegramOptions, logger zerolog.Logger) *TelegramDeliverer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramDeliverer{
		botToken: opts.BotToken,
		chatIDs:  opts.ChatIDs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_delivery").Logger(),
	}
}

// Deliver sends the item text to the chat mapped to its group.
func (d *TelegramDeliverer) Deliver(ctx context.Context, item queue.Item) error {
	chatID, ok := d.chatIDs[item.Group]
	if !ok {
		return fmt.Errorf("no chat id configured for group %q", item.Group)
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    item.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.baseURL, d.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	d.logger.Info().
		Str("id", item.ID).
		Str("group", item.Group).
		Int("priority", item.Priority).
		Msg("alert delivered")
	return nil
}

var _ Deliverer = (*TelegramDeliverer)(nil)
