// Package notify delivers operator alerts to a Telegram chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Telegram posts HTML messages through the Bot API.
type Telegram struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewTelegram creates a client. It returns nil when either credential is
// empty; a nil *Telegram sends nothing.
func NewTelegram(botToken, chatID string) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether messages will actually be sent.
func (t *Telegram) Enabled() bool { return t != nil }

// Send posts msg to the configured chat.
func (t *Telegram) Send(ctx context.Context, msg string) error {
	if t == nil {
		return nil
	}

	endpoint := t.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	}
	form := url.Values{
		"chat_id":                  {t.chatID},
		"text":                     {msg},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}
