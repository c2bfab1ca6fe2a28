package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const telegramAPIBase = "https://api.telegram.org"

// Action is an inline button attached to a notification. Buttons carry
// plain URLs so the receiving app needs no callback round-trip.
type Action struct {
	Label string
	URL   string
}

// TelegramNotifier delivers operator alerts and user-facing notices
// through the Telegram Bot API.
type TelegramNotifier struct {
	apiBase     string
	token       string
	adminChatID int64
	httpClient  *http.Client
	breaker     *Breaker
}

func NewTelegramNotifier(token string, adminChatID int64, breaker *Breaker) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:     telegramAPIBase,
		token:       token,
		adminChatID: adminChatID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		breaker:     breaker,
	}
}

// Send posts an HTML-formatted message to the chat and returns the
// message ID. Telegram's error description is preserved in the returned
// error so callers can tell a blocked user apart from an outage.
func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, text string, actions []Action) (string, error) {
	if !n.breaker.Allow(n.apiBase) {
		return "", fmt.Errorf("circuit open for telegram API")
	}

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if len(actions) > 0 {
		row := make([]map[string]string, 0, len(actions))
		for _, action := range actions {
			row = append(row, map[string]string{"text": action.Label, "url": action.URL})
		}
		payload["reply_markup"] = map[string]interface{}{
			"inline_keyboard": []interface{}{row},
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, _ := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.breaker.RecordFailure(n.apiBase)
		return "", fmt.Errorf("failed to call telegram API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		n.breaker.RecordFailure(n.apiBase)
		return "", fmt.Errorf("failed to read telegram response: %w", err)
	}
	if resp.StatusCode >= 500 {
		n.breaker.RecordFailure(n.apiBase)
		return "", fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	result := gjson.ParseBytes(body)
	if !result.Get("ok").Bool() {
		// A rejected chat (blocked bot, deactivated account) is a reply
		// from a healthy API, not an outage.
		n.breaker.RecordSuccess(n.apiBase)
		return "", fmt.Errorf("telegram API error: %s", result.Get("description").String())
	}

	n.breaker.RecordSuccess(n.apiBase)
	return result.Get("result.message_id").String(), nil
}

// SendAdmin posts to the operator chat configured at startup.
func (n *TelegramNotifier) SendAdmin(ctx context.Context, text string, actions []Action) (string, error) {
	return n.Send(ctx, n.adminChatID, text, actions)
}
