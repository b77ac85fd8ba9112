package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Compile-time interface check.
var _ Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier posts events to a Telegram chat via the Bot API. Missing
// credentials or HTTP failures are logged and swallowed.
type TelegramNotifier struct {
	BotID  string
	token  string
	chatID string
	client *http.Client
	log    *slog.Logger
}

// NewTelegramNotifier creates a TelegramNotifier. token and chatID come from
// the environment; with either empty, Event is a no-op.
func NewTelegramNotifier(botID, token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		BotID:  botID,
		token:  strings.TrimSpace(token),
		chatID: strings.TrimSpace(chatID),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    slog.Default().With("notifier", "telegram"),
	}
}

// Configured reports whether credentials are present.
func (n *TelegramNotifier) Configured() bool {
	return n.token != "" && n.chatID != ""
}

// Event posts the formatted event. Failures never propagate.
func (n *TelegramNotifier) Event(kind string, fields map[string]any) {
	if !n.Configured() {
		return
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    n.chatID,
		"text":       n.format(kind, fields),
		"parse_mode": "HTML",
	})
	if err != nil {
		n.log.Warn("marshal failed", "err", err)
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.token)
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Warn("send failed", "event", kind, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.log.Warn("send rejected", "event", kind, "status", resp.StatusCode)
	}
}

// format renders a compact message: a bold header line followed by sorted
// key: value lines.
func (n *TelegramNotifier) format(kind string, fields map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>[%s] %s</b>", n.BotID, kind)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, fields[k])
	}
	return b.String()
}
