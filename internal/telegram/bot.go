package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/config"
)

// Sender delivers a text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Bot is a minimal Bot API client; replies use HTML parse mode.
type Bot struct {
	token    string
	username string
	baseURL  string
	http     *http.Client
}

func NewBot(cfg config.TelegramConfig, httpClient *http.Client) *Bot {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Bot{token: cfg.BotToken, username: strings.TrimPrefix(cfg.BotUsername, "@"), baseURL: base, http: httpClient}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if b.token == "" {
		return apperr.NewConfigurationError("telegram bot token is not configured")
	}
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		// The URL embeds the token; never surface it.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram: send message: %w", uerr.Err)
		}
		return fmt.Errorf("telegram: send message failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out apiResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = apperr.Truncate(string(body), 200)
		}
		return fmt.Errorf("telegram: send message: status %d: %s", resp.StatusCode, desc)
	}
	return nil
}

// DeepLink returns the t.me link that starts the bot with code, or "" when the
// bot username is not configured.
func (b *Bot) DeepLink(code string) string {
	if b.username == "" {
		return ""
	}
	return "https://t.me/" + b.username + "?start=" + url.QueryEscape(code)
}
