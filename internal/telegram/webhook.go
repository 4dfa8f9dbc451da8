package telegram

import (
	"context"
	"crypto/subtle"
	"fmt"
	"html"
	"net/http"
	"strings"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/pkg/logger"

	"github.com/gin-gonic/gin"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Update is the subset of a Telegram update the bot reacts to.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From User   `json:"from"`
	Text string `json:"text"`
}

// Observer is notified when a chat gets linked (audit).
type Observer interface {
	ChatLinked(ctx context.Context, res ConsumeResult, chatID int64)
}

// WebhookHandler serves the bot webhook. It always answers 200 so Telegram
// does not redeliver; failures are reported to the chat instead.
type WebhookHandler struct {
	linker    *Linker
	bot       Sender
	secret    string
	observers []Observer
}

func NewWebhookHandler(linker *Linker, bot Sender, secret string, observers ...Observer) *WebhookHandler {
	return &WebhookHandler{linker: linker, bot: bot, secret: secret, observers: observers}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
			return
		}
	}

	var u Update
	if err := c.ShouldBindJSON(&u); err != nil || u.Message == nil || u.Message.Chat.ID == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ctx := c.Request.Context()
	reply := h.dispatch(ctx, u.Message)
	if reply != "" {
		if err := h.bot.SendMessage(ctx, u.Message.Chat.ID, reply); err != nil {
			logger.FromGin(c).Warn("telegram reply failed", "chat_id", u.Message.Chat.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, m *Message) string {
	cmd, arg := parseCommand(m.Text)
	chatID := m.Chat.ID
	switch cmd {
	case "/start":
		if arg == "" {
			return "To link this chat, open the connection link from your account settings."
		}
		res, err := h.linker.ConsumeSession(ctx, arg, chatID, m.From)
		if err != nil {
			return consumeErrorText(ctx, err)
		}
		for _, o := range h.observers {
			o.ChatLinked(ctx, res, chatID)
		}
		return greeting(m.From, res.Role)
	case "/stop":
		ok, err := h.linker.Unlink(ctx, chatID)
		if err != nil {
			logger.From(ctx).Error("telegram unlink failed", "chat_id", chatID, "err", err)
			return "Something went wrong. Please try again later."
		}
		if !ok {
			return "This chat is not linked."
		}
		return "Notifications are turned off. Use a new connection link to enable them again."
	case "/status":
		link, ok, err := h.linker.ActiveLink(ctx, chatID)
		if err != nil {
			logger.From(ctx).Error("telegram status failed", "chat_id", chatID, "err", err)
			return "Something went wrong. Please try again later."
		}
		if !ok {
			return "This chat is not linked."
		}
		return fmt.Sprintf("Linked to organization <code>%s</code>.", html.EscapeString(link.OrgID))
	case "/help":
		return helpText
	default:
		return "Unknown command. Send /help for the list of commands."
	}
}

const helpText = "Commands:\n" +
	"/start &lt;code&gt; - link this chat to your account\n" +
	"/status - show the link status\n" +
	"/stop - turn off notifications\n" +
	"/help - this message"

// parseCommand splits "/start@bot abc" into ("/start", "abc").
func parseCommand(text string) (string, string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", ""
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	return cmd, arg
}

func consumeErrorText(ctx context.Context, err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return "This link is invalid. Request a new one from your account settings."
	case apperr.CodeAlreadyUsed:
		return "This link has already been used."
	case apperr.CodeExpired:
		return "This link has expired. Request a new one from your account settings."
	case apperr.CodeConflict:
		return "This Telegram account is already linked to another user."
	default:
		logger.From(ctx).Error("telegram consume session failed", "err", err)
		return "Something went wrong. Please try again later."
	}
}

func greeting(u User, role string) string {
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = "there"
	}
	var what string
	switch role {
	case "owner", "admin":
		what = "You will receive call analysis results for your whole organization."
	case "manager":
		what = "You will receive call analysis results for your team."
	default:
		what = "You will receive call analysis notifications."
	}
	return fmt.Sprintf("Hello, %s! This chat is now linked (%s). %s", html.EscapeString(name), html.EscapeString(role), what)
}
