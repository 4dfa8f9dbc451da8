package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	"insight-call-flow/internal/calls"
	"insight-call-flow/pkg/logger"
)

// LinkSource lists the chats that should hear about an org's calls.
type LinkSource interface {
	ActiveLinks(ctx context.Context, orgID string) ([]Link, error)
}

// Notifier pushes a score summary to every linked chat of the call's
// organization once processing completes. Delivery is best-effort.
type Notifier struct {
	links LinkSource
	bot   Sender
}

func NewNotifier(links LinkSource, bot Sender) *Notifier {
	return &Notifier{links: links, bot: bot}
}

// CallProcessed implements calls.Listener. Failed runs are not announced.
func (n *Notifier) CallProcessed(ctx context.Context, c calls.Call, err error) {
	if err != nil || c.Status != calls.StatusCompleted {
		return
	}
	log := logger.From(ctx).With("call_id", c.ID, "org_id", c.OrgID)
	links, lerr := n.links.ActiveLinks(ctx, c.OrgID)
	if lerr != nil {
		log.Warn("telegram notify: list links", "err", lerr)
		return
	}
	text := CallSummaryText(c)
	for _, l := range links {
		if serr := n.bot.SendMessage(ctx, l.ChatID, text); serr != nil {
			log.Warn("telegram notify failed", "chat_id", l.ChatID, "err", serr)
		}
	}
}

// CallSummaryText renders the notification body in HTML parse mode.
func CallSummaryText(c calls.Call) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Call analyzed</b> <code>%s</code>\n", html.EscapeString(c.ID))
	if c.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s UTC\n", c.StartedAt.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "General: %s/10 | Satisfaction: %s/10\n", score(c.GeneralScore), score(c.Satisfaction))
	fmt.Fprintf(&b, "Communication: %s/10 | Sales: %s/10\n", score(c.Communication), score(c.SalesTechnique))
	if c.Summary != "" {
		b.WriteString("\n" + html.EscapeString(c.Summary))
	}
	return b.String()
}

func score(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
