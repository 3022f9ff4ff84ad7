package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// HandleUpdate routes one update to its handler. Updates other than
// messages and inline queries are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	switch {
	case u.InlineQuery != nil:
		return b.handleInlineQuery(ctx, u.InlineQuery)
	case u.Message != nil:
		return b.handleMessage(ctx, u.Message)
	}
	b.logger.Debug("telegram_update_ignored", "update_id", u.UpdateID)
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.Chat == nil || m.Text == "" {
		return nil
	}

	username := b.Self().UserName
	if m.IsCommand() {
		var text string
		switch m.Command() {
		case "ping":
			text = pingText(b.version)
		case "start":
			text = startText(username, b.version)
		case "help":
			text = helpText(username, b.version)
		}
		if text != "" {
			b.logger.Debug("telegram_command", "command", m.Command(), "chat_id", m.Chat.ID)
			return b.answer(ctx, m, text, false)
		}
	}

	res := b.proc.Process(ctx, store.SourceTelegram, strings.TrimSpace(m.Text))
	return b.answer(ctx, m, res.Message, true)
}

func (b *Bot) handleInlineQuery(ctx context.Context, q *tgbotapi.InlineQuery) error {
	res := b.proc.Process(ctx, store.SourceInline, strings.TrimSpace(q.Query))

	article := tgbotapi.NewInlineQueryResultArticle(newResultID(), res.Result, res.Message)
	article.Description = res.Message

	cfg := tgbotapi.InlineConfig{
		InlineQueryID: q.ID,
		Results:       []interface{}{article},
		CacheTime:     0,
	}
	if _, err := b.request(ctx, cfg); err != nil {
		return fmt.Errorf("answering inline query %s: %w", q.ID, err)
	}
	return nil
}

func (b *Bot) answer(ctx context.Context, m *tgbotapi.Message, text string, reply bool) error {
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	if reply {
		msg.ReplyToMessageID = m.MessageID
	}
	if _, err := b.send(ctx, msg); err != nil {
		return fmt.Errorf("sending message to chat %d: %w", m.Chat.ID, err)
	}
	return nil
}

// newResultID returns a 32 character hex id for an inline result.
func newResultID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
