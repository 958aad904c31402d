package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yegors/arrival-watch/pkg/logger"
	tele "gopkg.in/telebot.v4"
)

// Telegram delivers notifications to Telegram chats identified by numeric chat ID
type Telegram struct {
	bot    *tele.Bot
	chats  map[string]int64
	logger *logger.Logger
}

// NewTelegram connects the bot and resolves every target to a chat ID
func NewTelegram(token string, targets []string, logger *logger.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}

	chats, err := parseChatTargets(targets)
	if err != nil {
		return nil, err
	}

	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:    bot,
		chats:  chats,
		logger: logger.Named("telegram"),
	}, nil
}

// Deliver sends lines as one Markdown message
func (t *Telegram) Deliver(ctx context.Context, target string, lines []string, committed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := strings.Join(lines, "\n")
	if !committed {
		t.logger.Info("Dry run, message not sent", logger.String("target", target), logger.String("text", text))
		return nil
	}

	id, ok := t.chats[target]
	if !ok {
		return fmt.Errorf("unknown telegram target %q", target)
	}

	msg, err := t.bot.Send(&tele.Chat{ID: id}, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	if err != nil {
		return fmt.Errorf("failed to send telegram message to %s: %w", target, err)
	}

	t.logger.Info("Message sent", logger.String("target", target), logger.Int("message_id", msg.ID))
	return nil
}

func parseChatTargets(targets []string) (map[string]int64, error) {
	chats := make(map[string]int64, len(targets))
	for _, target := range targets {
		id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram target %q is not a numeric chat id: %w", target, err)
		}
		chats[target] = id
	}
	return chats, nil
}
