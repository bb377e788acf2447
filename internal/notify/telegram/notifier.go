// Package telegram sends a digest of newly discovered entities to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
)

const maxLines = 10

// Sender delivers an HTML message to a chat.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) (int, error)
}

// BotSender implements Sender with the Telegram Bot API.
type BotSender struct {
	api *tgbotapi.BotAPI
}

// NewBotSender wraps an authenticated bot client.
func NewBotSender(api *tgbotapi.BotAPI) *BotSender {
	return &BotSender{api: api}
}

// SendHTML sends text with HTML parse mode and returns the message ID.
func (s *BotSender) SendHTML(_ context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := s.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return sent.MessageID, nil
}

// Notifier implements radar.Notifier.
type Notifier struct {
	sender   Sender
	chatID   int64
	minScore int
	logger   *zap.Logger
}

var _ radar.Notifier = (*Notifier)(nil)

// New builds a Notifier that posts entities scoring at least minScore.
func New(sender Sender, chatID int64, minScore int, logger *zap.Logger) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("telegram sender is required")
	}
	if chatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}
	return &Notifier{
		sender:   sender,
		chatID:   chatID,
		minScore: minScore,
		logger:   logging.OrNop(logger).Named("telegram"),
	}, nil
}

// NotifyCreated sends one digest message. Nothing is sent when no entity qualifies.
func (n *Notifier) NotifyCreated(ctx context.Context, entities []radar.Entity) error {
	text, count := FormatDigest(entities, n.minScore)
	if count == 0 {
		return nil
	}
	id, err := n.sender.SendHTML(ctx, n.chatID, text)
	if err != nil {
		return err
	}
	n.logger.Info("digest sent", zap.Int("message_id", id), zap.Int("entities", count))
	return nil
}

// FormatDigest renders the qualifying entities, best score first, and
// reports how many lines were included.
func FormatDigest(entities []radar.Entity, minScore int) (string, int) {
	picked := make([]radar.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Analysis != nil && e.Analysis.Score >= minScore {
			picked = append(picked, e)
		}
	}
	if len(picked) == 0 {
		return "", 0
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Analysis.Score > picked[j].Analysis.Score
	})
	if len(picked) > maxLines {
		picked = picked[:maxLines]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Market radar: %d new</b>\n", len(picked))
	for _, e := range picked {
		fmt.Fprintf(&b, "\n%d · <a href=\"%s\">%s</a> <i>%s</i>",
			e.Analysis.Score,
			html.EscapeString(e.URL),
			html.EscapeString(e.Title),
			html.EscapeString(e.Analysis.Category))
	}
	return b.String(), len(picked)
}
