// Package tglog пишет человекочитаемые записи аудита в админ-канал Telegram.
package tglog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const sendTimeout = 5 * time.Second

// MessageSender: часть *bot.Bot, нужная логгеру
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Logger struct {
	sender  MessageSender
	channel int64
}

// New: channelID == 0 отключает Notef, Audit работает с явным каналом
func New(sender MessageSender, channelID int64) *Logger {
	if channelID == 0 {
		slog.Info("admin channel is not set, channel logging disabled")
	}
	return &Logger{sender: sender, channel: channelID}
}

// Audit отправляет запись синхронно и возвращает ошибку платформы
func (l *Logger) Audit(ctx context.Context, channelID int64, text string) error {
	if channelID == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := l.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    channelID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	if err != nil {
		return fmt.Errorf("send audit entry to %d: %w", channelID, err)
	}
	return nil
}

// Notef отправляет служебное сообщение в канал по умолчанию, не блокируя вызывающего
func (l *Logger) Notef(format string, args ...any) {
	if l.channel == 0 {
		return
	}
	text := fmt.Sprintf(format, args...)
	go func() {
		if err := l.Audit(context.Background(), l.channel, text); err != nil {
			slog.Warn("failed to send channel log", "err", err)
		}
	}()
}
