package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"splguard/affiliates"
	"splguard/metrics"
	"splguard/moderation"
)

// Telegram: адаптер *bot.Bot к интерфейсам модерации, пресейла, квестов и рефералов.
type Telegram struct {
	bot *bot.Bot
}

func NewTelegram(b *bot.Bot) *Telegram {
	return &Telegram{bot: b}
}

// platformErr помечает ожидаемые отказы Bot API (нет прав, сообщение не найдено,
// лимит запросов, сеть) как moderation.ErrPlatform; остальное возвращается как есть
func platformErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case bot.IsTooManyRequestsError(err):
		metrics.RateLimited.WithLabelValues("platform").Inc()
		return fmt.Errorf("%s: %w: %w", op, moderation.ErrPlatform, err)
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorNotFound),
		errors.As(err, &netErr):
		return fmt.Errorf("%s: %w: %w", op, moderation.ErrPlatform, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// SendMessage: tglog.MessageSender с разметкой ошибок платформы
func (t *Telegram) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	msg, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, platformErr("send message", err)
	}
	return msg, nil
}

func (t *Telegram) SendHTML(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := t.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// ============================================
// moderation.Platform
// ============================================

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return platformErr("delete message", err)
}

func (t *Telegram) SendNotice(ctx context.Context, chatID int64, text string) error {
	_, err := t.SendHTML(ctx, chatID, text)
	return err
}

// Restrict запрещает любые сообщения до until
func (t *Telegram) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	_, err := t.bot.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: &models.ChatPermissions{},
		UntilDate:   int(until.Unix()),
	})
	return platformErr("restrict member", err)
}

func (t *Telegram) Ban(ctx context.Context, chatID, userID int64) error {
	_, err := t.bot.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	return platformErr("ban member", err)
}

// ============================================
// quests.Notifier, presale.Publisher
// ============================================

func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	_, err := t.SendHTML(ctx, chatID, text)
	return err
}

func (t *Telegram) Pin(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	})
	return platformErr("pin message", err)
}

func (t *Telegram) Unpin(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.UnpinChatMessage(ctx, &bot.UnpinChatMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return platformErr("unpin message", err)
}

// ============================================
// affiliates.LinkCreator
// ============================================

// CreateInviteLink создаёт ссылку с заявкой на вступление, чтобы вступление
// можно было засчитать владельцу
func (t *Telegram) CreateInviteLink(ctx context.Context, chatID int64, name string, expireAt *time.Time) (affiliates.CreatedLink, error) {
	params := &bot.CreateChatInviteLinkParams{
		ChatID:             chatID,
		Name:               name,
		CreatesJoinRequest: true,
	}
	if expireAt != nil {
		params.ExpireDate = int(expireAt.Unix())
	}
	link, err := t.bot.CreateChatInviteLink(ctx, params)
	if err != nil {
		return affiliates.CreatedLink{}, platformErr("create invite link", err)
	}
	return affiliates.CreatedLink{
		URL:                link.InviteLink,
		Name:               link.Name,
		CreatesJoinRequest: link.CreatesJoinRequest,
	}, nil
}

func (t *Telegram) RevokeInviteLink(ctx context.Context, chatID int64, url string) error {
	_, err := t.bot.RevokeChatInviteLink(ctx, &bot.RevokeChatInviteLinkParams{
		ChatID:     chatID,
		InviteLink: url,
	})
	return platformErr("revoke invite link", err)
}

func (t *Telegram) ApproveJoin(ctx context.Context, chatID, userID int64) error {
	_, err := t.bot.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{
		ChatID: chatID,
		UserID: userID,
	})
	return platformErr("approve join request", err)
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	_, err := t.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Caption:  caption,
	})
	return platformErr("send document", err)
}

// reply отправляет ответ и только логирует неудачу
func (t *Telegram) reply(ctx context.Context, chatID int64, text string) {
	if _, err := t.SendHTML(ctx, chatID, text); err != nil {
		slog.Warn("failed to send reply", "chat_id", chatID, "err", err)
	}
}
