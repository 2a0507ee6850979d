package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"splguard/admin"
	"splguard/affiliates"
	"splguard/cachestore"
	"splguard/config"
	"splguard/database"
	"splguard/messages"
	"splguard/metrics"
	"splguard/moderation"
	"splguard/presale"
	"splguard/quests"
)

const rateLimitWindow = 5 * time.Second

// InfoStore: справочные данные проекта для /start, /contract, /links, /team
type InfoStore interface {
	GetSettings(ctx context.Context) (*database.Settings, error)
	ListTeam(ctx context.Context, settingsID int) ([]database.TeamMember, error)
}

// Deps: зависимости обработчика. Nil-сервис означает, что функция выключена.
type Deps struct {
	Config      *config.Config
	Telegram    *Telegram
	Cache       cachestore.Store
	Info        InfoStore
	Moderator   *moderation.Moderator
	Summaries   *presale.SummaryService
	Submitter   *presale.Submitter
	Quests      *quests.Service
	DLQ         *quests.DLQ
	Affiliates  *affiliates.Service
	Admin       *admin.Service
	BotUsername string
}

type command struct {
	run func(ctx context.Context, msg *models.Message, args string)
	// только для владельца и ADMIN_IDS
	staff bool
}

type Handler struct {
	Deps
	commands map[string]command
}

func New(d Deps) *Handler {
	h := &Handler{Deps: d}
	h.commands = map[string]command{
		"start":       {run: h.cmdStart},
		"help":        {run: h.cmdStart},
		"contract":    {run: h.cmdContract},
		"links":       {run: h.cmdLinks},
		"team":        {run: h.cmdTeam},
		"presale":     {run: h.cmdPresale},
		"link":        {run: h.cmdLink},
		"xp":          {run: h.cmdXP},
		"tier":        {run: h.cmdTier},
		"quests":      {run: h.cmdQuests},
		"submit":      {run: h.cmdSubmit},
		"invite":      {run: h.cmdInvite},
		"ref":         {run: h.cmdInvite},
		"rotateref":   {run: h.cmdRotateRef},
		"topinviters": {run: h.cmdTopInviters, staff: true},
		"setrule":     {run: h.cmdSetRule, staff: true},
		"setcontract": {run: h.cmdSetContract, staff: true},
		"exportlogs":  {run: h.cmdExportLogs, staff: true},
		"dlq":         {run: h.cmdDLQ, staff: true},
	}
	return h
}

// OnMessage: сначала модерация (в группах), затем команда, если сообщение чистое
func (h *Handler) OnMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message

	if len(msg.NewChatMembers) > 0 {
		h.onNewMembers(ctx, msg)
		return
	}

	if !h.moderate(ctx, msg) {
		return
	}

	if cmd, args, ok := parseCommand(msg.Text, h.BotUsername); ok {
		if c, known := h.commands[cmd]; known {
			h.dispatch(ctx, msg, cmd, c, args)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, msg *models.Message, name string, c command, args string) {
	userID := msg.Chat.ID
	if msg.From != nil {
		userID = msg.From.ID
	}
	if c.staff && !h.Config.IsStaff(userID) {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgAdminOnly)
		return
	}
	if !c.staff && h.rateLimited(ctx, name, userID) {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgRateLimited)
		return
	}
	metrics.CommandUsage.WithLabelValues(name).Inc()
	c.run(ctx, msg, args)
}

// rateLimited: одна команда scope на пользователя за окно; без кэша ограничения нет
func (h *Handler) rateLimited(ctx context.Context, scope string, userID int64) bool {
	if h.Cache == nil {
		return false
	}
	stored, err := h.Cache.SetNX(ctx, rateKey(scope, userID), "1", rateLimitWindow)
	if err != nil {
		slog.Warn("rate limit check failed", "scope", scope, "err", err)
		return false
	}
	if !stored {
		metrics.RateLimited.WithLabelValues(scope).Inc()
	}
	return !stored
}

func rateKey(scope string, userID int64) string {
	return "rate:" + scope + ":" + strconv.FormatInt(userID, 10)
}

// moderate возвращает false, если сообщение нарушает правила и команду выполнять нельзя.
// Сбой проверки без найденного нарушения сообщение не блокирует.
func (h *Handler) moderate(ctx context.Context, msg *models.Message) bool {
	if h.Moderator == nil || msg.From == nil {
		return true
	}
	res, err := h.Moderator.HandleMessage(ctx, toInbound(msg))
	if err != nil {
		slog.Error("moderation failed", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "err", err)
	}
	if res.Outcome == moderation.OutcomeActioned {
		slog.Debug("message actioned", "chat_id", msg.Chat.ID, "message_id", msg.ID)
	}
	return res.Outcome == moderation.OutcomePassed && res.Violation == nil
}

// onNewMembers назначает испытательный срок каждому вступившему
func (h *Handler) onNewMembers(ctx context.Context, msg *models.Message) {
	if h.Moderator == nil {
		return
	}
	for _, u := range msg.NewChatMembers {
		if err := h.Moderator.HandleJoin(ctx, msg.Chat.ID, u.ID, u.Username, u.IsBot); err != nil {
			slog.Error("failed to start probation", "chat_id", msg.Chat.ID, "user_id", u.ID, "err", err)
		}
	}
}

// OnJoinRequest засчитывает вступление по реферальной ссылке и одобряет заявку
func (h *Handler) OnJoinRequest(ctx context.Context, b *bot.Bot, update *models.Update) {
	req := update.ChatJoinRequest
	if req == nil {
		return
	}
	log := slog.With("chat_id", req.Chat.ID, "user_id", req.From.ID)

	if h.Affiliates != nil && req.InviteLink != nil {
		link, stored, err := h.Affiliates.RecordJoin(ctx, req.InviteLink.InviteLink, req.From.ID)
		if err != nil {
			log.Error("failed to record referral join", "err", err)
		}
		if stored && link != nil {
			name := req.From.FirstName
			if req.From.LastName != "" {
				name += " " + req.From.LastName
			}
			if err := h.Telegram.Notify(ctx, link.OwnerTgID, messages.FormatNewReferral(name)); err != nil {
				log.Debug("unable to notify link owner", "owner_id", link.OwnerTgID, "err", err)
			}
		}
	}

	if err := h.Telegram.ApproveJoin(ctx, req.Chat.ID, req.From.ID); err != nil {
		log.Warn("failed to approve join request", "err", err)
	}
}
