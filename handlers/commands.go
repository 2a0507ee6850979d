package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"splguard/admin"
	"splguard/database"
	"splguard/messages"
	"splguard/quests"
)

const (
	defaultProjectName = "SPL Shield"
	recentRewards      = 5
	questListLimit     = 20
	topInvitersDays    = 7
	topInvitersLimit   = 10
	defaultExportDays  = 7
	dlqPreview         = 10
	maxLinkNameLen     = 32
)

func senderID(msg *models.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (h *Handler) settings(ctx context.Context) *database.Settings {
	if h.Info == nil {
		return nil
	}
	s, err := h.Info.GetSettings(ctx)
	if err != nil {
		slog.Error("failed to load settings", "err", err)
		return nil
	}
	return s
}

// ============================================
// Info
// ============================================

func (h *Handler) cmdStart(ctx context.Context, msg *models.Message, _ string) {
	project := defaultProjectName
	if s := h.settings(ctx); s != nil && s.ProjectName != "" {
		project = s.ProjectName
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatWelcome(project))
}

func (h *Handler) cmdContract(ctx context.Context, msg *models.Message, _ string) {
	s := h.settings(ctx)
	if s == nil || len(s.ContractAddresses) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatContract(s.TokenTicker, s.ContractAddresses, deref(s.ExplorerURL)))
}

func (h *Handler) cmdLinks(ctx context.Context, msg *models.Message, _ string) {
	s := h.settings(ctx)
	if s == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	links := maps.Clone(s.SocialLinks)
	if links == nil {
		links = map[string]string{}
	}
	if s.Website != nil {
		links["website"] = *s.Website
	}
	if s.Docs != nil {
		links["docs"] = *s.Docs
	}
	if len(links) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatLinks(links))
}

func (h *Handler) cmdTeam(ctx context.Context, msg *models.Message, _ string) {
	s := h.settings(ctx)
	if s == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	team, err := h.Info.ListTeam(ctx, s.ID)
	if err != nil {
		slog.Error("failed to load team", "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	if len(team) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNoTeam)
		return
	}
	entries := make([]messages.TeamEntry, 0, len(team))
	for _, m := range team {
		entries = append(entries, messages.TeamEntry{Name: m.Name, Role: m.Role, Contact: deref(m.Contact)})
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatTeam(s.ProjectName, entries))
}

// cmdPresale отвечает сводкой; групповой чат подписывается на обновления
func (h *Handler) cmdPresale(ctx context.Context, msg *models.Message, _ string) {
	if h.Summaries == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgPresaleUnavailable)
		return
	}
	sum, err := h.Summaries.CachedSummary(ctx)
	if err != nil || sum == nil {
		sum, err = h.Summaries.Summary(ctx, false)
	}
	if err != nil {
		slog.Error("failed to load presale summary", "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	if sum == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgPresaleUnavailable)
		return
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		if err := h.Summaries.AddWatcher(ctx, msg.Chat.ID); err != nil {
			slog.Warn("failed to register presale watcher", "chat_id", msg.Chat.ID, "err", err)
		}
	}
	h.Telegram.reply(ctx, msg.Chat.ID, sum.Text())
}

// ============================================
// Quests
// ============================================

func (h *Handler) cmdLink(ctx context.Context, msg *models.Message, args string) {
	if h.Quests == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	if args == "" {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgLinkUsage)
		return
	}

	m, status, err := h.Quests.BindWallet(ctx, senderID(msg), args)
	var verr *quests.ValidationError
	switch {
	case errors.As(err, &verr):
		h.Telegram.reply(ctx, msg.Chat.ID, html.EscapeString(verr.Message))
		return
	case err != nil:
		slog.Error("failed to bind wallet", "user_id", senderID(msg), "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}

	var text string
	switch status {
	case quests.BindUnchanged:
		text = messages.MsgWalletUnchanged
	case quests.BindCreated:
		text = messages.MsgWalletCreated
	default:
		text = messages.MsgWalletUpdated
	}
	var tier string
	if m.Tier != nil {
		tier = quests.TierLabel(m.Tier)
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatWalletStatus(text, tier))
}

func (h *Handler) memberSummary(ctx context.Context, msg *models.Message, missing string) *quests.Summary {
	if h.Quests == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return nil
	}
	sum, err := h.Quests.MemberSummary(ctx, senderID(msg), recentRewards)
	if err != nil {
		slog.Error("failed to load member summary", "user_id", senderID(msg), "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return nil
	}
	if sum == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, missing)
	}
	return sum
}

func (h *Handler) cmdXP(ctx context.Context, msg *models.Message, _ string) {
	sum := h.memberSummary(ctx, msg, messages.MsgXPNeedsWallet)
	if sum == nil {
		return
	}
	rewards := make([]messages.RewardLine, 0, len(sum.Rewards))
	for _, r := range sum.Rewards {
		quest := r.Quest
		if quest == "" {
			quest = "Quest"
		}
		rewards = append(rewards, messages.RewardLine{Quest: quest, XP: r.XP, Status: string(r.Status)})
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatProgress(sum.XP, sum.Level, sum.TierLabel, sum.Wallet, rewards))
}

func (h *Handler) cmdTier(ctx context.Context, msg *models.Message, _ string) {
	sum := h.memberSummary(ctx, msg, messages.MsgTierNeedsWallet)
	if sum == nil {
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatTier(sum.TierLabel, sum.Privileges))
}

func (h *Handler) cmdQuests(ctx context.Context, msg *models.Message, _ string) {
	if h.Quests == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	list, err := h.Quests.ActiveQuests(ctx, questListLimit)
	if err != nil {
		slog.Error("failed to list quests", "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	if len(list) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNoQuests)
		return
	}
	lines := make([]messages.QuestLine, 0, len(list))
	for _, q := range list {
		lines = append(lines, messages.QuestLine{Slug: q.Slug, XP: q.XPValue})
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatQuests(lines))
}

func (h *Handler) cmdSubmit(ctx context.Context, msg *models.Message, args string) {
	if h.Submitter == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	if args == "" {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgSubmitUsage)
		return
	}
	sig := strings.Fields(args)[0]

	res, err := h.Submitter.Submit(ctx, senderID(msg), sig)
	if err != nil {
		slog.Error("presale submission failed", "user_id", senderID(msg), "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	if res.Cooldown {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgSubmitCooldown)
		return
	}
	out := res.Outcome
	if !out.OK {
		h.Telegram.reply(ctx, msg.Chat.ID, html.EscapeString(messages.FormatReason(string(out.Reason))))
		return
	}

	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatVerified(sig, out.Amount, deref(out.Currency), out.XPAwarded))
	if res.Grant != nil && res.Grant.TierChanged {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatTierUpgrade(quests.TierLabel(&res.Grant.NewTier)))
	}
	if res.SpotCheck {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgSpotCheck)
	}
}

// ============================================
// Affiliates
// ============================================

func (h *Handler) cmdInvite(ctx context.Context, msg *models.Message, args string) {
	if h.Affiliates == nil || !h.Affiliates.Enabled() {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgInviteUnavailable)
		return
	}
	name := args
	if r := []rune(name); len(r) > maxLinkNameLen {
		name = string(r[:maxLinkNameLen])
	}
	link, err := h.Affiliates.EnsureLink(ctx, senderID(msg), name)
	if err != nil {
		slog.Error("failed to ensure invite link", "user_id", senderID(msg), "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgInviteUnavailable)
		return
	}
	joins, err := h.Affiliates.InviteCount(ctx, link.InviteLink)
	if err != nil {
		slog.Warn("failed to count invites", "link", link.InviteLink, "err", err)
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatInvite(link.InviteLink, joins))
}

func (h *Handler) cmdRotateRef(ctx context.Context, msg *models.Message, _ string) {
	if h.Affiliates == nil || !h.Affiliates.Enabled() {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgInviteUnavailable)
		return
	}
	link, err := h.Affiliates.RotateLink(ctx, senderID(msg))
	if err != nil {
		slog.Error("failed to rotate invite link", "user_id", senderID(msg), "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgInviteUnavailable)
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatInvite(link.InviteLink, 0))
}

func (h *Handler) cmdTopInviters(ctx context.Context, msg *models.Message, _ string) {
	if h.Affiliates == nil || !h.Affiliates.Enabled() {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgInviteUnavailable)
		return
	}
	top, err := h.Affiliates.TopInviters(ctx, topInvitersDays, topInvitersLimit)
	if err != nil {
		slog.Error("failed to load top inviters", "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	if len(top) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNoInviterActivity)
		return
	}
	rows := make([][2]int64, 0, len(top))
	for _, r := range top {
		rows = append(rows, [2]int64{r.OwnerID, int64(r.Joins)})
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatTopInviters(topInvitersDays, rows))
}

// ============================================
// Admin
// ============================================

// adminError переводит ошибку admin-сервиса в ответ
func (h *Handler) adminError(ctx context.Context, chatID int64, err error) {
	var verr *admin.ValidationError
	switch {
	case errors.Is(err, admin.ErrUnknownField):
		h.Telegram.reply(ctx, chatID, messages.FormatUnknownField(admin.Fields()))
	case errors.As(err, &verr):
		h.Telegram.reply(ctx, chatID, html.EscapeString(verr.Error()))
	case errors.Is(err, admin.ErrSettingsMissing):
		h.Telegram.reply(ctx, chatID, messages.MsgNotConfigured)
	default:
		slog.Error("admin command failed", "err", err)
		h.Telegram.reply(ctx, chatID, messages.MsgError)
	}
}

func (h *Handler) cmdSetRule(ctx context.Context, msg *models.Message, args string) {
	if h.Admin == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	field, value, ok := strings.Cut(args, " ")
	if !ok || field == "" {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgSetRuleUsage+"\n"+messages.FormatUnknownField(admin.Fields()))
		return
	}
	change, err := h.Admin.SetRule(ctx, senderID(msg), field, value)
	if err != nil {
		h.adminError(ctx, msg.Chat.ID, err)
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatRuleUpdated(change.Field, change.Before, change.After))
}

func (h *Handler) cmdSetContract(ctx context.Context, msg *models.Message, args string) {
	if h.Admin == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	if args == "" {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgSetContractUsage)
		return
	}
	change, err := h.Admin.SetContract(ctx, senderID(msg), strings.Fields(args))
	if err != nil {
		h.adminError(ctx, msg.Chat.ID, err)
		return
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatRuleUpdated(change.Field, change.Before, change.After))
}

func (h *Handler) cmdExportLogs(ctx context.Context, msg *models.Message, args string) {
	if h.Admin == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	days := defaultExportDays
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgExportUsage)
			return
		}
		days = n
	}
	entries, err := h.Admin.ExportLogs(ctx, days)
	if err != nil {
		h.adminError(ctx, msg.Chat.ID, err)
		return
	}
	if len(entries) == 0 {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNoInfractions)
		return
	}
	var buf bytes.Buffer
	if err := admin.WriteCSV(&buf, entries); err != nil {
		h.adminError(ctx, msg.Chat.ID, err)
		return
	}
	name := fmt.Sprintf("infractions-%dd.csv", days)
	if err := h.Telegram.SendDocument(ctx, msg.Chat.ID, name, buf.Bytes(), fmt.Sprintf("%d records", len(entries))); err != nil {
		slog.Warn("failed to send infractions export", "err", err)
	}
}

func (h *Handler) cmdDLQ(ctx context.Context, msg *models.Message, _ string) {
	if h.DLQ == nil {
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgNotConfigured)
		return
	}
	snap, err := h.DLQ.Snapshot(ctx, dlqPreview)
	if err != nil {
		slog.Error("failed to read DLQ", "err", err)
		h.Telegram.reply(ctx, msg.Chat.ID, messages.MsgError)
		return
	}
	lines := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		lines = append(lines, fmt.Sprintf("%s %s (user %d, %s)", e.Reason, e.TxSignature, e.TelegramID, e.CreatedAt.UTC().Format("2006-01-02 15:04")))
	}
	h.Telegram.reply(ctx, msg.Chat.ID, messages.FormatDLQ(snap.Size, lines))
}
