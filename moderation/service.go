package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splguard/messages"
	"splguard/metrics"
)

// ErrPlatform оборачивает ожидаемые отказы платформы: нет прав, сообщение уже удалено,
// лимит запросов, сеть. Такие ошибки логируются как warn и не влияют на результат.
var ErrPlatform = errors.New("platform call failed")

// DefaultJoinProbation: испытательный срок, если профиль его не задаёт
const DefaultJoinProbation = 10 * time.Minute

// Platform: действия чата, которые нужны модерации
type Platform interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendNotice(ctx context.Context, chatID int64, text string) error
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	Ban(ctx context.Context, chatID, userID int64) error
}

// AuditSink пишет записи в админ-канал
type AuditSink interface {
	Audit(ctx context.Context, channelID int64, text string) error
}

type ProfileSource interface {
	Load(ctx context.Context) (*Profile, error)
}

// Inbound: входящее сообщение в терминах модерации
type Inbound struct {
	ChatID    int64
	ChatType  string
	MessageID int
	UserID    int64
	Username  string
	IsBot     bool
	Message
}

type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeActioned Outcome = "actioned"
)

type Result struct {
	Outcome   Outcome
	Violation *Violation
	Decision  *StrikeDecision
}

type Moderator struct {
	profiles ProfileSource
	ledger   *Ledger
	platform Platform
	audit    AuditSink
	ownerID  int64
	admins   map[int64]struct{}
	logger   *slog.Logger
}

func NewModerator(profiles ProfileSource, ledger *Ledger, platform Platform, audit AuditSink, ownerID int64, adminIDs []int64) *Moderator {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Moderator{
		profiles: profiles,
		ledger:   ledger,
		platform: platform,
		audit:    audit,
		ownerID:  ownerID,
		admins:   admins,
		logger:   slog.Default().With("component", "moderation"),
	}
}

func isGroup(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

func (m *Moderator) isStaticAdmin(userID int64) bool {
	if m.ownerID != 0 && userID == m.ownerID {
		return true
	}
	_, ok := m.admins[userID]
	return ok
}

// HandleMessage проверяет сообщение и применяет наказание.
// Возвращается только ошибка записи страйка либо неожиданные ошибки побочных действий;
// в последнем случае Result всё равно заполнен.
func (m *Moderator) HandleMessage(ctx context.Context, in Inbound) (Result, error) {
	passed := Result{Outcome: OutcomePassed}

	// 1. Боты, владелец, не группа
	if in.IsBot || !isGroup(in.ChatType) || (m.ownerID != 0 && in.UserID == m.ownerID) {
		return passed, nil
	}

	// 2. Профиль
	profile, err := m.profiles.Load(ctx)
	if err != nil {
		return passed, fmt.Errorf("load moderation profile: %w", err)
	}
	if profile == nil {
		return passed, nil
	}

	// 3. Доверенные и админы
	if m.isStaticAdmin(in.UserID) {
		return passed, nil
	}
	trusted, err := m.ledger.IsTrusted(ctx, profile, in.UserID)
	if err != nil {
		return passed, fmt.Errorf("check trusted: %w", err)
	}
	if trusted {
		return passed, nil
	}

	// 4-5. Испытательный срок и проверка
	probation, err := m.ledger.IsUserInProbation(ctx, profile, in.ChatID, in.UserID)
	if err != nil {
		return passed, err
	}
	violation := Evaluate(in.Message, profile, probation)
	if violation == nil {
		return passed, nil
	}
	metrics.Violations.WithLabelValues(string(violation.Kind)).Inc()
	if violation.Score > 0 {
		metrics.AdKeywordScore.Add(float64(violation.Score))
	}

	// 6. Страйк (ошибка БД единственная фатальная)
	decision, err := m.ledger.IncrementStrike(ctx, profile, in.UserID, in.ChatID, violation.Reason, in.Username)
	if err != nil {
		return Result{Outcome: OutcomePassed, Violation: violation}, err
	}
	metrics.ModerationActions.WithLabelValues(string(decision.Action)).Inc()
	res := Result{Outcome: OutcomeActioned, Violation: violation, Decision: &decision}

	var errs []error
	log := m.logger.With("chat", in.ChatID, "user", in.UserID, "action", decision.Action)

	// 7. Удаление выполняется всегда
	if err := m.platform.DeleteMessage(ctx, in.ChatID, in.MessageID); err != nil {
		errs = m.sideEffectFailed(log, "delete", err, errs)
	} else {
		metrics.DeletedMessages.Inc()
	}

	// 8. Предупреждение в чате
	if decision.Action != ActionDelete {
		text := messages.FormatModerationNotice(violation.Reason, decision.Strikes)
		if err := m.platform.SendNotice(ctx, in.ChatID, text); err != nil {
			errs = m.sideEffectFailed(log, "notice", err, errs)
		}
	}

	// 9. Мьют / бан
	switch decision.Action {
	case ActionMute:
		if err := m.platform.Restrict(ctx, in.ChatID, in.UserID, decision.ActedAt.Add(profile.MuteDuration)); err != nil {
			errs = m.sideEffectFailed(log, "restrict", err, errs)
		}
	case ActionBan:
		if err := m.platform.Ban(ctx, in.ChatID, in.UserID); err != nil {
			errs = m.sideEffectFailed(log, "ban", err, errs)
		}
	}

	// 10. Аудит
	if profile.AdminChannelID != nil && m.audit != nil {
		text := messages.FormatModerationLog(in.ChatID, in.UserID, in.Username, string(decision.Action), decision.Reason, decision.Strikes)
		if err := m.audit.Audit(ctx, *profile.AdminChannelID, text); err != nil {
			errs = m.sideEffectFailed(log, "audit", err, errs)
		}
	}

	log.Info("moderation action applied", "reason", decision.Reason, "strikes", decision.Strikes)
	return res, errors.Join(errs...)
}

func (m *Moderator) sideEffectFailed(log *slog.Logger, op string, err error, errs []error) []error {
	metrics.PlatformErrors.WithLabelValues(op).Inc()
	if errors.Is(err, ErrPlatform) {
		log.Warn("moderation side effect failed", "op", op, "err", err)
		return errs
	}
	log.Error("unexpected moderation side effect failure", "op", op, "err", err)
	return append(errs, fmt.Errorf("%s: %w", op, err))
}

// HandleJoin назначает испытательный срок новому участнику
func (m *Moderator) HandleJoin(ctx context.Context, chatID, userID int64, username string, isBot bool) error {
	if isBot {
		return nil
	}
	profile, err := m.profiles.Load(ctx)
	if err != nil {
		return fmt.Errorf("load moderation profile: %w", err)
	}
	if profile == nil {
		return nil
	}
	d := profile.ProbationDuration
	if d <= 0 {
		d = DefaultJoinProbation
	}
	return m.ledger.SetProbation(ctx, profile, chatID, userID, username, d)
}
