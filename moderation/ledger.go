package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"splguard/cachestore"
	"splguard/database"
)

type Action string

const (
	ActionDelete Action = "delete"
	ActionWarn   Action = "warn"
	ActionMute   Action = "mute"
	ActionBan    Action = "ban"
)

type StrikeDecision struct {
	Action    Action
	Strikes   int
	Threshold int
	Reason    string
	ActedAt   time.Time
}

// InfractionStore: долговременное хранилище нарушений (database.DB)
type InfractionStore interface {
	GetInfraction(ctx context.Context, settingsID int, userID int64) (*database.UserInfraction, error)
	IncrementStrikes(ctx context.Context, settingsID int, userID int64, username *string, at time.Time) (*database.UserInfraction, error)
	ApplyStrikeOutcome(ctx context.Context, id int, muted bool, ban *database.BanEntry, at time.Time) error
	SetProbation(ctx context.Context, settingsID int, userID int64, username *string, now, until time.Time) error
}

// Ledger ведёт страйки и испытательный срок. БД является источником истины,
// кэш (может быть nil) ускоряет и имеет свой TTL.
type Ledger struct {
	store InfractionStore
	cache cachestore.Store
	// подменяется в тестах
	Now func() time.Time
}

func NewLedger(store InfractionStore, cache cachestore.Store) *Ledger {
	return &Ledger{store: store, cache: cache, Now: time.Now}
}

func strikesKey(chatID, userID int64) string {
	return fmt.Sprintf("strikes:%d:%d", chatID, userID)
}

func probationKey(chatID, userID int64) string {
	return fmt.Sprintf("probation:%d:%d", chatID, userID)
}

// ThresholdAction выбирает действие, проверяя пороги сверху вниз
func ThresholdAction(strikes int, t Thresholds) (Action, int) {
	switch {
	case strikes >= t.Ban:
		return ActionBan, t.Ban
	case strikes >= t.Mute:
		return ActionMute, t.Mute
	case strikes >= t.Warn:
		return ActionWarn, t.Warn
	default:
		return ActionDelete, t.Warn
	}
}

// IncrementStrike записывает страйк и решает, что делать с пользователем.
// Ошибка записи в БД возвращается, ошибки кэша только логируются.
func (l *Ledger) IncrementStrike(ctx context.Context, p *Profile, userID, chatID int64, reason, username string) (StrikeDecision, error) {
	actedAt := l.Now().UTC()

	var (
		cached    int64
		cacheOK   bool
		record    *database.UserInfraction
		usernameP *string
	)
	if username != "" {
		usernameP = &username
	}

	g, gctx := errgroup.WithContext(ctx)
	if l.cache != nil {
		g.Go(func() error {
			n, err := l.cache.Incr(gctx, strikesKey(chatID, userID), p.StrikeTTL)
			if err != nil {
				slog.Warn("strike counter cache unavailable, using durable count", "chat", chatID, "user", userID, "err", err)
				return nil
			}
			cached, cacheOK = n, true
			return nil
		})
	}
	g.Go(func() error {
		rec, err := l.store.IncrementStrikes(gctx, p.SettingsID, userID, usernameP, actedAt)
		if err != nil {
			return fmt.Errorf("increment strikes: %w", err)
		}
		record = rec
		return nil
	})
	if err := g.Wait(); err != nil {
		return StrikeDecision{}, err
	}

	strikes := record.StrikeCount
	if cacheOK {
		strikes = int(cached)
	}

	action, threshold := ThresholdAction(strikes, p.Thresholds)
	var ban *database.BanEntry
	if action == ActionBan {
		ban = &database.BanEntry{Timestamp: actedAt, Reason: reason}
	}
	if err := l.store.ApplyStrikeOutcome(ctx, record.ID, action == ActionMute, ban, actedAt); err != nil {
		return StrikeDecision{}, fmt.Errorf("apply strike outcome: %w", err)
	}

	return StrikeDecision{
		Action:    action,
		Strikes:   strikes,
		Threshold: threshold,
		Reason:    reason,
		ActedAt:   actedAt,
	}, nil
}

// IsTrusted: статический список админов или флаг в записи нарушений
func (l *Ledger) IsTrusted(ctx context.Context, p *Profile, userID int64) (bool, error) {
	rec, err := l.store.GetInfraction(ctx, p.SettingsID, userID)
	if err != nil {
		return false, err
	}
	return rec != nil && (rec.IsAdmin || rec.IsTrusted), nil
}
