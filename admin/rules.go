// Package admin implements staff commands that change moderation settings: generic
// rule-field updates, contract addresses and infraction exports.
package admin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"splguard/database"
	"splguard/messages"
)

var (
	ErrUnknownField    = errors.New("unknown moderation rule field")
	ErrSettingsMissing = errors.New("settings record not found")
)

// ValidationError: ошибка разбора значения; Message показывается админу
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ============================================
// Field dispatch table
// ============================================

type ruleField struct {
	// apply разбирает значение и записывает его в правило
	apply func(r *database.ModerationRule, raw string) error
	show  func(r *database.ModerationRule) string
}

var ruleFields = map[string]ruleField{
	"allowed_domains": {
		apply: func(r *database.ModerationRule, raw string) error {
			r.AllowedDomains = splitList(raw)
			return nil
		},
		show: func(r *database.ModerationRule) string { return strings.Join(r.AllowedDomains, ", ") },
	},
	"ad_keywords": {
		apply: func(r *database.ModerationRule, raw string) error {
			r.AdKeywords = splitList(raw)
			return nil
		},
		show: func(r *database.ModerationRule) string { return strings.Join(r.AdKeywords, ", ") },
	},
	"max_mentions": {
		apply: func(r *database.ModerationRule, raw string) error {
			n, err := parseCount("max_mentions", raw)
			if err == nil {
				r.MaxMentions = n
			}
			return err
		},
		show: func(r *database.ModerationRule) string { return strconv.Itoa(r.MaxMentions) },
	},
	"new_user_probation_duration": {
		apply: func(r *database.ModerationRule, raw string) error {
			n, err := parseCount("new_user_probation_duration", raw)
			if err == nil {
				r.NewUserProbationDuration = n
			}
			return err
		},
		show: func(r *database.ModerationRule) string { return strconv.Itoa(r.NewUserProbationDuration) },
	},
	"repeated_offense_thresholds": {
		apply: func(r *database.ModerationRule, raw string) error {
			t, err := parseThresholds(raw)
			if err == nil {
				r.RepeatedOffenseThresholds = t
			}
			return err
		},
		show: func(r *database.ModerationRule) string { return formatThresholds(r.RepeatedOffenseThresholds) },
	},
	"link_posting_policy": {
		apply: func(r *database.ModerationRule, raw string) error {
			r.LinkPostingPolicy = strings.TrimSpace(raw)
			return nil
		},
		show: func(r *database.ModerationRule) string { return r.LinkPostingPolicy },
	},
}

// Fields: имена полей для подсказки в /setrule
func Fields() []string {
	return slices.Sorted(maps.Keys(ruleFields))
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseCount(field, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ValidationError{Field: field, Message: "value must be a whole number."}
	}
	if n < 0 {
		return 0, &ValidationError{Field: field, Message: "value cannot be negative."}
	}
	return n, nil
}

// parseThresholds разбирает "warn=2, mute=4, ban=6"; куски без "=" пропускаются
func parseThresholds(raw string) (map[string]int, error) {
	out := map[string]int{}
	for _, chunk := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(chunk, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || key == "" {
			return nil, &ValidationError{
				Field:   "repeated_offense_thresholds",
				Message: fmt.Sprintf("expected key=number pairs, got %q.", strings.TrimSpace(chunk)),
			}
		}
		out[key] = n
	}
	return out, nil
}

func formatThresholds(t map[string]int) string {
	parts := make([]string, 0, len(t))
	for _, k := range slices.Sorted(maps.Keys(t)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, t[k]))
	}
	return strings.Join(parts, ", ")
}

// ============================================
// Service
// ============================================

type Store interface {
	GetSettings(ctx context.Context) (*database.Settings, error)
	GetOrCreateRule(ctx context.Context, settingsID int) (*database.ModerationRule, error)
	SaveRule(ctx context.Context, r *database.ModerationRule) error
	SetContractAddresses(ctx context.Context, settingsID int, addresses []string) error
	RecentInfractions(ctx context.Context, since time.Time, limit int) ([]database.UserInfraction, error)
}

// ProfileCache сбрасывает закэшированный профиль модерации
type ProfileCache interface {
	Purge()
}

type AuditSink interface {
	Audit(ctx context.Context, channelID int64, text string) error
}

type Service struct {
	store        Store
	profiles     ProfileCache
	audit        AuditSink
	auditChannel int64
	Now          func() time.Time
}

func NewService(store Store, profiles ProfileCache, audit AuditSink, auditChannel int64) *Service {
	return &Service{store: store, profiles: profiles, audit: audit, auditChannel: auditChannel, Now: time.Now}
}

type Change struct {
	Field  string
	Before string
	After  string
}

// SetRule меняет одно поле правила модерации по имени
func (s *Service) SetRule(ctx context.Context, adminID int64, field, value string) (Change, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	f, ok := ruleFields[field]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return Change{}, fmt.Errorf("get settings: %w", err)
	}
	if settings == nil {
		return Change{}, ErrSettingsMissing
	}
	rule, err := s.store.GetOrCreateRule(ctx, settings.ID)
	if err != nil {
		return Change{}, fmt.Errorf("get rule: %w", err)
	}

	change := Change{Field: field, Before: f.show(rule)}
	if err := f.apply(rule, value); err != nil {
		return Change{}, err
	}
	change.After = f.show(rule)

	if err := s.store.SaveRule(ctx, rule); err != nil {
		return Change{}, fmt.Errorf("save rule: %w", err)
	}
	s.profiles.Purge()
	s.auditChange(ctx, messages.FormatRuleAudit(adminID, field, change.Before, change.After))
	return change, nil
}

// SetContract заменяет адреса контракта токена
func (s *Service) SetContract(ctx context.Context, adminID int64, addresses []string) (Change, error) {
	normalized := splitList(strings.Join(addresses, ","))
	if len(normalized) == 0 {
		return Change{}, &ValidationError{Message: "Provide at least one contract address."}
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return Change{}, fmt.Errorf("get settings: %w", err)
	}
	if settings == nil {
		return Change{}, ErrSettingsMissing
	}
	if err := s.store.SetContractAddresses(ctx, settings.ID, normalized); err != nil {
		return Change{}, fmt.Errorf("set contract: %w", err)
	}

	change := Change{
		Field:  "contract_addresses",
		Before: strings.Join(settings.ContractAddresses, ", "),
		After:  strings.Join(normalized, ", "),
	}
	s.profiles.Purge()
	s.auditChange(ctx, messages.FormatRuleAudit(adminID, change.Field, change.Before, change.After))
	return change, nil
}

func (s *Service) auditChange(ctx context.Context, text string) {
	if s.audit == nil || s.auditChannel == 0 {
		return
	}
	if err := s.audit.Audit(ctx, s.auditChannel, text); err != nil {
		slog.Warn("failed to send admin audit entry", "err", err)
	}
}

// ============================================
// Infraction export
// ============================================

const exportLimit = 100

type LogEntry struct {
	UserID    string
	Username  string
	Strikes   string
	UpdatedAt string
	Notes     string
}

func (s *Service) ExportLogs(ctx context.Context, days int) ([]LogEntry, error) {
	if days <= 0 {
		return nil, &ValidationError{Message: "Days must be a positive integer."}
	}
	since := s.Now().UTC().AddDate(0, 0, -days)
	records, err := s.store.RecentInfractions(ctx, since, exportLimit)
	if err != nil {
		return nil, fmt.Errorf("recent infractions: %w", err)
	}

	out := make([]LogEntry, 0, len(records))
	for _, r := range records {
		e := LogEntry{
			UserID:  strconv.FormatInt(r.TelegramUserID, 10),
			Strikes: strconv.Itoa(r.StrikeCount),
		}
		if r.Username != nil {
			e.Username = *r.Username
		}
		if r.Notes != nil {
			e.Notes = *r.Notes
		}
		if !r.UpdatedAt.IsZero() {
			e.UpdatedAt = r.UpdatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, e)
	}
	return out, nil
}

func WriteCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "username", "strikes", "updated_at", "notes"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.UserID, e.Username, e.Strikes, e.UpdatedAt, e.Notes}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
