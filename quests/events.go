package quests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"splguard/database"
	"splguard/messages"
	"splguard/metrics"
)

const (
	eventDedupeTTL  = 30 * time.Second
	leaderboardSize = 5
)

var questEventTexts = map[string]string{
	"quest.claimed":   messages.MsgQuestClaimed,
	"quest.succeeded": messages.MsgQuestSucceeded,
	"quest.failed":    messages.MsgQuestFailed,
}

// ProcessEvent обрабатывает событие квест-платформы. false, если тип события не
// поддерживается; повтор в окне дедупликации считается обработанным.
func (s *Service) ProcessEvent(ctx context.Context, event string, payload map[string]any) bool {
	name := strings.ToLower(event)

	if s.cache != nil {
		stored, err := s.cache.SetNX(ctx, "zealy:event:"+dedupeKey(name, payload), "1", eventDedupeTTL)
		if err != nil {
			slog.Warn("event dedupe unavailable", "event", name, "err", err)
		} else if !stored {
			metrics.QuestEvents.WithLabelValues(name, "duplicate").Inc()
			return true
		}
	}

	var err error
	switch name {
	case "quest.claimed", "quest.succeeded", "quest.failed":
		err = s.handleQuestEvent(ctx, name, payload)
	case "user.joined", "user.left":
		err = s.handleLifecycle(ctx, name, payload)
	case "sprint.started", "sprint.ended":
		s.notify(ctx, s.adminChannel, sprintText(name, payload))
	default:
		slog.Debug("unsupported quest event", "event", name)
		metrics.QuestEvents.WithLabelValues(name, "unsupported").Inc()
		return false
	}

	if err != nil {
		slog.Error("quest event handling failed", "event", name, "err", err)
		metrics.QuestEvents.WithLabelValues(name, "error").Inc()
		return true
	}
	metrics.QuestEvents.WithLabelValues(name, "ok").Inc()
	return true
}

func dedupeKey(event string, payload map[string]any) string {
	if id := str(payload, "eventId"); id != "" {
		return id
	}
	if id := str(payload, "id"); id != "" {
		return id
	}
	return fmt.Sprintf("%s:%s:%s", event, str(payload, "userId"), str(payload, "questId"))
}

func (s *Service) handleQuestEvent(ctx context.Context, event string, payload map[string]any) error {
	userID := str(payload, "userId", "user_id")
	slog.Info("quest event", "event", event, "quest_id", str(payload, "questId", "quest_id"), "user_id", userID)

	if event == "quest.succeeded" {
		s.grantRemoteXP(ctx, userID, payload)
	}

	m, err := s.resolveMember(ctx, payload)
	if err != nil || m == nil || m.TelegramID == 0 {
		return err
	}
	s.notify(ctx, m.TelegramID, questEventTexts[event])
	return nil
}

func (s *Service) grantRemoteXP(ctx context.Context, userID string, payload map[string]any) {
	xp, ok := intValue(payload, "xp", "xpEarned", "xp_earned")
	if !ok || xp <= 0 || userID == "" || !s.api.Configured() {
		return
	}
	err := s.api.GrantXP(ctx, userID, int(xp))
	switch {
	case errors.Is(err, ErrNotConfigured):
		slog.Debug("quest api disabled while handling quest success")
	case err != nil:
		slog.Error("failed to grant quest xp", "user_id", userID, "xp", xp, "err", err)
	}
}

func (s *Service) handleLifecycle(ctx context.Context, event string, payload map[string]any) error {
	slog.Info("quest member event", "event", event, "user_id", str(payload, "userId", "user_id"))

	m, err := s.resolveMember(ctx, payload)
	if err != nil || m == nil || m.TelegramID == 0 {
		return err
	}
	text := messages.MsgSprintLeft
	if event == "user.joined" {
		text = messages.MsgSprintJoined
	}
	s.notify(ctx, m.TelegramID, text)
	return nil
}

func sprintText(event string, payload map[string]any) string {
	name := str(payload, "name", "sprintName")
	if name == "" {
		name = "Sprint"
	}

	var lines []string
	if board, ok := payload["leaderboard"].([]any); ok {
		for _, item := range board {
			if len(lines) == leaderboardSize {
				break
			}
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			user := str(entry, "user", "username")
			if user == "" {
				user = "Participant"
			}
			if xp := str(entry, "xp", "score", "points"); xp != "" {
				lines = append(lines, fmt.Sprintf("%s — %s XP", user, xp))
			} else {
				lines = append(lines, user)
			}
		}
	}
	return messages.FormatSprint(event == "sprint.started", name, lines)
}

// resolveMember ищет участника по id платформы, затем по telegram id, затем по
// кошельку; найденному по косвенному признаку проставляется id платформы
func (s *Service) resolveMember(ctx context.Context, payload map[string]any) (*database.ZealyMember, error) {
	zealyID := str(payload, "userId", "user_id")

	var m *database.ZealyMember
	var err error
	if zealyID != "" {
		if m, err = s.store.GetMemberByZealyID(ctx, zealyID); err != nil {
			return nil, fmt.Errorf("member by zealy id: %w", err)
		}
	}

	if m == nil {
		if tg, ok := intValue(payload, "telegramId", "telegram_id"); ok {
			if m, err = s.store.GetMember(ctx, tg); err != nil {
				return nil, fmt.Errorf("member by telegram id: %w", err)
			}
			s.attachZealyID(ctx, m, zealyID)
		}
	}

	if m == nil && zealyID != "" {
		if wallet := str(payload, "wallet", "walletAddress"); wallet != "" {
			if m, err = s.store.GetMemberByWallet(ctx, wallet); err != nil {
				return nil, fmt.Errorf("member by wallet: %w", err)
			}
			s.attachZealyID(ctx, m, zealyID)
		}
	}
	return m, nil
}

func (s *Service) attachZealyID(ctx context.Context, m *database.ZealyMember, zealyID string) {
	if m == nil || zealyID == "" || (m.ZealyUserID != nil && *m.ZealyUserID == zealyID) {
		return
	}
	if err := s.store.SetMemberZealyID(ctx, m.ID, zealyID); err != nil {
		slog.Warn("failed to attach zealy id", "member_id", m.ID, "err", err)
		return
	}
	m.ZealyUserID = &zealyID
}

// str: первое непустое значение из payload среди keys, приведённое к строке
func str(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		case bool:
			if v {
				return "true"
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func intValue(payload map[string]any, keys ...string) (int64, bool) {
	raw := str(payload, keys...)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
