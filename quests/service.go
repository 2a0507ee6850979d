package quests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splguard/cachestore"
	"splguard/database"
	"splguard/metrics"
)

var ErrDuplicateGrant = errors.New("duplicate grant")

// Store: часть database.DB, нужная квестам
type Store interface {
	GetMember(ctx context.Context, telegramID int64) (*database.ZealyMember, error)
	GetMemberByZealyID(ctx context.Context, zealyUserID string) (*database.ZealyMember, error)
	GetMemberByWallet(ctx context.Context, wallet string) (*database.ZealyMember, error)
	GetOrCreateMember(ctx context.Context, telegramID int64) (*database.ZealyMember, bool, error)
	SetMemberWallet(ctx context.Context, memberID int, wallet string) error
	SetMemberZealyID(ctx context.Context, memberID int, zealyUserID string) error
	GetOrCreateQuest(ctx context.Context, slug string, xpValue int, zealyQuestID *string) (*database.ZealyQuest, error)
	ListQuests(ctx context.Context, limit int) ([]database.ZealyQuest, error)
	InsertGrant(ctx context.Context, g *database.ZealyGrant, xp, level int, tier string) error
	GrantExistsForTx(ctx context.Context, txRef string) (bool, error)
	RecentGrants(ctx context.Context, memberID, limit int) ([]database.ZealyGrant, error)
}

// Notifier отправляет HTML-сообщение в чат (личка или канал)
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	store        Store
	cache        cachestore.Store
	api          *Client
	notifier     Notifier
	adminChannel int64
}

// NewService: cache может быть nil, тогда дедупликация событий отключена
func NewService(store Store, cache cachestore.Store, api *Client, notifier Notifier, adminChannel int64) *Service {
	return &Service{
		store:        store,
		cache:        cache,
		api:          api,
		notifier:     notifier,
		adminChannel: adminChannel,
	}
}

// ============================================
// Members & wallets
// ============================================

type BindStatus string

const (
	BindCreated   BindStatus = "created"
	BindLinked    BindStatus = "linked"
	BindUnchanged BindStatus = "unchanged"
)

func (s *Service) Member(ctx context.Context, telegramID int64) (*database.ZealyMember, error) {
	return s.store.GetMember(ctx, telegramID)
}

// BindWallet привязывает кошелёк к участнику. Ошибки ввода и занятый
// кошелёк → *ValidationError.
func (s *Service) BindWallet(ctx context.Context, telegramID int64, wallet string) (*database.ZealyMember, BindStatus, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return nil, "", err
	}

	owner, err := s.store.GetMemberByWallet(ctx, w)
	if err != nil {
		return nil, "", fmt.Errorf("lookup wallet: %w", err)
	}
	if owner != nil && owner.TelegramID != telegramID {
		return nil, "", invalid("That wallet is already linked to another member.")
	}

	m, created, err := s.store.GetOrCreateMember(ctx, telegramID)
	if err != nil {
		return nil, "", fmt.Errorf("get member: %w", err)
	}
	if m.Wallet != nil && *m.Wallet == w {
		return m, BindUnchanged, nil
	}

	err = s.store.SetMemberWallet(ctx, m.ID, w)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, "", invalid("That wallet is already linked to another member.")
	}
	if err != nil {
		return nil, "", fmt.Errorf("set wallet: %w", err)
	}
	m.Wallet = &w

	if created {
		return m, BindCreated, nil
	}
	return m, BindLinked, nil
}

// ============================================
// Quests & grants
// ============================================

func (s *Service) Quest(ctx context.Context, slug string, xpValue int) (*database.ZealyQuest, error) {
	return s.store.GetOrCreateQuest(ctx, slug, xpValue, nil)
}

func (s *Service) ActiveQuests(ctx context.Context, limit int) ([]database.ZealyQuest, error) {
	return s.store.ListQuests(ctx, limit)
}

func (s *Service) TxSubmitted(ctx context.Context, txRef string) (bool, error) {
	return s.store.GrantExistsForTx(ctx, txRef)
}

type GrantResult struct {
	Grant         *database.ZealyGrant
	TierChanged   bool
	PreviousTier  *string
	NewTier       string
	LevelChanged  bool
	PreviousLevel int
	NewLevel      int
}

// RecordGrant пишет выдачу XP и пересчитывает уровень и тир участника.
// Повтор (member, quest) → ErrDuplicateGrant.
func (s *Service) RecordGrant(ctx context.Context, m *database.ZealyMember, q *database.ZealyQuest,
	status database.GrantStatus, txRef string, xpAwarded *int) (*GrantResult, error) {

	xp := q.XPValue
	if xpAwarded != nil {
		xp = *xpAwarded
	}
	g := &database.ZealyGrant{
		MemberID:  m.ID,
		QuestID:   q.ID,
		QuestSlug: q.Slug,
		Status:    status,
		XPAwarded: &xp,
	}
	if txRef != "" {
		g.TxRef = &txRef
	}

	prevTier := m.Tier
	prevLevel := m.Level
	if prevLevel == 0 {
		prevLevel = CalculateLevel(m.XP)
	}
	total := m.XP + xp
	level := CalculateLevel(total)
	tier := DetermineTier(total)

	err := s.store.InsertGrant(ctx, g, total, level, tier)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrDuplicateGrant
	}
	if err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}

	m.XP, m.Level, m.Tier = total, level, &tier
	metrics.QuestEvents.WithLabelValues("grant", string(status)).Inc()

	return &GrantResult{
		Grant:         g,
		TierChanged:   normalizeTier(prevTier) != tier,
		PreviousTier:  prevTier,
		NewTier:       tier,
		LevelChanged:  level != prevLevel,
		PreviousLevel: prevLevel,
		NewLevel:      level,
	}, nil
}

type Reward struct {
	Quest     string
	Status    database.GrantStatus
	XP        *int
	TxRef     *string
	CreatedAt time.Time
}

type Summary struct {
	Member     *database.ZealyMember
	Wallet     string
	XP         int
	Level      int
	Tier       *string
	TierLabel  string
	Privileges []string
	Rewards    []Reward
}

// MemberSummary: nil без ошибки, если участника нет
func (s *Service) MemberSummary(ctx context.Context, telegramID int64, recent int) (*Summary, error) {
	m, err := s.store.GetMember(ctx, telegramID)
	if err != nil || m == nil {
		return nil, err
	}

	grants, err := s.store.RecentGrants(ctx, m.ID, recent)
	if err != nil {
		return nil, fmt.Errorf("recent grants: %w", err)
	}

	sum := &Summary{
		Member:     m,
		XP:         m.XP,
		Level:      m.Level,
		Tier:       m.Tier,
		TierLabel:  TierLabel(m.Tier),
		Privileges: TierPrivileges(m.Tier),
	}
	if m.Wallet != nil {
		sum.Wallet = *m.Wallet
	}
	if sum.Level == 0 {
		sum.Level = CalculateLevel(m.XP)
	}
	for _, g := range grants {
		sum.Rewards = append(sum.Rewards, Reward{
			Quest:     g.QuestSlug,
			Status:    g.Status,
			XP:        g.XPAwarded,
			TxRef:     g.TxRef,
			CreatedAt: g.CreatedAt,
		})
	}
	return sum, nil
}

func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil || chatID == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		slog.Debug("quest notification failed", "chat_id", chatID, "err", err)
	}
}
