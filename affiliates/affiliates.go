// Package affiliates manages per-member referral invite links for the community chat
// and credits joins to the member who shared the link.
package affiliates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"splguard/database"
	"splguard/metrics"
)

var ErrNotConfigured = errors.New("affiliates: community chat is not configured")

type Store interface {
	ListInviteLinks(ctx context.Context, ownerID, chatID int64) ([]database.InviteLink, error)
	CreateInviteLink(ctx context.Context, l *database.InviteLink) error
	DeleteInviteLink(ctx context.Context, id int) error
	GetInviteLink(ctx context.Context, url string) (*database.InviteLink, error)
	RecordJoin(ctx context.Context, inviteLink string, userID int64) (bool, error)
	InviteCount(ctx context.Context, inviteLink string) (int, error)
	TopInviters(ctx context.Context, chatID int64, since *time.Time, limit int) ([]database.InviterStat, error)
}

// CreatedLink: ссылка, выданная платформой
type CreatedLink struct {
	URL                string
	Name               string
	CreatesJoinRequest bool
}

// LinkCreator создаёт и отзывает пригласительные ссылки чата
type LinkCreator interface {
	CreateInviteLink(ctx context.Context, chatID int64, name string, expireAt *time.Time) (CreatedLink, error)
	RevokeInviteLink(ctx context.Context, chatID int64, url string) error
}

type Config struct {
	ChatID int64
	// 0: ссылки без срока действия
	ExpiryDays int
	// 0: без ограничения
	MaxLinksPerUser int
}

type Service struct {
	store Store
	links LinkCreator
	cfg   Config
	Now   func() time.Time
}

func NewService(store Store, links LinkCreator, cfg Config) *Service {
	return &Service{store: store, links: links, cfg: cfg, Now: time.Now}
}

func (s *Service) Enabled() bool { return s.cfg.ChatID != 0 }

func (s *Service) Links(ctx context.Context, ownerID int64) ([]database.InviteLink, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	return s.store.ListInviteLinks(ctx, ownerID, s.cfg.ChatID)
}

// EnsureLink возвращает самую свежую ссылку владельца или создаёт новую,
// предварительно удаляя старые сверх лимита
func (s *Service) EnsureLink(ctx context.Context, ownerID int64, name string) (*database.InviteLink, error) {
	links, err := s.Links(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		return &links[0], nil
	}
	return s.create(ctx, ownerID, name)
}

// RotateLink отзывает текущую ссылку и выдаёт новую
func (s *Service) RotateLink(ctx context.Context, ownerID int64) (*database.InviteLink, error) {
	links, err := s.Links(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		current := links[0]
		if err := s.links.RevokeInviteLink(ctx, s.cfg.ChatID, current.InviteLink); err != nil {
			slog.Debug("unable to revoke invite link", "link", current.InviteLink, "err", err)
		}
		if err := s.store.DeleteInviteLink(ctx, current.ID); err != nil {
			return nil, fmt.Errorf("delete invite link: %w", err)
		}
		links = links[1:]
	}
	if err := s.trim(ctx, links); err != nil {
		return nil, err
	}
	return s.create(ctx, ownerID, "")
}

// trim удаляет старейшие ссылки, чтобы после создания новой их было не больше лимита
func (s *Service) trim(ctx context.Context, links []database.InviteLink) error {
	limit := s.cfg.MaxLinksPerUser
	if limit <= 0 || len(links) < limit {
		return nil
	}
	for _, l := range links[limit-1:] {
		if err := s.store.DeleteInviteLink(ctx, l.ID); err != nil {
			return fmt.Errorf("trim invite links: %w", err)
		}
	}
	return nil
}

func (s *Service) create(ctx context.Context, ownerID int64, name string) (*database.InviteLink, error) {
	if name == "" {
		name = "ref-" + strconv.FormatInt(ownerID, 10)
	}
	var expireAt *time.Time
	if s.cfg.ExpiryDays > 0 {
		t := s.Now().UTC().AddDate(0, 0, s.cfg.ExpiryDays)
		expireAt = &t
	}

	created, err := s.links.CreateInviteLink(ctx, s.cfg.ChatID, name, expireAt)
	if err != nil {
		return nil, fmt.Errorf("create invite link for %d: %w", ownerID, err)
	}

	l := &database.InviteLink{
		OwnerTgID:          ownerID,
		ChatID:             s.cfg.ChatID,
		InviteLink:         created.URL,
		CreatesJoinRequest: created.CreatesJoinRequest,
	}
	if created.Name != "" {
		l.Name = &created.Name
	}
	if err := s.store.CreateInviteLink(ctx, l); err != nil {
		return nil, fmt.Errorf("store invite link: %w", err)
	}
	slog.Info("invite link created", "owner_id", ownerID, "link", l.InviteLink)
	return l, nil
}

// RecordJoin засчитывает вступление по ссылке. Возвращает ссылку (nil, если
// она не реферальная) и признак первого засчитывания.
func (s *Service) RecordJoin(ctx context.Context, url string, userID int64) (*database.InviteLink, bool, error) {
	if !s.Enabled() || url == "" {
		return nil, false, nil
	}
	link, err := s.store.GetInviteLink(ctx, url)
	if err != nil || link == nil {
		return nil, false, err
	}
	if link.OwnerTgID == userID {
		return link, false, nil
	}
	stored, err := s.store.RecordJoin(ctx, link.InviteLink, userID)
	if err != nil {
		return link, false, fmt.Errorf("record join: %w", err)
	}
	if stored {
		metrics.AffiliateJoins.Inc()
	}
	return link, stored, nil
}

func (s *Service) InviteCount(ctx context.Context, url string) (int, error) {
	return s.store.InviteCount(ctx, url)
}

// TopInviters: при days <= 0 за всё время
func (s *Service) TopInviters(ctx context.Context, days, limit int) ([]database.InviterStat, error) {
	if !s.Enabled() {
		return nil, nil
	}
	var since *time.Time
	if days > 0 {
		t := s.Now().UTC().AddDate(0, 0, -days)
		since = &t
	}
	return s.store.TopInviters(ctx, s.cfg.ChatID, since, limit)
}
