package quests

import (
	"context"
	"sync"
	"time"

	"splguard/database"
)

type fakeStore struct {
	mu      sync.Mutex
	members []*database.ZealyMember
	quests  []*database.ZealyQuest
	grants  []database.ZealyGrant
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (f *fakeStore) find(match func(*database.ZealyMember) bool) *database.ZealyMember {
	for _, m := range f.members {
		if match(m) {
			cp := *m
			return &cp
		}
	}
	return nil
}

func (f *fakeStore) byID(id int) *database.ZealyMember {
	for _, m := range f.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeStore) add(m database.ZealyMember) *database.ZealyMember {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = len(f.members) + 1
	f.members = append(f.members, &m)
	cp := m
	return &cp
}

func (f *fakeStore) GetMember(ctx context.Context, telegramID int64) (*database.ZealyMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(m *database.ZealyMember) bool { return m.TelegramID == telegramID }), nil
}

func (f *fakeStore) GetMemberByZealyID(ctx context.Context, id string) (*database.ZealyMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(m *database.ZealyMember) bool { return m.ZealyUserID != nil && *m.ZealyUserID == id }), nil
}

func (f *fakeStore) GetMemberByWallet(ctx context.Context, wallet string) (*database.ZealyMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(m *database.ZealyMember) bool { return m.Wallet != nil && *m.Wallet == wallet }), nil
}

func (f *fakeStore) GetOrCreateMember(ctx context.Context, telegramID int64) (*database.ZealyMember, bool, error) {
	if m, _ := f.GetMember(ctx, telegramID); m != nil {
		return m, false, nil
	}
	return f.add(database.ZealyMember{TelegramID: telegramID}), true, nil
}

func (f *fakeStore) SetMemberWallet(ctx context.Context, memberID int, wallet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.ID != memberID && m.Wallet != nil && *m.Wallet == wallet {
			return database.ErrDuplicate
		}
	}
	f.byID(memberID).Wallet = &wallet
	return nil
}

func (f *fakeStore) SetMemberZealyID(ctx context.Context, memberID int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID(memberID).ZealyUserID = &id
	return nil
}

func (f *fakeStore) GetOrCreateQuest(ctx context.Context, slug string, xp int, zid *string) (*database.ZealyQuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quests {
		if q.Slug == slug {
			cp := *q
			return &cp, nil
		}
	}
	q := &database.ZealyQuest{ID: len(f.quests) + 1, Slug: slug, XPValue: xp, ZealyQuestID: zid, UpdatedAt: time.Now()}
	f.quests = append(f.quests, q)
	cp := *q
	return &cp, nil
}

func (f *fakeStore) ListQuests(ctx context.Context, limit int) ([]database.ZealyQuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.ZealyQuest
	for i := len(f.quests) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *f.quests[i])
	}
	return out, nil
}

func (f *fakeStore) InsertGrant(ctx context.Context, g *database.ZealyGrant, xp, level int, tier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.grants {
		if existing.MemberID == g.MemberID && existing.QuestID == g.QuestID {
			return database.ErrDuplicate
		}
	}
	g.ID = len(f.grants) + 1
	g.CreatedAt = time.Now()
	f.grants = append(f.grants, *g)
	m := f.byID(g.MemberID)
	m.XP, m.Level, m.Tier = xp, level, &tier
	return nil
}

func (f *fakeStore) GrantExistsForTx(ctx context.Context, txRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.TxRef != nil && *g.TxRef == txRef {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) RecentGrants(ctx context.Context, memberID, limit int) ([]database.ZealyGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.ZealyGrant
	for i := len(f.grants) - 1; i >= 0 && len(out) < limit; i-- {
		if f.grants[i].MemberID == memberID {
			out = append(out, f.grants[i])
		}
	}
	return out, nil
}

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *fakeNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{chatID, text})
	return nil
}
