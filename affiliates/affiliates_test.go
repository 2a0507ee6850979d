package affiliates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splguard/database"
)

type fakeStore struct {
	links []database.InviteLink
	joins map[string]map[int64]time.Time
	since *time.Time
	next  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{joins: map[string]map[int64]time.Time{}}
}

func (f *fakeStore) ListInviteLinks(ctx context.Context, ownerID, chatID int64) ([]database.InviteLink, error) {
	var out []database.InviteLink
	for _, l := range f.links {
		if l.OwnerTgID == ownerID && l.ChatID == chatID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateInviteLink(ctx context.Context, l *database.InviteLink) error {
	f.next++
	l.ID = f.next
	f.links = append(f.links, *l)
	return nil
}

func (f *fakeStore) DeleteInviteLink(ctx context.Context, id int) error {
	for i, l := range f.links {
		if l.ID == id {
			f.links = append(f.links[:i], f.links[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetInviteLink(ctx context.Context, url string) (*database.InviteLink, error) {
	for _, l := range f.links {
		if l.InviteLink == url {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RecordJoin(ctx context.Context, link string, userID int64) (bool, error) {
	if f.joins[link] == nil {
		f.joins[link] = map[int64]time.Time{}
	}
	if _, ok := f.joins[link][userID]; ok {
		return false, nil
	}
	f.joins[link][userID] = time.Now()
	return true, nil
}

func (f *fakeStore) InviteCount(ctx context.Context, link string) (int, error) {
	return len(f.joins[link]), nil
}

func (f *fakeStore) TopInviters(ctx context.Context, chatID int64, since *time.Time, limit int) ([]database.InviterStat, error) {
	f.since = since
	counts := map[int64]int{}
	for _, l := range f.links {
		counts[l.OwnerTgID] += len(f.joins[l.InviteLink])
	}
	var out []database.InviterStat
	for owner, n := range counts {
		out = append(out, database.InviterStat{OwnerID: owner, Joins: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Joins > out[j].Joins })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeCreator struct {
	created []string
	expires []*time.Time
	revoked []string
	fail    error
}

func (c *fakeCreator) CreateInviteLink(ctx context.Context, chatID int64, name string, expireAt *time.Time) (CreatedLink, error) {
	if c.fail != nil {
		return CreatedLink{}, c.fail
	}
	c.created = append(c.created, name)
	c.expires = append(c.expires, expireAt)
	return CreatedLink{
		URL:                fmt.Sprintf("https://t.me/+link%d", len(c.created)),
		Name:               name,
		CreatesJoinRequest: true,
	}, nil
}

func (c *fakeCreator) RevokeInviteLink(ctx context.Context, chatID int64, url string) error {
	c.revoked = append(c.revoked, url)
	return nil
}

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(cfg Config) (*Service, *fakeStore, *fakeCreator) {
	store := newFakeStore()
	creator := &fakeCreator{}
	s := NewService(store, creator, cfg)
	s.Now = func() time.Time { return now }
	return s, store, creator
}

func TestEnsureLinkReusesNewest(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, _, creator := newTestService(Config{ChatID: -100, ExpiryDays: 30})

	l, err := s.EnsureLink(ctx, 7, "")
	require.NoError(t, err)
	assert.Equal("https://t.me/+link1", l.InviteLink)
	assert.Equal("ref-7", *l.Name)
	assert.True(l.CreatesJoinRequest)
	assert.Equal(now.AddDate(0, 0, 30), *creator.expires[0])

	again, err := s.EnsureLink(ctx, 7, "custom")
	require.NoError(t, err)
	assert.Equal(l.InviteLink, again.InviteLink)
	assert.Len(creator.created, 1)
}

func TestRotateLink(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, store, creator := newTestService(Config{ChatID: -100})

	first, err := s.EnsureLink(ctx, 7, "")
	require.NoError(t, err)
	second, err := s.RotateLink(ctx, 7)
	require.NoError(t, err)

	assert.NotEqual(first.InviteLink, second.InviteLink)
	assert.Equal([]string{first.InviteLink}, creator.revoked)
	assert.Nil(creator.expires[1])
	links, _ := s.Links(ctx, 7)
	assert.Len(links, 1)
	assert.Len(store.links, 1)
}

func TestRotateTrimsOldest(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, store, _ := newTestService(Config{ChatID: -100, MaxLinksPerUser: 2})

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.CreateInviteLink(ctx, &database.InviteLink{OwnerTgID: 7, ChatID: -100, InviteLink: fmt.Sprintf("old-%d", i)}))
	}
	l, err := s.RotateLink(ctx, 7)
	require.NoError(t, err)

	links, _ := s.Links(ctx, 7)
	require.Len(t, links, 2)
	assert.Equal(l.InviteLink, links[0].InviteLink)
	assert.Equal("old-2", links[1].InviteLink)
}

func TestRecordJoin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, _, _ := newTestService(Config{ChatID: -100})

	l, err := s.EnsureLink(ctx, 7, "")
	require.NoError(t, err)

	link, stored, err := s.RecordJoin(ctx, l.InviteLink, 50)
	require.NoError(t, err)
	assert.True(stored)
	assert.Equal(int64(7), link.OwnerTgID)

	_, stored, err = s.RecordJoin(ctx, l.InviteLink, 50)
	require.NoError(t, err)
	assert.False(stored)

	// собственная ссылка не засчитывается
	_, stored, err = s.RecordJoin(ctx, l.InviteLink, 7)
	require.NoError(t, err)
	assert.False(stored)

	link, stored, err = s.RecordJoin(ctx, "https://t.me/+public", 51)
	require.NoError(t, err)
	assert.Nil(link)
	assert.False(stored)

	n, err := s.InviteCount(ctx, l.InviteLink)
	require.NoError(t, err)
	assert.Equal(1, n)
}

func TestTopInviters(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, store, _ := newTestService(Config{ChatID: -100})

	a, _ := s.EnsureLink(ctx, 1, "")
	b, _ := s.EnsureLink(ctx, 2, "")
	for _, u := range []int64{10, 11, 12} {
		_, _, _ = s.RecordJoin(ctx, b.InviteLink, u)
	}
	_, _, _ = s.RecordJoin(ctx, a.InviteLink, 10)

	top, err := s.TopInviters(ctx, 7, 10)
	require.NoError(t, err)
	assert.Equal([]database.InviterStat{{OwnerID: 2, Joins: 3}, {OwnerID: 1, Joins: 1}}, top)
	assert.Equal(now.AddDate(0, 0, -7), *store.since)

	_, err = s.TopInviters(ctx, 0, 10)
	require.NoError(t, err)
	assert.Nil(store.since)
}

func TestDisabledAndFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	off, _, _ := newTestService(Config{})
	_, err := off.EnsureLink(ctx, 7, "")
	assert.ErrorIs(err, ErrNotConfigured)
	top, err := off.TopInviters(ctx, 7, 10)
	assert.NoError(err)
	assert.Empty(top)

	s, store, creator := newTestService(Config{ChatID: -100})
	creator.fail = errors.New("not enough rights")
	_, err = s.EnsureLink(ctx, 7, "")
	assert.ErrorContains(err, "not enough rights")
	assert.Empty(store.links)
}
