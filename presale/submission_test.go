package presale

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splguard/cachestore"
	"splguard/database"
	"splguard/quests"
)

type stubVerifier struct {
	out   Outcome
	calls int
}

func (v *stubVerifier) Verify(ctx context.Context, signature, wallet string) Outcome {
	v.calls++
	return v.out
}

type fakeLedger struct {
	member    *database.ZealyMember
	submitted map[string]bool
	grants    map[int]bool
	failGrant error
}

func (l *fakeLedger) Member(ctx context.Context, telegramID int64) (*database.ZealyMember, error) {
	return l.member, nil
}

func (l *fakeLedger) TxSubmitted(ctx context.Context, txRef string) (bool, error) {
	return l.submitted[txRef], nil
}

func (l *fakeLedger) Quest(ctx context.Context, slug string, xpValue int) (*database.ZealyQuest, error) {
	return &database.ZealyQuest{ID: 1, Slug: slug, XPValue: xpValue}, nil
}

func (l *fakeLedger) RecordGrant(ctx context.Context, m *database.ZealyMember, q *database.ZealyQuest,
	status database.GrantStatus, txRef string, xp *int) (*quests.GrantResult, error) {
	if l.failGrant != nil {
		return nil, l.failGrant
	}
	if l.grants[q.ID] {
		return nil, quests.ErrDuplicateGrant
	}
	l.grants[q.ID] = true
	l.submitted[txRef] = true
	return &quests.GrantResult{NewTier: quests.TierWL, TierChanged: true}, nil
}

type fakeDLQ struct{ entries []quests.DLQEntry }

func (d *fakeDLQ) Push(ctx context.Context, e quests.DLQEntry) error {
	d.entries = append(d.entries, e)
	return nil
}

func newTestSubmitter(out Outcome) (*Submitter, *stubVerifier, *fakeLedger, *fakeDLQ) {
	w := "BuyerWallet1111111111111111111111111111111"
	v := &stubVerifier{out: out}
	l := &fakeLedger{
		member:    &database.ZealyMember{ID: 1, TelegramID: 10, Wallet: &w},
		submitted: map[string]bool{},
		grants:    map[int]bool{},
	}
	d := &fakeDLQ{}
	s := NewSubmitter(v, l, d, cachestore.NewMemStore())
	s.Rand = func() float64 { return 0.5 }
	return s, v, l, d
}

func TestSubmitSuccess(t *testing.T) {
	assert := assert.New(t)
	s, _, _, dlq := newTestSubmitter(Outcome{OK: true, XPAwarded: 500})

	res, err := s.Submit(context.Background(), 10, "sig-1")
	require.NoError(t, err)
	assert.True(res.Outcome.OK)
	assert.False(res.Cooldown)
	require.NotNil(t, res.Grant)
	assert.True(res.Grant.TierChanged)
	assert.False(res.SpotCheck)
	assert.Empty(dlq.entries)
}

func TestSubmitCooldown(t *testing.T) {
	assert := assert.New(t)
	s, v, _, _ := newTestSubmitter(Outcome{OK: true})

	_, err := s.Submit(context.Background(), 10, "sig-1")
	require.NoError(t, err)
	res, err := s.Submit(context.Background(), 10, "sig-2")
	require.NoError(t, err)
	assert.True(res.Cooldown)
	assert.Equal(1, v.calls)
}

func TestSubmitRejections(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s, v, l, _ := newTestSubmitter(Outcome{OK: true})
	l.member.Wallet = nil
	res, err := s.Submit(ctx, 10, "sig")
	require.NoError(t, err)
	assert.Equal(ReasonWalletNotLinked, res.Outcome.Reason)
	assert.Zero(v.calls)

	s, v, l, _ = newTestSubmitter(Outcome{OK: true})
	l.submitted["sig"] = true
	res, err = s.Submit(ctx, 10, "sig")
	require.NoError(t, err)
	assert.Equal(ReasonAlreadySubmitted, res.Outcome.Reason)
	assert.Zero(v.calls)

	s, _, _, _ = newTestSubmitter(fail(ReasonBuyerNotSigner))
	res, err = s.Submit(ctx, 10, "sig")
	require.NoError(t, err)
	assert.Equal(ReasonBuyerNotSigner, res.Outcome.Reason)
	assert.Nil(res.Grant)
}

func TestSubmitDuplicateGrant(t *testing.T) {
	assert := assert.New(t)
	s, _, l, _ := newTestSubmitter(Outcome{OK: true})
	l.grants[1] = true

	res, err := s.Submit(context.Background(), 10, "sig-new")
	require.NoError(t, err)
	assert.False(res.Outcome.OK)
	assert.Equal(ReasonAlreadySubmitted, res.Outcome.Reason)

	l.grants[1] = false
	l.failGrant = errors.New("db down")
	s2, _, _, _ := newTestSubmitter(Outcome{OK: true})
	s2.quests = l
	_, err = s2.Submit(context.Background(), 10, "sig-other")
	assert.ErrorContains(err, "db down")
}

func TestSubmitSpotCheck(t *testing.T) {
	assert := assert.New(t)
	s, _, _, dlq := newTestSubmitter(Outcome{OK: true})
	s.Rand = func() float64 { return 0.05 }

	res, err := s.Submit(context.Background(), 10, "sig-1")
	require.NoError(t, err)
	assert.True(res.SpotCheck)
	require.Len(t, dlq.entries, 1)
	assert.Equal(quests.DLQEntry{
		Reason:      "spot_check",
		TxSignature: "sig-1",
		TelegramID:  10,
		Wallet:      "BuyerWallet1111111111111111111111111111111",
	}, dlq.entries[0])
}
