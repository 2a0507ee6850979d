package quests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientNotConfigured(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	for _, cfg := range []ClientConfig{
		{},
		{Enabled: true, APIKey: "key"},
		{Enabled: false, APIKey: "key", CommunityID: "spl"},
	} {
		c := NewClient(cfg, http.DefaultClient)
		assert.False(c.Configured())
		assert.ErrorIs(c.GrantXP(ctx, "u", 10), ErrNotConfigured)
	}

	var nilClient *Client
	assert.False(nilClient.Configured())
}

func TestClientCompleteQuest(t *testing.T) {
	assert := assert.New(t)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Enabled: true, APIKey: "k", CommunityID: "spl", BaseURL: srv.URL}, srv.Client())
	assert.NoError(c.CompleteQuest(context.Background(), "q-1", "u-1"))
	assert.Equal("/communities/spl/quests/q-1/complete", gotPath)
}

func TestClientErrors(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Enabled: true, APIKey: "k", CommunityID: "spl", BaseURL: srv.URL}, srv.Client())
	assert.ErrorContains(c.GrantXP(context.Background(), "u", 10), "status 403")
	assert.ErrorContains(c.GrantXP(context.Background(), "u", 0), "must be positive")
}
