package quests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"splguard/httpclient"
)

var ErrNotConfigured = errors.New("quest platform integration is not enabled or configured")

const DefaultBaseURL = "https://api.zealy.io"

type ClientConfig struct {
	Enabled     bool
	APIKey      string
	CommunityID string
	BaseURL     string
}

// Client: REST API квест-платформы. Без ключа и сообщества все вызовы
// возвращают ErrNotConfigured.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig, hc *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = httpclient.New(10 * time.Second)
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Configured() bool {
	return c != nil && c.cfg.Enabled && c.cfg.APIKey != "" && c.cfg.CommunityID != ""
}

func (c *Client) GrantXP(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("xp amount must be positive, got %d", amount)
	}
	path := fmt.Sprintf("/communities/%s/users/%s/xp", url.PathEscape(c.cfg.CommunityID), url.PathEscape(userID))
	return c.post(ctx, path, map[string]any{"amount": amount})
}

func (c *Client) CompleteQuest(ctx context.Context, questID, userID string) error {
	payload := map[string]any{}
	if userID != "" {
		payload["userId"] = userID
	}
	path := fmt.Sprintf("/communities/%s/quests/%s/complete", url.PathEscape(c.cfg.CommunityID), url.PathEscape(questID))
	return c.post(ctx, path, payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quest api %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("quest api %s: status %d", path, resp.StatusCode)
	}
	return nil
}
