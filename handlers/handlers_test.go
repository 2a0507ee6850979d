package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splguard/admin"
	"splguard/cachestore"
	"splguard/config"
	"splguard/database"
	"splguard/messages"
	"splguard/moderation"
	"splguard/tglog"
)

// apiCall: запрос к фейковому Bot API
type apiCall struct {
	method string
	form   map[string]string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	// method -> описание ошибки 403
	forbidden map[string]string
	srv       *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	api := &fakeAPI{forbidden: map[string]string{}}
	api.srv = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	_ = r.ParseMultipartForm(1 << 20)
	form := map[string]string{}
	for k, v := range r.Form {
		form[k] = v[0]
	}

	a.mu.Lock()
	a.calls = append(a.calls, apiCall{method: method, form: form})
	n := len(a.calls)
	desc, forbid := a.forbidden[method]
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if forbid {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 403, "description": desc})
		return
	}

	var result any = true
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "guard", "username": "guard_bot"}
	case "sendMessage", "sendDocument":
		result = map[string]any{"message_id": n, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}}
	case "createChatInviteLink":
		result = map[string]any{
			"invite_link":          fmt.Sprintf("https://t.me/+ref%d", n),
			"name":                 form["name"],
			"creates_join_request": true,
			"creator":              map[string]any{"id": 1, "is_bot": true, "first_name": "guard"},
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (a *fakeAPI) byMethod(method string) []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []apiCall
	for _, c := range a.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (a *fakeAPI) texts() []string {
	var out []string
	for _, c := range a.byMethod("sendMessage") {
		out = append(out, c.form["text"])
	}
	return out
}

func newTelegram(t *testing.T, api *fakeAPI) *Telegram {
	b, err := bot.New("123:TEST", bot.WithServerURL(api.srv.URL))
	require.NoError(t, err)
	return NewTelegram(b)
}

type fakeInfo struct {
	settings *database.Settings
	team     []database.TeamMember
}

func (f *fakeInfo) GetSettings(ctx context.Context) (*database.Settings, error) {
	return f.settings, nil
}

func (f *fakeInfo) ListTeam(ctx context.Context, settingsID int) ([]database.TeamMember, error) {
	return f.team, nil
}

func strPtr(s string) *string { return &s }

func newTestHandler(t *testing.T) (*Handler, *fakeAPI) {
	api := newFakeAPI(t)
	info := &fakeInfo{
		settings: &database.Settings{
			ID:                1,
			ProjectName:       "SPL Shield",
			TokenTicker:       "TDL",
			ContractAddresses: []string{"Mint111"},
			Website:           strPtr("https://splshield.example"),
			SocialLinks:       map[string]string{"twitter": "https://x.com/spl"},
		},
		team: []database.TeamMember{{Name: "Ana", Role: "Lead", Contact: strPtr("@ana")}},
	}
	h := New(Deps{
		Config:      &config.Config{OwnerID: 1000, AdminIDs: []int64{1001}},
		Telegram:    newTelegram(t, api),
		Cache:       cachestore.NewMemStore(),
		Info:        info,
		BotUsername: "guard_bot",
	})
	return h, api
}

func textUpdate(chatID, userID int64, chatType models.ChatType, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   10,
		Chat: models.Chat{ID: chatID, Type: chatType},
		From: &models.User{ID: userID, FirstName: "User"},
		Text: text,
	}}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		args string
		ok   bool
	}{
		{"/start", "start", "", true},
		{"/Link  Wallet123 ", "link", "Wallet123", true},
		{"/submit@guard_bot sig", "submit", "sig", true},
		{"/submit@GUARD_BOT sig", "submit", "sig", true},
		{"/submit@other_bot sig", "", "", false},
		{"hello /start", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.text, "guard_bot")
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		assert.Equal(t, tt.args, args, tt.text)
	}
}

func TestToInbound(t *testing.T) {
	assert := assert.New(t)

	// эмодзи занимает две единицы UTF-16
	text := "🔥 join spam.example now @a @b"
	msg := &models.Message{
		ID:   5,
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
		From: &models.User{ID: 7, Username: "spammer"},
		Text: text,
		Entities: []models.MessageEntity{
			{Type: models.MessageEntityTypeURL, Offset: 8, Length: 12},
			{Type: models.MessageEntityTypeMention, Offset: 25, Length: 2},
			{Type: models.MessageEntityTypeMention, Offset: 28, Length: 2},
		},
		Caption:         "see more",
		CaptionEntities: []models.MessageEntity{{Type: models.MessageEntityTypeTextLink, Offset: 0, Length: 3, URL: "https://Docs.Example/x"}},
		Photo:           []models.PhotoSize{{FileID: "p"}},
	}

	in := toInbound(msg)
	assert.Equal(int64(-100), in.ChatID)
	assert.Equal("supergroup", in.ChatType)
	assert.Equal(5, in.MessageID)
	assert.Equal(int64(7), in.UserID)
	assert.Equal("spammer", in.Username)
	assert.Equal(text+" see more", in.Text)
	assert.Equal([]string{"docs.example", "spam.example"}, in.Domains)
	assert.Equal(2, in.Mentions)
	assert.True(in.HasMedia)

	assert.Empty(entityText("short", models.MessageEntity{Offset: 3, Length: 10}))
}

func TestInfoCommands(t *testing.T) {
	assert := assert.New(t)
	h, api := newTestHandler(t)
	ctx := context.Background()

	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/start"))
	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/contract"))
	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/links"))
	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/team"))

	texts := api.texts()
	require.Len(t, texts, 4)
	assert.Equal(messages.FormatWelcome("SPL Shield"), texts[0])
	assert.Contains(texts[1], "Mint111")
	assert.Contains(texts[2], "https://x.com/spl")
	assert.Contains(texts[2], "website")
	assert.Contains(texts[3], "Ana")
	assert.Equal("HTML", api.byMethod("sendMessage")[0].form["parse_mode"])
}

func TestRateLimit(t *testing.T) {
	h, api := newTestHandler(t)
	ctx := context.Background()

	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/start"))
	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/start"))
	// другая команда, своё окно
	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/contract"))

	texts := api.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, messages.MsgRateLimited, texts[1])
	assert.Contains(t, texts[2], "Mint111")
}

func TestDisabledFeatures(t *testing.T) {
	h, api := newTestHandler(t)
	ctx := context.Background()

	for _, cmd := range []string{"/presale", "/link abc", "/xp", "/submit sig", "/invite"} {
		h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, cmd))
	}
	assert.Equal(t, []string{
		messages.MsgPresaleUnavailable,
		messages.MsgNotConfigured,
		messages.MsgNotConfigured,
		messages.MsgNotConfigured,
		messages.MsgInviteUnavailable,
	}, api.texts())
}

type fakeRuleStore struct {
	rule *database.ModerationRule
}

func (f *fakeRuleStore) GetSettings(ctx context.Context) (*database.Settings, error) {
	return &database.Settings{ID: 1}, nil
}

func (f *fakeRuleStore) GetOrCreateRule(ctx context.Context, settingsID int) (*database.ModerationRule, error) {
	cp := *f.rule
	return &cp, nil
}

func (f *fakeRuleStore) SaveRule(ctx context.Context, r *database.ModerationRule) error {
	f.rule = r
	return nil
}

func (f *fakeRuleStore) SetContractAddresses(ctx context.Context, settingsID int, addresses []string) error {
	return nil
}

func (f *fakeRuleStore) RecentInfractions(ctx context.Context, since time.Time, limit int) ([]database.UserInfraction, error) {
	return []database.UserInfraction{{TelegramUserID: 9, StrikeCount: 3}}, nil
}

type noopPurger struct{}

func (noopPurger) Purge() {}

func TestAdminCommands(t *testing.T) {
	assert := assert.New(t)
	h, api := newTestHandler(t)
	ctx := context.Background()
	store := &fakeRuleStore{rule: &database.ModerationRule{MaxMentions: 5}}
	h.Admin = admin.NewService(store, noopPurger{}, nil, 0)

	h.OnMessage(ctx, nil, textUpdate(5, 5, models.ChatTypePrivate, "/setrule max_mentions 3"))
	h.OnMessage(ctx, nil, textUpdate(1001, 1001, models.ChatTypePrivate, "/setrule max_mentions 3"))
	h.OnMessage(ctx, nil, textUpdate(1001, 1001, models.ChatTypePrivate, "/setrule owner 3"))
	h.OnMessage(ctx, nil, textUpdate(1001, 1001, models.ChatTypePrivate, "/setrule max_mentions lots"))
	h.OnMessage(ctx, nil, textUpdate(1000, 1000, models.ChatTypePrivate, "/exportlogs 0"))
	h.OnMessage(ctx, nil, textUpdate(1000, 1000, models.ChatTypePrivate, "/exportlogs"))

	texts := api.texts()
	require.Len(t, texts, 5)
	assert.Equal(messages.MsgAdminOnly, texts[0])
	assert.Equal(messages.FormatRuleUpdated("max_mentions", "5", "3"), texts[1])
	assert.Equal(messages.FormatUnknownField(admin.Fields()), texts[2])
	assert.Contains(texts[3], "whole number")
	assert.Equal("Days must be a positive integer.", texts[4])
	assert.Equal(3, store.rule.MaxMentions)

	docs := api.byMethod("sendDocument")
	require.Len(t, docs, 1)
	assert.Equal("1 records", docs[0].form["caption"])
}

func TestJoinRequestApproved(t *testing.T) {
	h, api := newTestHandler(t)
	h.OnJoinRequest(context.Background(), nil, &models.Update{ChatJoinRequest: &models.ChatJoinRequest{
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
		From: models.User{ID: 77, FirstName: "New"},
	}})

	approved := api.byMethod("approveChatJoinRequest")
	require.Len(t, approved, 1)
	assert.Equal(t, "-100", approved[0].form["chat_id"])
	assert.Equal(t, "77", approved[0].form["user_id"])
}

func TestPlatformErrors(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTelegram(t, api)
	ctx := context.Background()

	api.forbidden["deleteMessage"] = "Forbidden: not enough rights"
	err := tg.DeleteMessage(ctx, -100, 5)
	assert.ErrorIs(t, err, moderation.ErrPlatform)
	assert.ErrorContains(t, err, "delete message")

	require.NoError(t, tg.Ban(ctx, -100, 7))
	calls := api.byMethod("banChatMember")
	require.Len(t, calls, 1)
	assert.Equal(t, "7", calls[0].form["user_id"])

	assert.NotErrorIs(t, platformErr("x", context.Canceled), moderation.ErrPlatform)
	assert.NotErrorIs(t, platformErr("x", errors.New("decode response")), moderation.ErrPlatform)
	assert.Nil(t, platformErr("x", nil))
}

func TestCreateInviteLink(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTelegram(t, api)

	expire := time.Unix(1_800_000_000, 0)
	link, err := tg.CreateInviteLink(context.Background(), -100, "ref-7", &expire)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "https://t.me/+ref"))
	assert.Equal(t, "ref-7", link.Name)
	assert.True(t, link.CreatesJoinRequest)

	calls := api.byMethod("createChatInviteLink")
	require.Len(t, calls, 1)
	assert.Equal(t, "1800000000", calls[0].form["expire_date"])
	assert.Equal(t, "true", calls[0].form["creates_join_request"])
}

func TestAuditThroughAdapter(t *testing.T) {
	api := newFakeAPI(t)
	tg := newTelegram(t, api)
	api.forbidden["sendMessage"] = "Forbidden: bot is not a member of the channel chat"

	err := tglog.New(tg, -900).Audit(context.Background(), -900, "entry")
	assert.ErrorIs(t, err, moderation.ErrPlatform)
}

// infractionStore: moderation.InfractionStore в памяти
type infractionStore struct {
	mu      sync.Mutex
	records map[int64]*database.UserInfraction
	next    int
}

func newInfractionStore() *infractionStore {
	return &infractionStore{records: map[int64]*database.UserInfraction{}}
}

func (s *infractionStore) GetInfraction(ctx context.Context, settingsID int, userID int64) (*database.UserInfraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *infractionStore) record(settingsID int, userID int64) *database.UserInfraction {
	rec, ok := s.records[userID]
	if !ok {
		s.next++
		rec = &database.UserInfraction{ID: s.next, SettingsID: settingsID, TelegramUserID: userID}
		s.records[userID] = rec
	}
	return rec
}

func (s *infractionStore) IncrementStrikes(ctx context.Context, settingsID int, userID int64, username *string, at time.Time) (*database.UserInfraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(settingsID, userID)
	rec.StrikeCount++
	rec.Username = username
	cp := *rec
	return &cp, nil
}

func (s *infractionStore) ApplyStrikeOutcome(ctx context.Context, id int, muted bool, ban *database.BanEntry, at time.Time) error {
	return nil
}

func (s *infractionStore) SetProbation(ctx context.Context, settingsID int, userID int64, username *string, now, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(settingsID, userID).ProbationUntil = &until
	return nil
}

func (s *infractionStore) strikes(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[userID]; ok {
		return rec.StrikeCount
	}
	return 0
}

type staticProfile struct{ p *moderation.Profile }

func (s staticProfile) Load(ctx context.Context) (*moderation.Profile, error) { return s.p, nil }

func newModeratedHandler(t *testing.T) (*Handler, *fakeAPI, *infractionStore) {
	h, api := newTestHandler(t)
	settings, err := h.Info.GetSettings(context.Background())
	require.NoError(t, err)

	profile := moderation.BuildProfile(settings, &database.ModerationRule{MaxMentions: 5}, 0)
	store := newInfractionStore()
	h.Moderator = moderation.NewModerator(staticProfile{p: profile}, moderation.NewLedger(store, nil), h.Telegram, nil, 1000, []int64{1001})
	return h, api, store
}

func TestCommandsAreModeratedInGroups(t *testing.T) {
	assert := assert.New(t)
	h, api, store := newModeratedHandler(t)
	ctx := context.Background()
	welcome := messages.FormatWelcome("SPL Shield")

	withLink := textUpdate(-100, 7, models.ChatTypeSupergroup, "/start https://evil.example/x")
	withLink.Message.Entities = []models.MessageEntity{{Type: models.MessageEntityTypeURL, Offset: 7, Length: 22}}
	h.OnMessage(ctx, nil, withLink)

	deletes := api.byMethod("deleteMessage")
	require.Len(t, deletes, 1)
	assert.Equal("-100", deletes[0].form["chat_id"])
	assert.Equal("10", deletes[0].form["message_id"])
	assert.Equal(1, store.strikes(7))
	assert.NotContains(api.texts(), welcome)

	// чистая команда в группе выполняется
	h.OnMessage(ctx, nil, textUpdate(-100, 8, models.ChatTypeSupergroup, "/start"))
	assert.Contains(api.texts(), welcome)
	assert.Len(api.byMethod("deleteMessage"), 1)
	assert.Zero(store.strikes(8))

	// админ и личный чат модерацию не проходят
	h.OnMessage(ctx, nil, textUpdate(-100, 1001, models.ChatTypeSupergroup, "/contract https://evil.example/x"))
	h.OnMessage(ctx, nil, textUpdate(7, 7, models.ChatTypePrivate, "/links https://evil.example/x"))
	assert.Len(api.byMethod("deleteMessage"), 1)
	assert.Equal(1, store.strikes(7))
	assert.Len(api.texts(), 4)
}

func TestNewMembersGetProbation(t *testing.T) {
	assert := assert.New(t)
	h, api, store := newModeratedHandler(t)
	ctx := context.Background()

	h.OnMessage(ctx, nil, &models.Update{Message: &models.Message{
		ID:             11,
		Chat:           models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
		From:           &models.User{ID: 9},
		NewChatMembers: []models.User{{ID: 9, Username: "fresh"}, {ID: 99, IsBot: true}},
	}})
	rec, err := store.GetInfraction(ctx, 1, 9)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.ProbationUntil)
	assert.True(rec.ProbationUntil.After(time.Now()))
	botRec, err := store.GetInfraction(ctx, 1, 99)
	require.NoError(t, err)
	assert.Nil(botRec)

	// медиа на испытательном сроке удаляется вместе с командой
	update := textUpdate(-100, 9, models.ChatTypeSupergroup, "/start")
	update.Message.Photo = []models.PhotoSize{{FileID: "p"}}
	h.OnMessage(ctx, nil, update)

	assert.Len(api.byMethod("deleteMessage"), 1)
	assert.Equal(1, store.strikes(9))
	assert.NotContains(api.texts(), messages.FormatWelcome("SPL Shield"))
}
