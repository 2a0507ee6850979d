package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================
// Settings
// ============================================

const settingsColumns = `id, project_name, token_ticker, contract_addresses, explorer_url,
	website, docs, social_links, logo, created_at, updated_at`

func scanSettings(row pgx.Row) (*Settings, error) {
	var s Settings
	err := row.Scan(
		&s.ID, &s.ProjectName, &s.TokenTicker, &s.ContractAddresses, &s.ExplorerURL,
		&s.Website, &s.Docs, &s.SocialLinks, &s.Logo, &s.CreatedAt, &s.UpdatedAt,
	)
	return &s, err
}

// GetSettings возвращает первую (единственную) запись settings или nil
func (db *DB) GetSettings(ctx context.Context) (*Settings, error) {
	query := `SELECT ` + settingsColumns + ` FROM settings ORDER BY id LIMIT 1`
	return noRows(scanSettings(db.Pool.QueryRow(ctx, query)))
}

func (db *DB) SetContractAddresses(ctx context.Context, settingsID int, addresses []string) error {
	query := `UPDATE settings SET contract_addresses = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.Pool.Exec(ctx, query, addresses, settingsID)
	return err
}

// ============================================
// Team
// ============================================

func (db *DB) ListTeam(ctx context.Context, settingsID int) ([]TeamMember, error) {
	query := `
		SELECT id, settings_id, name, role, contact, display_order
		FROM team_members
		WHERE settings_id = $1
		ORDER BY display_order, id`

	rows, err := db.Pool.Query(ctx, query, settingsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var team []TeamMember
	for rows.Next() {
		var m TeamMember
		if err := rows.Scan(&m.ID, &m.SettingsID, &m.Name, &m.Role, &m.Contact, &m.DisplayOrder); err != nil {
			return nil, err
		}
		team = append(team, m)
	}
	return team, rows.Err()
}

// ============================================
// Moderation rules
// ============================================

const ruleColumns = `id, settings_id, link_posting_policy, allowed_domains, ad_keywords,
	max_mentions, new_user_probation_duration, repeated_offense_thresholds, updated_at`

func scanRule(row pgx.Row) (*ModerationRule, error) {
	var r ModerationRule
	err := row.Scan(
		&r.ID, &r.SettingsID, &r.LinkPostingPolicy, &r.AllowedDomains, &r.AdKeywords,
		&r.MaxMentions, &r.NewUserProbationDuration, &r.RepeatedOffenseThresholds, &r.UpdatedAt,
	)
	return &r, err
}

// LoadModerationSettings отдаёт settings и первое правило модерации (оба могут быть nil)
func (db *DB) LoadModerationSettings(ctx context.Context) (*Settings, *ModerationRule, error) {
	settings, err := db.GetSettings(ctx)
	if err != nil || settings == nil {
		return nil, nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM moderation_rules WHERE settings_id = $1 ORDER BY id LIMIT 1`
	rule, err := noRows(scanRule(db.Pool.QueryRow(ctx, query, settings.ID)))
	if err != nil {
		return nil, nil, err
	}
	return settings, rule, nil
}

// GetOrCreateRule создаёт пустое правило, если его ещё нет
func (db *DB) GetOrCreateRule(ctx context.Context, settingsID int) (*ModerationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM moderation_rules WHERE settings_id = $1 ORDER BY id LIMIT 1`
	rule, err := noRows(scanRule(db.Pool.QueryRow(ctx, query, settingsID)))
	if err != nil || rule != nil {
		return rule, err
	}

	insert := `
		INSERT INTO moderation_rules (settings_id)
		VALUES ($1)
		RETURNING ` + ruleColumns
	return scanRule(db.Pool.QueryRow(ctx, insert, settingsID))
}

func (db *DB) SaveRule(ctx context.Context, r *ModerationRule) error {
	query := `
		UPDATE moderation_rules SET
			link_posting_policy = $1,
			allowed_domains = $2,
			ad_keywords = $3,
			max_mentions = $4,
			new_user_probation_duration = $5,
			repeated_offense_thresholds = $6,
			updated_at = NOW()
		WHERE id = $7`
	_, err := db.Pool.Exec(ctx, query,
		r.LinkPostingPolicy, r.AllowedDomains, r.AdKeywords, r.MaxMentions,
		r.NewUserProbationDuration, r.RepeatedOffenseThresholds, r.ID,
	)
	return err
}

// ============================================
// Infractions
// ============================================

const infractionColumns = `id, settings_id, telegram_user_id, username, is_admin, is_trusted,
	is_muted, muted_until, ban_history, strike_count, notes, joined_at, probation_until,
	created_at, updated_at`

func scanInfraction(row pgx.Row) (*UserInfraction, error) {
	var u UserInfraction
	err := row.Scan(
		&u.ID, &u.SettingsID, &u.TelegramUserID, &u.Username, &u.IsAdmin, &u.IsTrusted,
		&u.IsMuted, &u.MutedUntil, &u.BanHistory, &u.StrikeCount, &u.Notes, &u.JoinedAt, &u.ProbationUntil,
		&u.CreatedAt, &u.UpdatedAt,
	)
	u.MutedUntil = utc(u.MutedUntil)
	u.JoinedAt = utc(u.JoinedAt)
	u.ProbationUntil = utc(u.ProbationUntil)
	return &u, err
}

func (db *DB) GetInfraction(ctx context.Context, settingsID int, userID int64) (*UserInfraction, error) {
	query := `
		SELECT ` + infractionColumns + `
		FROM user_infractions
		WHERE settings_id = $1 AND telegram_user_id = $2`
	return noRows(scanInfraction(db.Pool.QueryRow(ctx, query, settingsID, userID)))
}

// IncrementStrikes создаёт запись при первом нарушении и увеличивает strike_count
func (db *DB) IncrementStrikes(ctx context.Context, settingsID int, userID int64, username *string, at time.Time) (*UserInfraction, error) {
	query := `
		INSERT INTO user_infractions (settings_id, telegram_user_id, username, strike_count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (settings_id, telegram_user_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, user_infractions.username),
			strike_count = user_infractions.strike_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + infractionColumns
	return scanInfraction(db.Pool.QueryRow(ctx, query, settingsID, userID, username, at))
}

// ApplyStrikeOutcome фиксирует mute-флаг и (для бана) запись в ban_history
func (db *DB) ApplyStrikeOutcome(ctx context.Context, id int, muted bool, ban *BanEntry, at time.Time) error {
	var banJSON []byte
	if ban != nil {
		raw, err := json.Marshal([]BanEntry{*ban})
		if err != nil {
			return fmt.Errorf("encode ban entry: %w", err)
		}
		banJSON = raw
	}

	query := `
		UPDATE user_infractions SET
			is_muted = $2,
			ban_history = CASE WHEN $3::jsonb IS NULL THEN ban_history ELSE ban_history || $3::jsonb END,
			updated_at = $4
		WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, id, muted, banJSON, at)
	return err
}

// SetProbation ставит probation_until и joined_at (если ещё не задан)
func (db *DB) SetProbation(ctx context.Context, settingsID int, userID int64, username *string, now, until time.Time) error {
	query := `
		INSERT INTO user_infractions (settings_id, telegram_user_id, username, joined_at, probation_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (settings_id, telegram_user_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, user_infractions.username),
			joined_at = COALESCE(user_infractions.joined_at, EXCLUDED.joined_at),
			probation_until = EXCLUDED.probation_until,
			updated_at = EXCLUDED.updated_at`
	_, err := db.Pool.Exec(ctx, query, settingsID, userID, username, now, until)
	return err
}

// RecentInfractions: для экспорта логов модерации
func (db *DB) RecentInfractions(ctx context.Context, since time.Time, limit int) ([]UserInfraction, error) {
	query := `
		SELECT ` + infractionColumns + `
		FROM user_infractions
		WHERE updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserInfraction
	for rows.Next() {
		u, err := scanInfraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ============================================
// Presale
// ============================================

const presaleColumns = `id, settings_id, status::text, platform, links, hardcap::text, softcap::text,
	raised_so_far::text, start_time, end_time, faqs, updated_at`

func scanPresale(row pgx.Row) (*Presale, error) {
	var p Presale
	var status string
	err := row.Scan(
		&p.ID, &p.SettingsID, &status, &p.Platform, &p.Links, &p.Hardcap, &p.Softcap,
		&p.RaisedSoFar, &p.StartTime, &p.EndTime, &p.FAQs, &p.UpdatedAt,
	)
	p.Status = PresaleStatus(status)
	return &p, err
}

// LoadPresale возвращает settings и самый ранний presale, создавая его при отсутствии
func (db *DB) LoadPresale(ctx context.Context) (*Settings, *Presale, error) {
	settings, err := db.GetSettings(ctx)
	if err != nil || settings == nil {
		return nil, nil, err
	}

	query := `
		SELECT ` + presaleColumns + `
		FROM presales
		WHERE settings_id = $1
		ORDER BY start_time NULLS FIRST, id
		LIMIT 1`
	presale, err := noRows(scanPresale(db.Pool.QueryRow(ctx, query, settings.ID)))
	if err != nil {
		return nil, nil, err
	}
	if presale != nil {
		return settings, presale, nil
	}

	insert := `INSERT INTO presales (settings_id) VALUES ($1) RETURNING ` + presaleColumns
	presale, err = scanPresale(db.Pool.QueryRow(ctx, insert, settings.ID))
	if err != nil {
		return nil, nil, err
	}
	return settings, presale, nil
}

func (db *DB) SavePresale(ctx context.Context, p *Presale) error {
	query := `
		UPDATE presales SET
			status = $1::presale_status,
			platform = $2,
			links = $3,
			hardcap = $4::numeric,
			softcap = $5::numeric,
			raised_so_far = $6::numeric,
			start_time = $7,
			end_time = $8,
			updated_at = NOW()
		WHERE id = $9`
	_, err := db.Pool.Exec(ctx, query,
		string(p.Status), p.Platform, p.Links, p.Hardcap, p.Softcap,
		p.RaisedSoFar, p.StartTime, p.EndTime, p.ID,
	)
	return err
}
