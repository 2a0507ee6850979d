package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================
// Zealy members
// ============================================

const memberColumns = `id, telegram_id, wallet, xp, level, tier, zealy_user_id, created_at, updated_at`

func scanMember(row pgx.Row) (*ZealyMember, error) {
	var m ZealyMember
	err := row.Scan(&m.ID, &m.TelegramID, &m.Wallet, &m.XP, &m.Level, &m.Tier, &m.ZealyUserID, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (db *DB) GetMember(ctx context.Context, telegramID int64) (*ZealyMember, error) {
	query := `SELECT ` + memberColumns + ` FROM zealy_members WHERE telegram_id = $1`
	return noRows(scanMember(db.Pool.QueryRow(ctx, query, telegramID)))
}

func (db *DB) GetMemberByZealyID(ctx context.Context, zealyUserID string) (*ZealyMember, error) {
	query := `SELECT ` + memberColumns + ` FROM zealy_members WHERE zealy_user_id = $1`
	return noRows(scanMember(db.Pool.QueryRow(ctx, query, zealyUserID)))
}

func (db *DB) GetMemberByWallet(ctx context.Context, wallet string) (*ZealyMember, error) {
	query := `SELECT ` + memberColumns + ` FROM zealy_members WHERE wallet = $1`
	return noRows(scanMember(db.Pool.QueryRow(ctx, query, wallet)))
}

// GetOrCreateMember возвращает участника и флаг "создан сейчас"
func (db *DB) GetOrCreateMember(ctx context.Context, telegramID int64) (*ZealyMember, bool, error) {
	query := `
		INSERT INTO zealy_members (telegram_id)
		VALUES ($1)
		ON CONFLICT (telegram_id) DO NOTHING
		RETURNING ` + memberColumns
	m, err := noRows(scanMember(db.Pool.QueryRow(ctx, query, telegramID)))
	if err != nil {
		return nil, false, err
	}
	if m != nil {
		return m, true, nil
	}
	m, err = db.GetMember(ctx, telegramID)
	return m, false, err
}

func (db *DB) SetMemberWallet(ctx context.Context, memberID int, wallet string) error {
	query := `UPDATE zealy_members SET wallet = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.Pool.Exec(ctx, query, wallet, memberID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (db *DB) SetMemberZealyID(ctx context.Context, memberID int, zealyUserID string) error {
	query := `UPDATE zealy_members SET zealy_user_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.Pool.Exec(ctx, query, zealyUserID, memberID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ============================================
// Zealy quests & grants
// ============================================

func (db *DB) GetOrCreateQuest(ctx context.Context, slug string, xpValue int, zealyQuestID *string) (*ZealyQuest, error) {
	query := `
		INSERT INTO zealy_quests (slug, xp_value, zealy_quest_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, zealy_quest_id, xp_value, updated_at`

	var q ZealyQuest
	err := db.Pool.QueryRow(ctx, query, slug, xpValue, zealyQuestID).Scan(
		&q.ID, &q.Slug, &q.ZealyQuestID, &q.XPValue, &q.UpdatedAt,
	)
	return &q, err
}

func (db *DB) ListQuests(ctx context.Context, limit int) ([]ZealyQuest, error) {
	query := `
		SELECT id, slug, zealy_quest_id, xp_value, updated_at
		FROM zealy_quests
		ORDER BY updated_at DESC, id DESC
		LIMIT $1`

	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quests []ZealyQuest
	for rows.Next() {
		var q ZealyQuest
		if err := rows.Scan(&q.ID, &q.Slug, &q.ZealyQuestID, &q.XPValue, &q.UpdatedAt); err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, rows.Err()
}

// InsertGrant в одной транзакции пишет grant и новое состояние участника.
// Повторный grant (member, quest) → ErrDuplicate.
func (db *DB) InsertGrant(ctx context.Context, g *ZealyGrant, xp, level int, tier string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO zealy_grants (member_id, quest_id, status, tx_ref, xp_awarded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err = tx.QueryRow(ctx, insert, g.MemberID, g.QuestID, string(g.Status), g.TxRef, g.XPAwarded).Scan(&g.ID, &g.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}

	update := `UPDATE zealy_members SET xp = $1, level = $2, tier = $3, updated_at = NOW() WHERE id = $4`
	if _, err := tx.Exec(ctx, update, xp, level, tier, g.MemberID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) GrantExistsForTx(ctx context.Context, txRef string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM zealy_grants WHERE tx_ref = $1)`, txRef).Scan(&exists)
	return exists, err
}

func (db *DB) RecentGrants(ctx context.Context, memberID, limit int) ([]ZealyGrant, error) {
	query := `
		SELECT g.id, g.member_id, g.quest_id, q.slug, g.status, g.tx_ref, g.xp_awarded, g.created_at
		FROM zealy_grants g
		JOIN zealy_quests q ON q.id = g.quest_id
		WHERE g.member_id = $1
		ORDER BY g.created_at DESC
		LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []ZealyGrant
	for rows.Next() {
		var g ZealyGrant
		var status string
		if err := rows.Scan(&g.ID, &g.MemberID, &g.QuestID, &g.QuestSlug, &status, &g.TxRef, &g.XPAwarded, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Status = GrantStatus(status)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ============================================
// Invite links (affiliates)
// ============================================

const inviteColumns = `id, owner_tg_id, chat_id, invite_link, name, creates_join_request, created_at`

func (db *DB) ListInviteLinks(ctx context.Context, ownerID, chatID int64) ([]InviteLink, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM invite_links
		WHERE owner_tg_id = $1 AND chat_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := db.Pool.Query(ctx, query, ownerID, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []InviteLink
	for rows.Next() {
		var l InviteLink
		if err := rows.Scan(&l.ID, &l.OwnerTgID, &l.ChatID, &l.InviteLink, &l.Name, &l.CreatesJoinRequest, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (db *DB) CreateInviteLink(ctx context.Context, l *InviteLink) error {
	query := `
		INSERT INTO invite_links (owner_tg_id, chat_id, invite_link, name, creates_join_request)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return db.Pool.QueryRow(ctx, query, l.OwnerTgID, l.ChatID, l.InviteLink, l.Name, l.CreatesJoinRequest).Scan(&l.ID, &l.CreatedAt)
}

func (db *DB) DeleteInviteLink(ctx context.Context, id int) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM invite_links WHERE id = $1`, id)
	return err
}

func (db *DB) GetInviteLink(ctx context.Context, url string) (*InviteLink, error) {
	query := `SELECT ` + inviteColumns + ` FROM invite_links WHERE invite_link = $1`

	var l InviteLink
	err := db.Pool.QueryRow(ctx, query, url).Scan(&l.ID, &l.OwnerTgID, &l.ChatID, &l.InviteLink, &l.Name, &l.CreatesJoinRequest, &l.CreatedAt)
	return noRows(&l, err)
}

// RecordJoin возвращает false, если этот пользователь уже учтён по ссылке
func (db *DB) RecordJoin(ctx context.Context, inviteLink string, userID int64) (bool, error) {
	query := `
		INSERT INTO invite_stats (invite_link, joined_user_id)
		VALUES ($1, $2)
		ON CONFLICT (invite_link, joined_user_id) DO NOTHING`
	tag, err := db.Pool.Exec(ctx, query, inviteLink, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) InviteCount(ctx context.Context, inviteLink string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT joined_user_id) FROM invite_stats WHERE invite_link = $1`, inviteLink,
	).Scan(&n)
	return n, err
}

func (db *DB) TopInviters(ctx context.Context, chatID int64, since *time.Time, limit int) ([]InviterStat, error) {
	query := `
		SELECT l.owner_tg_id, COUNT(DISTINCT s.joined_user_id) AS joins
		FROM invite_links l
		LEFT JOIN invite_stats s
			ON s.invite_link = l.invite_link AND ($2::timestamptz IS NULL OR s.joined_at >= $2)
		WHERE l.chat_id = $1
		GROUP BY l.owner_tg_id
		ORDER BY joins DESC
		LIMIT $3`

	rows, err := db.Pool.Query(ctx, query, chatID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InviterStat
	for rows.Next() {
		var s InviterStat
		if err := rows.Scan(&s.OwnerID, &s.Joins); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
