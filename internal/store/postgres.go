package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"media-conversion-bot/internal/models"
)

// ErrNotFound is returned when a requested account or conversion does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence of the ledger.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertAccount ensures an account row exists, refreshing the display fields.
func (s *Store) UpsertAccount(ctx context.Context, userID int64, username, fullName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, username, full_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET username = $2, full_name = $3
	`, userID, username, fullName)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(ctx context.Context, userID int64) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, full_name, coins, audio_count, video_count,
		       registered_at, last_reward_date, daily_count, daily_count_date, last_conversion_at
		FROM accounts WHERE user_id = $1
	`, userID)

	var a models.Account
	var registered pgtype.Timestamptz
	var lastConv pgtype.Text
	if err := row.Scan(&a.UserID, &a.Username, &a.FullName, &a.Coins, &a.AudioCount, &a.VideoCount,
		&registered, &a.LastRewardDate, &a.DailyCount, &a.DailyCountDate, &lastConv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	if registered.Valid {
		t := registered.Time
		a.RegisteredAt = &t
	}
	a.LastConversionAt = textPtr(lastConv)
	return a, nil
}

// Register grants the one-time registration bonus. Returns false if the
// account was already registered.
func (s *Store) Register(ctx context.Context, userID int64, bonus int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET coins = coins + $2, registered_at = NOW()
		WHERE user_id = $1 AND registered_at IS NULL
	`, userID, bonus)
	if err != nil {
		return false, fmt.Errorf("register account: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddCoins credits (or, with a negative amount, debits without a floor check)
// an account. Admin-only surface; admission uses Debit.
func (s *Store) AddCoins(ctx context.Context, userID int64, amount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET coins = coins + $2 WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("add coins: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Debit atomically removes amount from the balance, refusing to go negative.
// The conditional update resolves the check-then-act race: of two concurrent
// debits against the same balance, at most one can drain it past the amount.
func (s *Store) Debit(ctx context.Context, userID int64, amount int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET coins = coins - $2
		WHERE user_id = $1 AND coins >= $2
	`, userID, amount)
	if err != nil {
		return false, fmt.Errorf("debit: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RateInfo reads the admission bookkeeping fields for one account.
func (s *Store) RateInfo(ctx context.Context, userID int64) (count int, date string, lastConversion *string, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT daily_count, daily_count_date, last_conversion_at FROM accounts WHERE user_id = $1
	`, userID)
	var lastConv pgtype.Text
	if err := row.Scan(&count, &date, &lastConv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", nil, ErrNotFound
		}
		return 0, "", nil, fmt.Errorf("scan rate info: %w", err)
	}
	return count, date, textPtr(lastConv), nil
}

// RecordAdmission applies the post-debit bookkeeping in one transaction:
// daily-count bump (reset to 1 on day change), last-conversion stamp, and the
// optimistic lifetime counter increment for the kind.
func (s *Store) RecordAdmission(ctx context.Context, userID int64, kind, today string) error {
	counter := "video_count"
	if kind == models.KindAudio {
		counter = "audio_count"
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET
			daily_count = CASE WHEN daily_count_date = $2 THEN daily_count + 1 ELSE 1 END,
			daily_count_date = $2,
			last_conversion_at = $3
		WHERE user_id = $1
	`, userID, today, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("bump daily count: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE accounts SET `+counter+` = `+counter+` + 1 WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	return tx.Commit(ctx)
}

// CreateConversion appends a queued conversion row and returns it.
func (s *Store) CreateConversion(ctx context.Context, userID int64, title, kind string, quality, cost int) (models.Conversion, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversions (user_id, title, kind, quality, cost, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, userID, title, kind, quality, cost, models.StatusQueued, now).Scan(&id)
	if err != nil {
		return models.Conversion{}, fmt.Errorf("insert conversion: %w", err)
	}
	return models.Conversion{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Kind:      kind,
		Quality:   quality,
		Cost:      cost,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversion fetches a conversion by id.
func (s *Store) GetConversion(ctx context.Context, id int64) (models.Conversion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, kind, quality, cost, status, refunded, last_error, created_at, updated_at
		FROM conversions WHERE id = $1
	`, id)
	c, err := scanConversion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversion{}, ErrNotFound
	}
	return c, err
}

// UpdateStatus sets status and last_error for a conversion.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversions SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("update conversion status: %w", err)
	}
	return nil
}

// Refund reverses an admission inside one transaction: the cost is credited
// back, the optimistic kind counter is decremented (floored at zero), and the
// conversion is moved to the given terminal status with refunded set.
func (s *Store) Refund(ctx context.Context, convID, userID int64, kind string, cost int, status string, lastError *string) error {
	counter := "video_count"
	if kind == models.KindAudio {
		counter = "audio_count"
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE accounts SET coins = coins + $2 WHERE user_id = $1`, userID, cost); err != nil {
		return fmt.Errorf("credit refund: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET `+counter+` = CASE WHEN `+counter+` > 0 THEN `+counter+` - 1 ELSE 0 END
		WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("decrement %s: %w", counter, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversions SET status = $2, refunded = TRUE, last_error = $3, updated_at = NOW() WHERE id = $1
	`, convID, status, lastError); err != nil {
		return fmt.Errorf("mark conversion %s: %w", status, err)
	}
	return tx.Commit(ctx)
}

// Conversions lists an account's most recent conversions, newest first.
func (s *Store) Conversions(ctx context.Context, userID int64, limit int) ([]models.Conversion, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, kind, quality, cost, status, refunded, last_error, created_at, updated_at
		FROM conversions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	var out []models.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllAccounts returns every account ordered by username.
func (s *Store) AllAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, username, coins, audio_count, video_count FROM accounts ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.UserID, &a.Username, &a.Coins, &a.AudioCount, &a.VideoCount); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// StatusCounts aggregates conversion rows by status for the stats endpoint.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM conversions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ExportConversionsCSV streams the full conversion log as CSV.
func (s *Store) ExportConversionsCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, kind, quality, cost, status, refunded, created_at
		FROM conversions ORDER BY created_at
	`)
	if err != nil {
		return fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "user_id", "title", "kind", "quality", "cost", "status", "refunded", "created_at"}); err != nil {
		return err
	}
	for rows.Next() {
		var id, userID int64
		var title, kind, status string
		var quality, cost int
		var refunded bool
		var created time.Time
		if err := rows.Scan(&id, &userID, &title, &kind, &quality, &cost, &status, &refunded, &created); err != nil {
			return fmt.Errorf("scan export row: %w", err)
		}
		rec := []string{
			strconv.FormatInt(id, 10), strconv.FormatInt(userID, 10), title, kind,
			strconv.Itoa(quality), strconv.Itoa(cost), status,
			strconv.FormatBool(refunded), created.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// AccountsNeedingReward lists accounts not yet credited for the given day.
func (s *Store) AccountsNeedingReward(ctx context.Context, today string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM accounts WHERE last_reward_date <> $1`, today)
	if err != nil {
		return nil, fmt.Errorf("query reward candidates: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reward candidate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GrantReward credits the daily reward if the account has not been credited
// for today yet. The conditional update makes the credit idempotent per day.
func (s *Store) GrantReward(ctx context.Context, userID int64, amount int, today string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET coins = coins + $2, last_reward_date = $3
		WHERE user_id = $1 AND last_reward_date <> $3
	`, userID, amount, today)
	if err != nil {
		return false, fmt.Errorf("grant reward: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanConversion(row pgx.Row) (models.Conversion, error) {
	var c models.Conversion
	var lastErr pgtype.Text
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Kind, &c.Quality, &c.Cost,
		&c.Status, &c.Refunded, &lastErr, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return models.Conversion{}, err
	}
	c.LastError = textPtr(lastErr)
	return c, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
