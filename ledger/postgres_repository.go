// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL. Balance columns
// are NUMERIC(12,6); all amounts are rounded to six decimals before writes
// and comparisons so CAS equality round-trips exactly.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `user_id, subscription_allowance, purchased_credits, tier,
	   subscription_status, trial_expires_at, partner_id, updated_at`

// CreateUser inserts a new balance row.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *UserBalance) error {
	query := `
		INSERT INTO users (
			user_id, subscription_allowance, purchased_credits, tier,
			subscription_status, trial_expires_at, partner_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.UserID, round6(user.SubscriptionAllowance), round6(user.PurchasedCredits),
		user.Tier, user.SubscriptionStatus,
		nullString(user.TrialExpiresAt), nullString(user.PartnerID),
		user.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser loads a user's balance row, excluding soft-deleted accounts.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*UserBalance, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, &UserNotFoundError{UserID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateBalanceCAS is the conditional write at the heart of the deduction
// engine: it succeeds only if the stored balances still equal the snapshot
// the caller read. Zero rows affected means a concurrent writer won the race
// (or the row vanished, which is distinguished with a follow-up read).
func (r *PostgresRepository) UpdateBalanceCAS(ctx context.Context, userID string, expectedAllowance, expectedPurchased, newAllowance, newPurchased float64) error {
	query := `
		UPDATE users
		SET subscription_allowance = $1, purchased_credits = $2, updated_at = $3
		WHERE user_id = $4
		  AND subscription_allowance = $5
		  AND purchased_credits = $6
		  AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		round6(newAllowance), round6(newPurchased), time.Now().UTC(),
		userID, round6(expectedAllowance), round6(expectedPurchased),
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.GetUser(ctx, userID); getErr != nil {
			return getErr
		}
		return &ConcurrentModificationError{UserID: userID}
	}

	return nil
}

// AddPurchasedCredits increments the purchased pool in the store and returns
// the resulting row.
func (r *PostgresRepository) AddPurchasedCredits(ctx context.Context, userID string, amount float64) (*UserBalance, error) {
	query := fmt.Sprintf(`
		UPDATE users
		SET purchased_credits = purchased_credits + $1, updated_at = $2
		WHERE user_id = $3 AND deleted_at IS NULL
		RETURNING %s
	`, userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, round6(amount), time.Now().UTC(), userID))
	if err == sql.ErrNoRows {
		return nil, &UserNotFoundError{UserID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add purchased credits: %w", err)
	}
	return user, nil
}

// SetAllowance overwrites the subscription allowance, tier, and status.
func (r *PostgresRepository) SetAllowance(ctx context.Context, userID string, newAllowance float64, tier Tier, status SubscriptionStatus) error {
	query := `
		UPDATE users
		SET subscription_allowance = $1, tier = $2, subscription_status = $3, updated_at = $4
		WHERE user_id = $5 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		round6(newAllowance), tier, status, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return requireRow(result, userID)
}

// SetSubscriptionStatus updates only the lifecycle status.
func (r *PostgresRepository) SetSubscriptionStatus(ctx context.Context, userID string, status SubscriptionStatus) error {
	query := `
		UPDATE users
		SET subscription_status = $1, updated_at = $2
		WHERE user_id = $3 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return requireRow(result, userID)
}

// SoftDeleteUser marks the account removed.
func (r *PostgresRepository) SoftDeleteUser(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET deleted_at = $1, updated_at = $1
		WHERE user_id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete user: %w", err)
	}
	return requireRow(result, userID)
}

// InsertTransaction appends one ledger entry.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx *Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, transaction_type, description,
			balance_before, balance_after, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		tx.ID, tx.UserID, round6(tx.Amount), tx.Type, nullString(tx.Description),
		round6(tx.BalanceBefore), round6(tx.BalanceAfter), metadata, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// ListTransactions pages a user's ledger, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, amount, transaction_type, description,
			   balance_before, balance_after, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		var description sql.NullString
		var metadata []byte

		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &description,
			&tx.BalanceBefore, &tx.BalanceAfter, &metadata, &tx.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}

		tx.Description = description.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
			}
		}

		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txs, total, nil
}

// SumDebitsSince totals api_usage debits recorded at or after since, as a
// positive number.
func (r *PostgresRepository) SumDebitsSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(-SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1
		  AND transaction_type = $2
		  AND amount < 0
		  AND created_at >= $3
	`

	var total float64
	err := r.db.QueryRowContext(ctx, query, userID, TxAPIUsage, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum debits: %w", err)
	}
	return total, nil
}

// SumBalanceDeltas totals (balance_before - balance_after) over the user's
// entire ledger.
func (r *PostgresRepository) SumBalanceDeltas(ctx context.Context, userID string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(balance_before - balance_after), 0)
		FROM transactions
		WHERE user_id = $1
	`

	var total float64
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum balance deltas: %w", err)
	}
	return total, nil
}

// ListTrialUsers returns users still in trial status.
func (r *PostgresRepository) ListTrialUsers(ctx context.Context, limit int) ([]UserBalance, error) {
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE subscription_status = $1 AND deleted_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $2
	`, userColumns)

	rows, err := r.db.QueryContext(ctx, query, StatusTrial, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trial users: %w", err)
	}
	defer rows.Close()

	var users []UserBalance
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list trial users: %w", err)
	}

	return users, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*UserBalance, error) {
	var user UserBalance
	var trialExpiresAt, partnerID sql.NullString

	if err := row.Scan(
		&user.UserID, &user.SubscriptionAllowance, &user.PurchasedCredits,
		&user.Tier, &user.SubscriptionStatus,
		&trialExpiresAt, &partnerID, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	user.TrialExpiresAt = trialExpiresAt.String
	user.PartnerID = partnerID.String
	return &user, nil
}

func requireRow(result sql.Result, userID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return &UserNotFoundError{UserID: userID}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
