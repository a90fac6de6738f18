package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	PointsReasonGenerationCharge = "generation_charge"
	PointsReasonGenerationRefund = "generation_refund"
)

type PointsEntry struct {
	UserID int64
	Amount int64
	Reason string
	RefID  string
}

// PointsRepository is a minimal points ledger. Each (RefID, Reason) pair is
// recorded at most once, so replays are no-ops that report applied=false.
type PointsRepository interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	Deduct(ctx context.Context, tx *sql.Tx, e PointsEntry) (bool, error)
	Credit(ctx context.Context, tx *sql.Tx, e PointsEntry) (bool, error)
}

type pointsRepository struct {
	db *sql.DB
}

func NewPointsRepository(db *sql.DB) PointsRepository {
	return &pointsRepository{db: db}
}

func (r *pointsRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM user_points WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *pointsRepository) Deduct(ctx context.Context, tx *sql.Tx, e PointsEntry) (bool, error) {
	return r.apply(ctx, tx, e, -e.Amount)
}

func (r *pointsRepository) Credit(ctx context.Context, tx *sql.Tx, e PointsEntry) (bool, error) {
	return r.apply(ctx, tx, e, e.Amount)
}

func (r *pointsRepository) apply(ctx context.Context, tx *sql.Tx, e PointsEntry, delta int64) (bool, error) {
	if e.Amount <= 0 {
		return false, fmt.Errorf("points amount must be positive, got %d", e.Amount)
	}
	q := conn(r.db, tx)

	record := `
		INSERT INTO points_records (user_id, amount, reason, ref_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref_id, reason) DO NOTHING
	`
	res, err := q.ExecContext(ctx, record, e.UserID, delta, e.Reason, e.RefID)
	if err != nil {
		return false, fmt.Errorf("record points: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record points: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	balance := `
		INSERT INTO user_points (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = user_points.balance + EXCLUDED.balance,
			updated_at = NOW()
	`
	if _, err := q.ExecContext(ctx, balance, e.UserID, delta); err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}
	return true, nil
}
