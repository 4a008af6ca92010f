package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

// Ledger implements spec §4.1's Credit Ledger (C4) contract: get_balance,
// grant, spend, refund, all as single serializable transactions that lock
// the balance row FOR UPDATE, apply the delta, and append the ledger
// entry — the same shape as the teacher's CheckAndReserveBalance /
// DeductGrains / FinalizeRequest Lua-script trio, minus the grains/
// reservation machinery spec's simpler integer-credit model does not need.
type Ledger struct {
	store *Store
}

func NewLedger(s *Store) *Ledger { return &Ledger{store: s} }

// GetBalance returns the current credit balance for userID.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := l.store.db.QueryRowContext(ctx,
		`SELECT credits FROM credit_balances WHERE user_id = $1`, userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, cperr.New("GetBalance", cperr.KindNotFound, err)
	}
	if err != nil {
		return 0, cperr.New("GetBalance", cperr.KindDependencyUnavailable, err)
	}
	return credits, nil
}

// Grant adds n credits (n > 0; Spend applies its -1 delta through the
// internal helper directly, and Refund calls Grant with n = 1 and no
// idempotency key). If idemKey is non-empty and already recorded in
// idempotency_markers, Grant is a no-op and returns the current balance
// unchanged together with a DUPLICATE_EVENT error — spec §4.1: "If idem_key
// present and already recorded, no-op and return current balance."
func (l *Ledger) Grant(ctx context.Context, userID string, n int, description string, idemKey string) (int, error) {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, cperr.New("Grant", cperr.KindDependencyUnavailable, err)
	}
	defer tx.Rollback()

	if idemKey != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency_markers (key) VALUES ($1) ON CONFLICT DO NOTHING`, idemKey)
		if err != nil {
			return 0, cperr.New("Grant", cperr.KindInternal, err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			// Already processed: benign no-op, return current balance.
			var credits int
			if err := tx.QueryRowContext(ctx,
				`SELECT credits FROM credit_balances WHERE user_id = $1`, userID).Scan(&credits); err != nil {
				return 0, cperr.New("Grant", cperr.KindDependencyUnavailable, err)
			}
			return credits, cperr.New("Grant", cperr.KindDuplicateEvent, nil)
		}
	}

	credits, err := applyDelta(ctx, tx, userID, n, description)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, cperr.New("Grant", cperr.KindDependencyUnavailable, err)
	}
	return credits, nil
}

// Spend atomically decrements userID's balance by 1 iff balance >= 1;
// otherwise fails with INSUFFICIENT_CREDITS and leaves the balance
// unchanged. Spec §4.1.
func (l *Ledger) Spend(ctx context.Context, userID string, description string) (int, error) {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, cperr.New("Spend", cperr.KindDependencyUnavailable, err)
	}
	defer tx.Rollback()

	var credits int
	err = tx.QueryRowContext(ctx,
		`SELECT credits FROM credit_balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, cperr.New("Spend", cperr.KindInsufficientCredits, err)
	}
	if err != nil {
		return 0, cperr.New("Spend", cperr.KindDependencyUnavailable, err)
	}
	if credits < 1 {
		return 0, cperr.New("Spend", cperr.KindInsufficientCredits, nil)
	}

	newBalance, err := applyDeltaLocked(ctx, tx, userID, -1, description)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, cperr.New("Spend", cperr.KindDependencyUnavailable, err)
	}
	return newBalance, nil
}

// Refund grants back 1 credit tagged as a refund. Spec §4.1.
func (l *Ledger) Refund(ctx context.Context, userID string, description string) (int, error) {
	return l.Grant(ctx, userID, 1, "refund: "+description, "")
}

// applyDelta locks the balance row, then delegates to applyDeltaLocked.
func applyDelta(ctx context.Context, tx *sql.Tx, userID string, delta int, description string) (int, error) {
	var credits int
	err := tx.QueryRowContext(ctx,
		`SELECT credits FROM credit_balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&credits)
	if err != nil {
		return 0, cperr.New("applyDelta", cperr.KindDependencyUnavailable, err)
	}
	return applyDeltaLocked(ctx, tx, userID, delta, description)
}

// applyDeltaLocked assumes the balance row is already locked FOR UPDATE by
// the caller in the same transaction; it updates the balance and appends
// the ledger entry atomically.
func applyDeltaLocked(ctx context.Context, tx *sql.Tx, userID string, delta int, description string) (int, error) {
	var newBalance int
	err := tx.QueryRowContext(ctx,
		`UPDATE credit_balances SET credits = credits + $1 WHERE user_id = $2 RETURNING credits`,
		delta, userID).Scan(&newBalance)
	if err != nil {
		return 0, cperr.New("applyDeltaLocked", cperr.KindDependencyUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, description) VALUES ($1,$2,$3,$4)`,
		uuid.NewString(), userID, delta, description)
	if err != nil {
		return 0, cperr.New("applyDeltaLocked", cperr.KindInternal, err)
	}
	return newBalance, nil
}
