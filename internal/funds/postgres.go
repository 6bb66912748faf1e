package funds

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"jobmate/escrow-service/internal/db"
	"jobmate/escrow-service/internal/escrow"
)

// DB is the subset of *pgxpool.Pool the ledger uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger keeps balances and allowances in the fund_balances and
// fund_allowances tables. Each transfer runs in its own transaction, or in a
// savepoint of the transaction carried by the context (see db.WithTx).
type PostgresLedger struct {
	db      DB
	custody escrow.Identity
}

// NewPostgresLedger returns a ledger operated by custody.
func NewPostgresLedger(conn DB, custody escrow.Identity) *PostgresLedger {
	return &PostgresLedger{db: conn, custody: custody}
}

func (l *PostgresLedger) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if tx, ok := db.TxFrom(ctx); ok {
		return pgx.BeginFunc(ctx, tx, fn)
	}
	return pgx.BeginFunc(ctx, l.db, fn)
}

// TransferFrom pulls amount from → to, consuming the custody allowance.
func (l *PostgresLedger) TransferFrom(ctx context.Context, from, to escrow.Identity, amount uint64) error {
	amt, err := toBigint(amount)
	if err != nil {
		return err
	}
	return l.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE fund_allowances
			 SET amount = amount - $3
			 WHERE owner = $1 AND spender = $2 AND amount >= $3`,
			string(from), string(l.custody), amt,
		)
		if err != nil {
			return fmt.Errorf("transferFrom allowance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("transferFrom %s: %w", from, ErrInsufficientAllowance)
		}
		return move(ctx, tx, from, to, amt)
	})
}

// Transfer pays amount out of the custody account.
func (l *PostgresLedger) Transfer(ctx context.Context, to escrow.Identity, amount uint64) error {
	amt, err := toBigint(amount)
	if err != nil {
		return err
	}
	return l.inTx(ctx, func(tx pgx.Tx) error {
		return move(ctx, tx, l.custody, to, amt)
	})
}

// BalanceOf returns the balance of account; unknown accounts hold zero.
func (l *PostgresLedger) BalanceOf(ctx context.Context, account escrow.Identity) (uint64, error) {
	var amount int64
	err := l.db.QueryRow(ctx,
		`SELECT amount FROM fund_balances WHERE account = $1`,
		string(account),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balanceOf: %w", err)
	}
	return uint64(amount), nil
}

func move(ctx context.Context, tx pgx.Tx, from, to escrow.Identity, amt int64) error {
	if to.IsZero() {
		return errors.New("recipient is the null identity")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE fund_balances
		 SET amount = amount - $2, updated_at = NOW()
		 WHERE account = $1 AND amount >= $2`,
		string(from), amt,
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s: %w", from, ErrInsufficientBalance)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO fund_balances (account, amount)
		 VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE
		 SET amount = fund_balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		string(to), amt,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// toBigint guards the BIGINT columns against uint64 amounts they cannot hold.
func toBigint(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds ledger precision", amount)
	}
	return int64(amount), nil
}
