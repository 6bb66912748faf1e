// Package storage keeps the escrow engine's records in PostgreSQL.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"jobmate/escrow-service/internal/db"
	"jobmate/escrow-service/internal/escrow"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements escrow.Store on the escrow_meta, escrow_jobs,
// escrow_freelancers and escrow_certificates tables.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a store writing through conn.
func NewPostgresStore(conn DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

// Commit writes ch and runs transfer in one transaction. The transaction is
// carried on the context handed to transfer so a Postgres funds ledger joins
// it.
func (s *PostgresStore) Commit(ctx context.Context, ch escrow.Changes, transfer func(ctx context.Context) error) error {
	if ch.Empty() && transfer == nil {
		return nil
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := write(ctx, tx, ch); err != nil {
			return err
		}
		if transfer == nil {
			return nil
		}
		return transfer(db.WithTx(ctx, tx))
	})
}

func write(ctx context.Context, tx pgx.Tx, ch escrow.Changes) error {
	if m := ch.Meta; m != nil {
		cfg, err := json.Marshal(m.Config)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		next, err := bigint(m.NextID)
		if err != nil {
			return err
		}
		fees, err := bigint(m.AccruedFees)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_meta (id, next_job_id, accrued_fees, config)
			 VALUES (1, $1, $2, $3)
			 ON CONFLICT (id) DO UPDATE
			 SET next_job_id = EXCLUDED.next_job_id, accrued_fees = EXCLUDED.accrued_fees,
			     config = EXCLUDED.config, updated_at = NOW()`,
			next, fees, cfg,
		); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}

	for _, j := range ch.Jobs {
		if err := saveJob(ctx, tx, j); err != nil {
			return err
		}
	}

	for id, info := range ch.Freelancers {
		earned, err := bigint(info.TotalEarned)
		if err != nil {
			return err
		}
		completed, err := bigint(info.CompletedJobs)
		if err != nil {
			return err
		}
		balance, err := bigint(info.WithdrawableBalance)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_freelancers
			   (identity, is_registered, is_approved, total_earned, completed_jobs, withdrawable_balance)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (identity) DO UPDATE
			 SET is_registered = EXCLUDED.is_registered, is_approved = EXCLUDED.is_approved,
			     total_earned = EXCLUDED.total_earned, completed_jobs = EXCLUDED.completed_jobs,
			     withdrawable_balance = EXCLUDED.withdrawable_balance`,
			string(id), info.IsRegistered, info.IsApproved, earned, completed, balance,
		); err != nil {
			return fmt.Errorf("save freelancer %s: %w", id, err)
		}
	}

	for id, owner := range ch.Issued {
		jid, err := bigint(id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_certificates (job_id, owner) VALUES ($1, $2)`,
			jid, string(owner),
		); err != nil {
			return fmt.Errorf("save certificate %d: %w", id, err)
		}
	}
	for _, id := range ch.Burned {
		jid, err := bigint(id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM escrow_certificates WHERE job_id = $1`, jid); err != nil {
			return fmt.Errorf("delete certificate %d: %w", id, err)
		}
	}
	return nil
}

func saveJob(ctx context.Context, tx pgx.Tx, j escrow.Job) error {
	id, err := bigint(j.ID)
	if err != nil {
		return err
	}
	amount, err := bigint(j.DepositAmount)
	if err != nil {
		return err
	}
	reward, err := bigint(j.Reward)
	if err != nil {
		return err
	}
	applicants := make([]string, len(j.Applicants))
	for i, a := range j.Applicants {
		applicants[i] = string(a)
	}
	var selected *string
	if !j.SelectedFreelancer.IsZero() {
		s := string(j.SelectedFreelancer)
		selected = &s
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO escrow_jobs
		   (id, client, deposit_amount, expires_at, state, selected_freelancer, reward, applicants, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state, selected_freelancer = EXCLUDED.selected_freelancer,
		     reward = EXCLUDED.reward, applicants = EXCLUDED.applicants, updated_at = NOW()`,
		id, string(j.Client), amount, j.ExpiresAt, string(j.State), selected, reward, applicants, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %d: %w", j.ID, err)
	}
	return nil
}

// Load reads every stored record.
func (s *PostgresStore) Load(ctx context.Context) (escrow.Snapshot, error) {
	var snap escrow.Snapshot

	var (
		next, fees int64
		cfg        []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT next_job_id, accrued_fees, config FROM escrow_meta WHERE id = 1`,
	).Scan(&next, &fees, &cfg)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("load meta: %w", err)
	default:
		m := &escrow.Meta{NextID: uint64(next), AccruedFees: uint64(fees)}
		if err := json.Unmarshal(cfg, &m.Config); err != nil {
			return snap, fmt.Errorf("decode config: %w", err)
		}
		snap.Meta = m
	}

	jobs, err := s.loadJobs(ctx)
	if err != nil {
		return snap, err
	}
	snap.Jobs = jobs

	if snap.Freelancers, err = s.loadFreelancers(ctx); err != nil {
		return snap, err
	}
	if snap.Certificates, err = s.loadCertificates(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *PostgresStore) loadJobs(ctx context.Context) ([]escrow.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, client, deposit_amount, expires_at, state, COALESCE(selected_freelancer, ''),
		        reward, applicants, created_at
		 FROM escrow_jobs
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	out := make([]escrow.Job, 0)
	for rows.Next() {
		var (
			id, amount, reward      int64
			client, state, selected string
			applicants              []string
			expiresAt, createdAt    time.Time
		)
		if err := rows.Scan(&id, &client, &amount, &expiresAt, &state, &selected, &reward, &applicants, &createdAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		st, err := escrow.ParseState(state)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", id, err)
		}
		j := escrow.Job{
			ID:                 uint64(id),
			Client:             escrow.Identity(client),
			DepositAmount:      uint64(amount),
			ExpiresAt:          expiresAt,
			State:              st,
			SelectedFreelancer: escrow.Identity(selected),
			Reward:             uint64(reward),
			Applicants:         make([]escrow.Identity, len(applicants)),
			CreatedAt:          createdAt,
		}
		for i, a := range applicants {
			j.Applicants[i] = escrow.Identity(a)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadFreelancers(ctx context.Context) (map[escrow.Identity]escrow.FreelancerInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT identity, is_registered, is_approved, total_earned, completed_jobs, withdrawable_balance
		 FROM escrow_freelancers`,
	)
	if err != nil {
		return nil, fmt.Errorf("load freelancers: %w", err)
	}
	defer rows.Close()

	out := make(map[escrow.Identity]escrow.FreelancerInfo)
	for rows.Next() {
		var (
			id                         string
			info                       escrow.FreelancerInfo
			earned, completed, balance int64
		)
		if err := rows.Scan(&id, &info.IsRegistered, &info.IsApproved, &earned, &completed, &balance); err != nil {
			return nil, fmt.Errorf("scan freelancer: %w", err)
		}
		info.TotalEarned = uint64(earned)
		info.CompletedJobs = uint64(completed)
		info.WithdrawableBalance = uint64(balance)
		out[escrow.Identity(id)] = info
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadCertificates(ctx context.Context) (map[uint64]escrow.Identity, error) {
	rows, err := s.db.Query(ctx, `SELECT job_id, owner FROM escrow_certificates`)
	if err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]escrow.Identity)
	for rows.Next() {
		var (
			id    int64
			owner string
		)
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out[uint64(id)] = escrow.Identity(owner)
	}
	return out, rows.Err()
}

// bigint guards the BIGINT columns against values they cannot hold.
func bigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds column precision", v)
	}
	return int64(v), nil
}
