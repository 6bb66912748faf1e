package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jobmate/escrow-service/internal/escrow"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Journal appends every event to the escrow_events audit table.
type Journal struct {
	db    dbtx
	newID func() uuid.UUID
}

// NewJournal returns a Journal writing through db.
func NewJournal(db dbtx) *Journal {
	return &Journal{db: db, newID: uuid.New}
}

// Publish implements escrow.EventSink.
func (j *Journal) Publish(ctx context.Context, ev escrow.Event) error {
	var jobID *int64
	if ev.JobID != 0 {
		id := int64(ev.JobID)
		jobID = &id
	}
	_, err := j.db.Exec(ctx,
		`INSERT INTO escrow_events
		   (id, type, job_id, actor, counterparty, amount, fee, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9)`,
		j.newID(), string(ev.Type), jobID, string(ev.Actor), string(ev.Counterparty),
		int64(ev.Amount), int64(ev.Fee), ev.Detail, ev.At,
	)
	if err != nil {
		return fmt.Errorf("journal %s: %w", ev.Type, err)
	}
	return nil
}

// ListByJob returns the journal entries of a job, oldest first.
func (j *Journal) ListByJob(ctx context.Context, jobID uint64) ([]escrow.Event, error) {
	rows, err := j.db.Query(ctx,
		`SELECT type, COALESCE(job_id, 0), actor, COALESCE(counterparty, ''),
		        amount, fee, COALESCE(detail, ''), occurred_at
		 FROM escrow_events
		 WHERE job_id = $1
		 ORDER BY occurred_at, recorded_at`,
		int64(jobID),
	)
	if err != nil {
		return nil, fmt.Errorf("listByJob query: %w", err)
	}
	defer rows.Close()

	out := make([]escrow.Event, 0)
	for rows.Next() {
		var (
			ev                  escrow.Event
			typ, actor, counter string
			id, amount, fee     int64
		)
		if err := rows.Scan(&typ, &id, &actor, &counter, &amount, &fee, &ev.Detail, &ev.At); err != nil {
			return nil, fmt.Errorf("listByJob scan: %w", err)
		}
		ev.Type = escrow.EventType(typ)
		ev.JobID = uint64(id)
		ev.Actor = escrow.Identity(actor)
		ev.Counterparty = escrow.Identity(counter)
		ev.Amount = uint64(amount)
		ev.Fee = uint64(fee)
		out = append(out, ev)
	}
	return out, rows.Err()
}
