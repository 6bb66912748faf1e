package storage

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/escrow-service/internal/db"
	"jobmate/escrow-service/internal/escrow"
)

// recordTx records every statement and how the transaction ended.
type recordTx struct {
	pgx.Tx
	sql   []string
	args  [][]any
	state string
}

func (t *recordTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.sql = append(t.sql, sql)
	t.args = append(t.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *recordTx) Commit(context.Context) error {
	if t.state != "" {
		return pgx.ErrTxClosed
	}
	t.state = "committed"
	return nil
}

func (t *recordTx) Rollback(context.Context) error {
	if t.state != "" {
		return pgx.ErrTxClosed
	}
	t.state = "rolled back"
	return nil
}

// tableDB serves canned rows per table name.
type tableDB struct {
	tx     *recordTx
	begins int
	meta   pgx.Row
	tables map[string][][]any
}

func (d *tableDB) Begin(context.Context) (pgx.Tx, error) {
	d.begins++
	return d.tx, nil
}

func (d *tableDB) QueryRow(context.Context, string, ...any) pgx.Row { return d.meta }

func (d *tableDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	for table, data := range d.tables {
		if strings.Contains(sql, "FROM "+table) {
			return &cannedRows{data: data}, nil
		}
	}
	return &cannedRows{}, nil
}

type cannedRows struct {
	data [][]any
	i    int
}

func (r *cannedRows) Close()                                       {}
func (r *cannedRows) Err() error                                   { return nil }
func (r *cannedRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *cannedRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *cannedRows) Values() ([]any, error)                       { return r.data[r.i-1], nil }
func (r *cannedRows) RawValues() [][]byte                          { return nil }
func (r *cannedRows) Conn() *pgx.Conn                              { return nil }

func (r *cannedRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *cannedRows) Scan(dest ...any) error { return scanInto(r.data[r.i-1], dest) }

type cannedRow struct {
	values []any
	err    error
}

func (r cannedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.values, dest)
}

func scanInto(row []any, dest []any) error {
	if len(row) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPostgresStore_CommitWritesThenTransfers(t *testing.T) {
	d := &tableDB{tx: &recordTx{}}
	s := NewPostgresStore(d)

	ch := escrow.Changes{
		Jobs: []escrow.Job{{
			ID: 1, Client: "alice", DepositAmount: 1_000_000, ExpiresAt: at.Add(time.Hour),
			State: escrow.StateActive, Applicants: []escrow.Identity{"bob"}, CreatedAt: at,
		}},
		Freelancers: map[escrow.Identity]escrow.FreelancerInfo{"bob": {IsRegistered: true}},
		Meta:        &escrow.Meta{NextID: 2, Config: escrow.DefaultPlatformConfig()},
		Issued:      map[uint64]escrow.Identity{1: "alice"},
	}

	var joined pgx.Tx
	err := s.Commit(context.Background(), ch, func(ctx context.Context) error {
		joined, _ = db.TxFrom(ctx)
		return nil
	})
	require.NoError(t, err)

	assert.Same(t, d.tx, joined, "the transfer runs inside the store transaction")
	assert.Equal(t, "committed", d.tx.state)
	require.Len(t, d.tx.sql, 4)
	assert.Contains(t, d.tx.sql[0], "escrow_meta")
	assert.Contains(t, d.tx.sql[1], "escrow_jobs")
	assert.Contains(t, d.tx.sql[2], "escrow_freelancers")
	assert.Contains(t, d.tx.sql[3], "escrow_certificates")

	jobArgs := d.tx.args[1]
	assert.Equal(t, int64(1), jobArgs[0])
	assert.Nil(t, jobArgs[5], "no selected freelancer is stored as NULL")
	assert.Equal(t, []string{"bob"}, jobArgs[7])
}

func TestPostgresStore_TransferFailureRollsBack(t *testing.T) {
	d := &tableDB{tx: &recordTx{}}
	s := NewPostgresStore(d)
	want := &escrow.ExternalTransferError{Op: "deposit", Err: errors.New("boom")}

	err := s.Commit(context.Background(), escrow.Changes{Burned: []uint64{3}}, func(context.Context) error {
		return want
	})
	assert.Same(t, want, err, "the transfer error is returned unchanged")
	assert.Equal(t, "rolled back", d.tx.state)
	require.Len(t, d.tx.sql, 1)
	assert.Contains(t, d.tx.sql[0], "DELETE FROM escrow_certificates")
}

func TestPostgresStore_NothingToCommit(t *testing.T) {
	d := &tableDB{tx: &recordTx{}}
	require.NoError(t, NewPostgresStore(d).Commit(context.Background(), escrow.Changes{}, nil))
	assert.Zero(t, d.begins)
}

func TestPostgresStore_RejectsOversizedValues(t *testing.T) {
	d := &tableDB{tx: &recordTx{}}
	err := NewPostgresStore(d).Commit(context.Background(), escrow.Changes{
		Freelancers: map[escrow.Identity]escrow.FreelancerInfo{"bob": {TotalEarned: ^uint64(0)}},
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, "rolled back", d.tx.state)
}

func TestPostgresStore_Load(t *testing.T) {
	cfg := escrow.DefaultPlatformConfig()
	cfg.WithdrawFee = 300
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	d := &tableDB{
		meta: cannedRow{values: []any{int64(4), int64(25), raw}},
		tables: map[string][][]any{
			"escrow_jobs": {
				{int64(1), "alice", int64(1_000_000), at, "FINISHED", "bob", int64(1_000_000), []string{"bob", "carol"}, at},
				{int64(3), "alice", int64(2_000_000), at, "ACTIVE", "", int64(0), []string{}, at},
			},
			"escrow_freelancers": {
				{"bob", true, true, int64(1_000_000), int64(1), int64(975_000)},
			},
			"escrow_certificates": {
				{int64(1), "alice"},
				{int64(3), "alice"},
			},
		},
	}

	snap, err := NewPostgresStore(d).Load(context.Background())
	require.NoError(t, err)

	require.NotNil(t, snap.Meta)
	assert.Equal(t, uint64(4), snap.Meta.NextID)
	assert.Equal(t, uint64(25), snap.Meta.AccruedFees)
	assert.Equal(t, cfg, snap.Meta.Config)

	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, escrow.StateFinished, snap.Jobs[0].State)
	assert.Equal(t, escrow.Identity("bob"), snap.Jobs[0].SelectedFreelancer)
	assert.Equal(t, []escrow.Identity{"bob", "carol"}, snap.Jobs[0].Applicants)
	assert.True(t, snap.Jobs[1].SelectedFreelancer.IsZero())

	assert.Equal(t, uint64(975_000), snap.Freelancers["bob"].WithdrawableBalance)
	assert.Equal(t, map[uint64]escrow.Identity{1: "alice", 3: "alice"}, snap.Certificates)
}

func TestPostgresStore_LoadEmpty(t *testing.T) {
	d := &tableDB{meta: cannedRow{err: pgx.ErrNoRows}}
	snap, err := NewPostgresStore(d).Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Meta)
	assert.Empty(t, snap.Jobs)
}

func TestPostgresStore_LoadRejectsUnknownState(t *testing.T) {
	d := &tableDB{
		meta: cannedRow{err: pgx.ErrNoRows},
		tables: map[string][][]any{
			"escrow_jobs": {{int64(1), "alice", int64(1), at, "EXPIRED", "", int64(0), []string{}, at}},
		},
	}
	_, err := NewPostgresStore(d).Load(context.Background())
	assert.Error(t, err)
}
