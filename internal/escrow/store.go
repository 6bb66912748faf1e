package escrow

import (
	"context"
	"fmt"
	"sort"
)

// ─── Durable state ───────────────────────────────────────────────────────────

// Meta holds the engine-wide scalars.
type Meta struct {
	NextID      uint64
	AccruedFees uint64
	Config      PlatformConfig
}

// Changes lists the records one committed operation wrote.
type Changes struct {
	Jobs        []Job
	Freelancers map[Identity]FreelancerInfo
	Meta        *Meta
	Issued      map[uint64]Identity
	Burned      []uint64
}

// Empty reports whether the operation wrote no record.
func (c Changes) Empty() bool {
	return len(c.Jobs) == 0 && len(c.Freelancers) == 0 && c.Meta == nil &&
		len(c.Issued) == 0 && len(c.Burned) == 0
}

// Snapshot is everything a Store holds.
type Snapshot struct {
	Meta         *Meta // nil until the first write
	Jobs         []Job
	Freelancers  map[Identity]FreelancerInfo
	Certificates map[uint64]Identity
}

// Store persists engine records. Commit writes ch and then runs transfer
// (which may be nil) in the same unit of work; if either fails nothing is
// kept and the error is returned unchanged.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, ch Changes, transfer func(ctx context.Context) error) error
}

// volatileStore keeps nothing; records live only in the Engine.
type volatileStore struct{}

func (volatileStore) Load(context.Context) (Snapshot, error) { return Snapshot{}, nil }

func (volatileStore) Commit(ctx context.Context, _ Changes, transfer func(ctx context.Context) error) error {
	if transfer == nil {
		return nil
	}
	return transfer(ctx)
}

// changes collects the current value of every record tx touched.
func (e *Engine) changes(tx *txn) Changes {
	ch := Changes{Issued: tx.issued, Burned: tx.burned}
	for _, j := range tx.jobs {
		ch.Jobs = append(ch.Jobs, j.clone())
	}
	sort.Slice(ch.Jobs, func(a, b int) bool { return ch.Jobs[a].ID < ch.Jobs[b].ID })
	if len(tx.freelancers) > 0 {
		ch.Freelancers = make(map[Identity]FreelancerInfo, len(tx.freelancers))
		for id := range tx.freelancers {
			ch.Freelancers[id] = e.freelancers.lookup(id)
		}
	}
	if tx.meta {
		ch.Meta = &Meta{NextID: e.jobs.nextID, AccruedFees: e.accruedFees, Config: e.cfg}
	}
	return ch
}

// Restore loads the store's records into an Engine that has not run any
// operation yet. Certificates missing from the token registry are minted
// again for their recorded owner.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load escrow state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.jobs.nextID != 1 || len(e.freelancers.entries) > 0 || e.accruedFees > 0 {
		return fmt.Errorf("restore requires an unused engine")
	}
	if m := snap.Meta; m != nil {
		if err := m.Config.validate(e.variant); err != nil {
			return fmt.Errorf("stored platform config: %w", err)
		}
		e.cfg = m.Config
		e.accruedFees = m.AccruedFees
		e.jobs.nextID = max(m.NextID, 1)
	}
	for i := range snap.Jobs {
		j := snap.Jobs[i].clone()
		if j.Applicants == nil {
			j.Applicants = []Identity{}
		}
		e.jobs.jobs[j.ID] = &j
		if j.ID >= e.jobs.nextID {
			e.jobs.nextID = j.ID + 1
		}
		for _, a := range j.Applicants {
			e.applicants.mark(j.ID, a)
		}
	}
	for id, info := range snap.Freelancers {
		e.freelancers.put(id, info)
	}
	if e.certs == nil {
		return nil
	}
	for id, owner := range snap.Certificates {
		if _, err := e.tokens.OwnerOf(id); err != nil {
			if err := e.tokens.Mint(ctx, owner, id); err != nil {
				return fmt.Errorf("mint certificate %d: %w", id, err)
			}
		}
		e.certs.record(id, owner)
	}
	return nil
}
