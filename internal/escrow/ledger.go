package escrow

import "time"

// Job is the escrow record of a single posting. Records are never deleted.
type Job struct {
	ID                 uint64     `json:"id"`
	Client             Identity   `json:"client"`
	DepositAmount      uint64     `json:"depositAmount"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	State              State      `json:"state"`
	SelectedFreelancer Identity   `json:"selectedFreelancer,omitempty"`
	Reward             uint64     `json:"reward"`
	Applicants         []Identity `json:"applicants"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// Expired reports whether the job's deadline has passed at now.
func (j *Job) Expired(now time.Time) bool { return !now.Before(j.ExpiresAt) }

func (j *Job) clone() Job {
	c := *j
	c.Applicants = append([]Identity(nil), j.Applicants...)
	return c
}

// jobLedger is the authoritative id → Job map plus the id counter.
// nextID is the id the next posted job receives.
type jobLedger struct {
	jobs   map[uint64]*Job
	nextID uint64
}

func newJobLedger() *jobLedger {
	return &jobLedger{jobs: make(map[uint64]*Job), nextID: 1}
}

func (l *jobLedger) get(id uint64) (*Job, error) {
	j, ok := l.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// insert stores j under the next id and advances the counter.
func (l *jobLedger) insert(j *Job) uint64 {
	j.ID = l.nextID
	l.jobs[j.ID] = j
	l.nextID++
	return j.ID
}

// remove drops the record of a rolled-back insert. The counter stays
// advanced so the id is never handed out again.
func (l *jobLedger) remove(id uint64) { delete(l.jobs, id) }

// scan returns copies of the jobs in [start, end] that are in state s.
func (l *jobLedger) scan(start, end uint64, s State) ([]Job, error) {
	if start > end {
		return nil, valueErr("start id %d is greater than end id %d", start, end)
	}
	if end > l.nextID {
		return nil, valueErr("end id %d exceeds job counter %d", end, l.nextID)
	}
	out := make([]Job, 0)
	for id := start; id <= end; id++ {
		j, ok := l.jobs[id]
		if !ok || j.State != s {
			continue
		}
		out = append(out, j.clone())
	}
	return out, nil
}
