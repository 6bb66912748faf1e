package escrow

import "time"

// applicantTracker keeps the per-job membership sets that back the ordered
// Job.Applicants lists.
type applicantTracker struct {
	members map[uint64]map[Identity]struct{}
}

func newApplicantTracker() *applicantTracker {
	return &applicantTracker{members: make(map[uint64]map[Identity]struct{})}
}

// check validates that id may apply to j at now.
func (t *applicantTracker) check(j *Job, id Identity, now time.Time) error {
	if id.IsZero() {
		return valueErr("applicant identity is required")
	}
	if j.State != StateActive {
		return stateErr("job %d is %s", j.ID, j.State)
	}
	if j.Expired(now) {
		return stateErr("job %d has expired", j.ID)
	}
	if len(j.Applicants) >= MaxApplicants {
		return stateErr("job %d already has %d applicants", j.ID, MaxApplicants)
	}
	if t.isApplicant(j.ID, id) {
		return stateErr("%s already applied to job %d", id, j.ID)
	}
	return nil
}

func (t *applicantTracker) add(j *Job, id Identity) {
	t.mark(j.ID, id)
	j.Applicants = append(j.Applicants, id)
}

// mark records membership without touching the job's ordered list.
func (t *applicantTracker) mark(jobID uint64, id Identity) {
	set, ok := t.members[jobID]
	if !ok {
		set = make(map[Identity]struct{})
		t.members[jobID] = set
	}
	set[id] = struct{}{}
}

// drop undoes the most recent add of id to j.
func (t *applicantTracker) drop(j *Job, id Identity) {
	delete(t.members[j.ID], id)
	if n := len(j.Applicants); n > 0 && j.Applicants[n-1] == id {
		j.Applicants = j.Applicants[:n-1]
	}
}

func (t *applicantTracker) isApplicant(jobID uint64, id Identity) bool {
	_, ok := t.members[jobID][id]
	return ok
}
