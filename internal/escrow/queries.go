package escrow

import "time"

// ─── Read-only queries ───────────────────────────────────────────────────────

// Job returns a copy of the job record.
func (e *Engine) Job(id uint64) (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, err := e.jobs.get(id)
	if err != nil {
		return Job{}, err
	}
	return j.clone(), nil
}

// Applicants returns the job's applicants in application order.
func (e *Engine) Applicants(jobID uint64) ([]Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, err := e.jobs.get(jobID)
	if err != nil {
		return nil, err
	}
	return append([]Identity(nil), j.Applicants...), nil
}

// IsApplicant reports whether id applied to the job.
func (e *Engine) IsApplicant(jobID uint64, id Identity) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applicants.isApplicant(jobID, id)
}

// ActiveJobs returns the Active jobs with ids in [start, end].
func (e *Engine) ActiveJobs(start, end uint64) ([]Job, error) {
	return e.JobsInState(StateActive, start, end)
}

// FinishedJobs returns the Finished jobs with ids in [start, end].
func (e *Engine) FinishedJobs(start, end uint64) ([]Job, error) {
	return e.JobsInState(StateFinished, start, end)
}

// CancelledJobs returns the Cancelled jobs with ids in [start, end].
func (e *Engine) CancelledJobs(start, end uint64) ([]Job, error) {
	return e.JobsInState(StateCancelled, start, end)
}

// JobsInState returns the jobs in state s with ids in [start, end]. It fails
// with a *ValueError when start > end or end exceeds the job counter.
func (e *Engine) JobsInState(s State, start, end uint64) ([]Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs.scan(start, end, s)
}

// ExpiredJobs returns the Active jobs whose deadline has passed at now,
// ordered by id.
func (e *Engine) ExpiredJobs(now time.Time) []Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Job, 0)
	for id := uint64(1); id < e.jobs.nextID; id++ {
		j, ok := e.jobs.jobs[id]
		if ok && j.State == StateActive && j.Expired(now) {
			out = append(out, j.clone())
		}
	}
	return out
}

// JobCounter returns the id the next posted job will receive.
func (e *Engine) JobCounter() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs.nextID
}

// Freelancer returns the registry entry of id.
func (e *Engine) Freelancer(id Identity) FreelancerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freelancers.lookup(id)
}

// Config returns the current platform configuration.
func (e *Engine) Config() PlatformConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// AccruedFees returns the withdrawal fees held in custody and not yet swept.
func (e *Engine) AccruedFees() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accruedFees
}

// Variant returns the deployment configuration the engine runs with.
func (e *Engine) Variant() Variant { return e.variant }

// Certificates returns the certificate issuer, or nil when the variant does
// not issue certificates. Token registries use it as their lock policy.
func (e *Engine) Certificates() *CertificateIssuer { return e.certs }

// CertificateOwner returns the holder of the job's certificate.
func (e *Engine) CertificateOwner(jobID uint64) (Identity, error) {
	if e.certs == nil {
		return "", stateErr("certificates are not issued by the %s variant", e.variant.Name)
	}
	return e.tokens.OwnerOf(jobID)
}
