package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ─── Engine ──────────────────────────────────────────────────────────────────

// Engine is the job lifecycle and escrow engine. Every public operation runs
// under a single executor lock and either commits in full or leaves no trace:
// internal effects are applied first, collaborator calls follow (certificate
// before funds), and any failure replays the undo log. The funds call runs
// inside the Store commit, so durable records and balances move together.
//
// Collaborators must not call back into the Engine.
type Engine struct {
	mu sync.Mutex

	variant   Variant
	cfg       PlatformConfig
	custody   Identity
	authority Authority
	funds     FundsLedger
	tokens    TokenRegistry
	clock     Clock
	sink      EventSink
	store     Store

	jobs        *jobLedger
	applicants  *applicantTracker
	freelancers *freelancerRegistry
	certs       *CertificateIssuer // nil unless the variant issues certificates
	accruedFees uint64
}

// Options configures a new Engine. Zero values select the defaults.
type Options struct {
	Variant Variant
	Config  *PlatformConfig
	Clock   Clock
	Sink    EventSink
	Store   Store // records are kept in memory only when nil
}

// NewEngine returns an Engine holding escrowed funds in the custody account.
// tokens may be nil when the variant does not issue certificates.
func NewEngine(custody Identity, funds FundsLedger, tokens TokenRegistry, authority Authority, opts Options) (*Engine, error) {
	if custody.IsZero() {
		return nil, fmt.Errorf("custody account is required")
	}
	if funds == nil || authority == nil {
		return nil, fmt.Errorf("funds ledger and authority are required")
	}
	if opts.Variant.Name == "" {
		opts.Variant = Vetted
	}
	if opts.Variant.IssueCertificates && tokens == nil {
		return nil, fmt.Errorf("variant %q requires a token registry", opts.Variant.Name)
	}
	cfg := DefaultPlatformConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.validate(opts.Variant); err != nil {
		return nil, fmt.Errorf("platform config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Store == nil {
		opts.Store = volatileStore{}
	}

	e := &Engine{
		variant:     opts.Variant,
		cfg:         cfg,
		custody:     custody,
		authority:   authority,
		funds:       funds,
		tokens:      tokens,
		clock:       opts.Clock,
		sink:        opts.Sink,
		store:       opts.Store,
		jobs:        newJobLedger(),
		applicants:  newApplicantTracker(),
		freelancers: newFreelancerRegistry(),
	}
	if opts.Variant.IssueCertificates {
		e.certs = newCertificateIssuer(tokens)
	}
	return e, nil
}

// Withdrawal describes a completed freelancer withdrawal.
type Withdrawal struct {
	Gross uint64 `json:"gross"`
	Fee   uint64 `json:"fee"`
	Net   uint64 `json:"net"`
}

// ─── Execution ───────────────────────────────────────────────────────────────

// txn is the undo log, event buffer and write set of one operation.
type txn struct {
	now    time.Time
	undo   []func()
	events []Event

	jobs        map[uint64]*Job
	freelancers map[Identity]struct{}
	meta        bool
	issued      map[uint64]Identity
	burned      []uint64
	transfer    func(ctx context.Context) error
}

func (t *txn) onRollback(f func()) { t.undo = append(t.undo, f) }

func (t *txn) touchJob(j *Job) {
	if t.jobs == nil {
		t.jobs = make(map[uint64]*Job)
	}
	t.jobs[j.ID] = j
}

func (t *txn) touchFreelancer(id Identity) {
	if t.freelancers == nil {
		t.freelancers = make(map[Identity]struct{})
	}
	t.freelancers[id] = struct{}{}
}

func (t *txn) touchMeta() { t.meta = true }

func (t *txn) certIssued(id uint64, owner Identity) {
	if t.issued == nil {
		t.issued = make(map[uint64]Identity)
	}
	t.issued[id] = owner
}

func (t *txn) certBurned(id uint64) { t.burned = append(t.burned, id) }

// call schedules the operation's single funds call. It runs after every
// internal effect, inside the store commit.
func (t *txn) call(op string, f func(ctx context.Context) error) {
	t.transfer = func(ctx context.Context) error {
		if err := f(ctx); err != nil {
			return &ExternalTransferError{Op: op, Err: err}
		}
		return nil
	}
}

func (t *txn) emit(ev Event) {
	ev.At = t.now
	t.events = append(t.events, ev)
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// exec runs fn as one atomic operation and publishes its events on success.
func (e *Engine) exec(ctx context.Context, fn func(tx *txn) error) error {
	tx, err := e.execLocked(ctx, fn)
	if err != nil {
		return err
	}
	for _, ev := range tx.events {
		if err := e.sink.Publish(ctx, ev); err != nil {
			slog.Warn("publish escrow event failed", "type", ev.Type, "jobId", ev.JobID, "err", err)
		}
	}
	return nil
}

func (e *Engine) execLocked(ctx context.Context, fn func(tx *txn) error) (*txn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &txn{now: e.clock.Now()}
	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	if err := e.store.Commit(ctx, e.changes(tx), tx.transfer); err != nil {
		tx.rollback()
		var xe *ExternalTransferError
		if !errors.As(err, &xe) {
			err = &ExternalTransferError{Op: "persist", Err: err}
		}
		return nil, err
	}
	return tx, nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

// PostJob pulls amount from caller into escrow and opens an Active job
// expiring at expiresAt. It returns the new job id.
func (e *Engine) PostJob(ctx context.Context, caller Identity, amount uint64, expiresAt time.Time) (uint64, error) {
	var id uint64
	err := e.exec(ctx, func(tx *txn) error {
		if caller.IsZero() {
			return authErr("client identity is required")
		}
		if amount < e.cfg.MinDeposit {
			return valueErr("deposit %d is below the minimum of %d", amount, e.cfg.MinDeposit)
		}
		if !expiresAt.After(tx.now) {
			return valueErr("expiry must be in the future")
		}
		if expiresAt.After(tx.now.Add(e.cfg.MaxExpiry)) {
			return valueErr("expiry exceeds the maximum job duration of %s", e.cfg.MaxExpiry)
		}

		job := &Job{
			Client:        caller,
			DepositAmount: amount,
			ExpiresAt:     expiresAt,
			State:         StateActive,
			Applicants:    []Identity{},
			CreatedAt:     tx.now,
		}
		id = e.jobs.insert(job)
		tx.onRollback(func() { e.jobs.remove(id) })
		tx.touchJob(job)
		tx.touchMeta()

		if e.certs != nil {
			if err := e.certs.issue(ctx, id, caller); err != nil {
				return err
			}
			tx.onRollback(func() { e.compensateBurn(ctx, id) })
			tx.certIssued(id, caller)
		}

		tx.call("deposit", func(ctx context.Context) error {
			return e.funds.TransferFrom(ctx, caller, e.custody, amount)
		})

		tx.emit(Event{Type: EventJobPosted, JobID: id, Actor: caller, Amount: amount})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelJob refunds an Active job whose deadline has not yet passed.
func (e *Engine) CancelJob(ctx context.Context, caller Identity, jobID uint64) error {
	return e.exec(ctx, func(tx *txn) error {
		return e.refund(ctx, tx, caller, jobID, false)
	})
}

// ClaimUnfinishedJob refunds an Active job whose deadline has passed without
// a freelancer being approved.
func (e *Engine) ClaimUnfinishedJob(ctx context.Context, caller Identity, jobID uint64) error {
	return e.exec(ctx, func(tx *txn) error {
		return e.refund(ctx, tx, caller, jobID, true)
	})
}

// refund is shared by CancelJob (expired=false) and ClaimUnfinishedJob
// (expired=true); the two differ only in their time precondition.
func (e *Engine) refund(ctx context.Context, tx *txn, caller Identity, jobID uint64, expired bool) error {
	job, err := e.jobs.get(jobID)
	if err != nil {
		return err
	}
	if caller != job.Client {
		return authErr("only the client of job %d may withdraw its deposit", jobID)
	}
	if job.State != StateActive {
		return stateErr("job %d is %s", jobID, job.State)
	}
	if job.Expired(tx.now) != expired {
		if expired {
			return stateErr("job %d has not expired yet", jobID)
		}
		return stateErr("job %d has expired, claim it instead", jobID)
	}

	job.State = StateCancelled
	tx.onRollback(func() { job.State = StateActive })
	tx.touchJob(job)

	if e.certs != nil {
		if err := e.certs.burn(ctx, jobID); err != nil {
			return err
		}
		tx.onRollback(func() { e.compensateMint(ctx, jobID, job.Client) })
		tx.certBurned(jobID)
	}

	tx.call("refund", func(ctx context.Context) error {
		return e.funds.Transfer(ctx, job.Client, job.DepositAmount)
	})

	evType := EventJobCancelled
	if expired {
		evType = EventJobClaimed
	}
	tx.emit(Event{Type: evType, JobID: jobID, Actor: caller, Amount: job.DepositAmount})
	return nil
}

// SubmitWork records caller as an applicant of an Active, unexpired job.
func (e *Engine) SubmitWork(ctx context.Context, caller Identity, jobID uint64) error {
	return e.exec(ctx, func(tx *txn) error {
		job, err := e.jobs.get(jobID)
		if err != nil {
			return err
		}
		if e.variant.RequireApprovedFreelancer && !e.freelancers.isVetted(caller) {
			return authErr("%s is not a registered and approved freelancer", caller)
		}
		if err := e.applicants.check(job, caller, tx.now); err != nil {
			return err
		}
		e.applicants.add(job, caller)
		tx.onRollback(func() { e.applicants.drop(job, caller) })
		tx.touchJob(job)

		tx.emit(Event{Type: EventWorkSubmitted, JobID: jobID, Actor: caller})
		return nil
	})
}

// ApproveWork selects freelancer as the winner of an Active job and credits
// the full deposit to their withdrawable balance. The certificate is kept.
func (e *Engine) ApproveWork(ctx context.Context, caller Identity, jobID uint64, freelancer Identity) error {
	return e.exec(ctx, func(tx *txn) error {
		job, err := e.jobs.get(jobID)
		if err != nil {
			return err
		}
		if caller != job.Client {
			return authErr("only the client of job %d may approve work", jobID)
		}
		if job.State != StateActive {
			return stateErr("job %d is %s", jobID, job.State)
		}
		if job.Expired(tx.now) {
			return stateErr("job %d has expired", jobID)
		}
		if !e.applicants.isApplicant(jobID, freelancer) {
			return stateErr("%s did not apply to job %d", freelancer, jobID)
		}

		before := e.freelancers.lookup(freelancer)
		job.SelectedFreelancer = freelancer
		job.Reward = job.DepositAmount
		job.State = StateFinished
		e.freelancers.credit(freelancer, job.Reward)
		tx.onRollback(func() {
			job.SelectedFreelancer, job.Reward, job.State = "", 0, StateActive
			e.freelancers.put(freelancer, before)
		})
		tx.touchJob(job)
		tx.touchFreelancer(freelancer)

		tx.emit(Event{Type: EventWorkApproved, JobID: jobID, Actor: caller, Counterparty: freelancer, Amount: job.Reward})
		return nil
	})
}

// ─── Freelancers ─────────────────────────────────────────────────────────────

// RegisterFreelancer registers caller, charging RegistrationFee to the owner.
func (e *Engine) RegisterFreelancer(ctx context.Context, caller Identity) error {
	return e.exec(ctx, func(tx *txn) error {
		if caller.IsZero() {
			return authErr("freelancer identity is required")
		}
		before := e.freelancers.lookup(caller)
		if before.IsRegistered {
			return stateErr("%s is already registered", caller)
		}
		e.freelancers.entry(caller).IsRegistered = true
		tx.onRollback(func() { e.freelancers.put(caller, before) })
		tx.touchFreelancer(caller)

		tx.call("registration fee", func(ctx context.Context) error {
			return e.funds.TransferFrom(ctx, caller, e.authority.Owner(), RegistrationFee)
		})

		tx.emit(Event{Type: EventFreelancerRegistered, Actor: caller, Amount: RegistrationFee})
		return nil
	})
}

// ApproveFreelancer marks a registered freelancer as approved. Only the
// configured approval authority may call it.
func (e *Engine) ApproveFreelancer(ctx context.Context, caller, freelancer Identity) error {
	return e.exec(ctx, func(tx *txn) error {
		if e.cfg.ApprovalAuthority.IsZero() || caller != e.cfg.ApprovalAuthority {
			return authErr("%s is not the approval authority", caller)
		}
		before := e.freelancers.lookup(freelancer)
		if !before.IsRegistered {
			return stateErr("%s is not registered", freelancer)
		}
		if before.IsApproved {
			return stateErr("%s is already approved", freelancer)
		}
		e.freelancers.entry(freelancer).IsApproved = true
		tx.onRollback(func() { e.freelancers.put(freelancer, before) })
		tx.touchFreelancer(freelancer)

		tx.emit(Event{Type: EventFreelancerApproved, Actor: caller, Counterparty: freelancer})
		return nil
	})
}

// Withdraw pays out caller's withdrawable balance minus the withdrawal fee.
// The balance is zeroed before the transfer is requested.
func (e *Engine) Withdraw(ctx context.Context, caller Identity) (Withdrawal, error) {
	var w Withdrawal
	err := e.exec(ctx, func(tx *txn) error {
		before := e.freelancers.lookup(caller)
		if before.WithdrawableBalance == 0 {
			return ErrNoFunds
		}
		w.Gross = before.WithdrawableBalance
		w.Fee = WithdrawalFee(w.Gross, e.cfg.WithdrawFee)
		w.Net = w.Gross - w.Fee

		fees := e.accruedFees
		e.freelancers.entry(caller).WithdrawableBalance = 0
		e.accruedFees = saturatingAdd(e.accruedFees, w.Fee)
		tx.onRollback(func() {
			e.freelancers.put(caller, before)
			e.accruedFees = fees
		})
		tx.touchFreelancer(caller)
		tx.touchMeta()

		payout := w.Net
		tx.call("withdrawal", func(ctx context.Context) error {
			return e.funds.Transfer(ctx, caller, payout)
		})

		tx.emit(Event{Type: EventFundsWithdrawn, Actor: caller, Amount: w.Net, Fee: w.Fee})
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

// ─── Platform administration ─────────────────────────────────────────────────

// SetWithdrawFee sets the withdrawal fee in basis points.
func (e *Engine) SetWithdrawFee(ctx context.Context, caller Identity, rate uint16) error {
	return e.updateConfig(ctx, caller, func(c *PlatformConfig) (string, error) {
		if err := checkWithdrawFee(rate, e.variant); err != nil {
			return "", err
		}
		c.WithdrawFee = rate
		return fmt.Sprintf("withdrawFee=%d", rate), nil
	})
}

// SetMaxExpiry sets the longest allowed job duration.
func (e *Engine) SetMaxExpiry(ctx context.Context, caller Identity, d time.Duration) error {
	return e.updateConfig(ctx, caller, func(c *PlatformConfig) (string, error) {
		if err := checkMaxExpiry(d); err != nil {
			return "", err
		}
		c.MaxExpiry = d
		return fmt.Sprintf("maxExpiry=%s", d), nil
	})
}

// SetApprovalAuthority designates the identity allowed to approve freelancers.
func (e *Engine) SetApprovalAuthority(ctx context.Context, caller, authority Identity) error {
	return e.updateConfig(ctx, caller, func(c *PlatformConfig) (string, error) {
		if authority.IsZero() {
			return "", valueErr("approval authority cannot be the null identity")
		}
		c.ApprovalAuthority = authority
		return fmt.Sprintf("approvalAuthority=%s", authority), nil
	})
}

// SetMinDeposit sets the smallest accepted job deposit.
func (e *Engine) SetMinDeposit(ctx context.Context, caller Identity, amount uint64) error {
	return e.updateConfig(ctx, caller, func(c *PlatformConfig) (string, error) {
		if amount == 0 {
			return "", valueErr("minimum deposit must be positive")
		}
		c.MinDeposit = amount
		return fmt.Sprintf("minDeposit=%d", amount), nil
	})
}

func (e *Engine) updateConfig(ctx context.Context, caller Identity, set func(c *PlatformConfig) (string, error)) error {
	return e.exec(ctx, func(tx *txn) error {
		if !e.authority.IsOwner(caller) {
			return authErr("%s is not the platform owner", caller)
		}
		next := e.cfg
		detail, err := set(&next)
		if err != nil {
			return err
		}
		prev := e.cfg
		e.cfg = next
		tx.onRollback(func() { e.cfg = prev })
		tx.touchMeta()
		tx.emit(Event{Type: EventConfigUpdated, Actor: caller, Detail: detail})
		return nil
	})
}

// SweepFees transfers the accrued withdrawal fees to the platform owner.
func (e *Engine) SweepFees(ctx context.Context, caller Identity) (uint64, error) {
	var swept uint64
	err := e.exec(ctx, func(tx *txn) error {
		if !e.authority.IsOwner(caller) {
			return authErr("%s is not the platform owner", caller)
		}
		if e.accruedFees == 0 {
			return valueErr("no fees to sweep")
		}
		swept = e.accruedFees
		e.accruedFees = 0
		tx.onRollback(func() { e.accruedFees = swept })
		tx.touchMeta()

		amount := swept
		tx.call("fee sweep", func(ctx context.Context) error {
			return e.funds.Transfer(ctx, e.authority.Owner(), amount)
		})
		tx.emit(Event{Type: EventFeesSwept, Actor: caller, Amount: swept})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}

// RecoverForeignTokens sends amount of a token mistakenly held in custody to
// the platform owner. The escrow ledger itself can never be drained this way.
func (e *Engine) RecoverForeignTokens(ctx context.Context, caller Identity, token FundsLedger, amount uint64) error {
	return e.exec(ctx, func(tx *txn) error {
		if !e.authority.IsOwner(caller) {
			return authErr("%s is not the platform owner", caller)
		}
		if token == nil || token == e.funds {
			return valueErr("cannot recover the escrow token")
		}
		if amount == 0 {
			return valueErr("amount must be positive")
		}
		tx.call("token recovery", func(ctx context.Context) error {
			return token.Transfer(ctx, e.authority.Owner(), amount)
		})
		tx.emit(Event{Type: EventTokensRecovered, Actor: caller, Amount: amount})
		return nil
	})
}

// ─── Compensation ────────────────────────────────────────────────────────────

// compensateBurn and compensateMint restore the issuer's record whatever the
// registry answers, so a failed compensation never blocks later operations.

func (e *Engine) compensateBurn(ctx context.Context, id uint64) {
	if err := e.certs.discard(ctx, id); err != nil {
		slog.Error("certificate compensation burn failed, id orphaned", "jobId", id, "err", err)
	}
}

func (e *Engine) compensateMint(ctx context.Context, id uint64, owner Identity) {
	if err := e.certs.reinstate(ctx, id, owner); err != nil {
		slog.Error("certificate compensation mint failed, record kept without token", "jobId", id, "err", err)
	}
}
