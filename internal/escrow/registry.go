package escrow

// FreelancerInfo is the registry entry of a freelancer identity.
type FreelancerInfo struct {
	IsRegistered        bool   `json:"isRegistered"`
	IsApproved          bool   `json:"isApproved"`
	TotalEarned         uint64 `json:"totalEarned"`
	CompletedJobs       uint64 `json:"completedJobs"`
	WithdrawableBalance uint64 `json:"withdrawableBalance"`
}

// freelancerRegistry tracks registration, approval and earnings.
type freelancerRegistry struct {
	entries map[Identity]*FreelancerInfo
}

func newFreelancerRegistry() *freelancerRegistry {
	return &freelancerRegistry{entries: make(map[Identity]*FreelancerInfo)}
}

// lookup returns a copy of the entry for id; unknown identities read as zero.
func (r *freelancerRegistry) lookup(id Identity) FreelancerInfo {
	if info, ok := r.entries[id]; ok {
		return *info
	}
	return FreelancerInfo{}
}

func (r *freelancerRegistry) entry(id Identity) *FreelancerInfo {
	info, ok := r.entries[id]
	if !ok {
		info = &FreelancerInfo{}
		r.entries[id] = info
	}
	return info
}

// put overwrites the entry for id; used to restore a snapshot on rollback.
func (r *freelancerRegistry) put(id Identity, info FreelancerInfo) {
	if info == (FreelancerInfo{}) {
		delete(r.entries, id)
		return
	}
	*r.entry(id) = info
}

func (r *freelancerRegistry) isVetted(id Identity) bool {
	info := r.lookup(id)
	return info.IsRegistered && info.IsApproved
}

// credit records a completed job worth amount. It never fails; counters
// saturate instead of wrapping.
func (r *freelancerRegistry) credit(id Identity, amount uint64) {
	info := r.entry(id)
	info.TotalEarned = saturatingAdd(info.TotalEarned, amount)
	info.WithdrawableBalance = saturatingAdd(info.WithdrawableBalance, amount)
	info.CompletedJobs++
}

func saturatingAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
