package escrow

import (
	"fmt"
	"math/bits"
	"time"
)

const (
	// FeeDenominator is the basis-points scale used by the withdrawal fee.
	FeeDenominator = 10_000

	// MinExpiryBound and MaxExpiryBound bound the configurable max job duration.
	MinExpiryBound = 24 * time.Hour
	MaxExpiryBound = 90 * 24 * time.Hour

	// MaxApplicants caps the applicant list of a single job.
	MaxApplicants = 50

	// RegistrationFee is charged once per freelancer registration, in the
	// funds ledger's minimum denomination.
	RegistrationFee uint64 = 1
)

// Variant selects one of the two deployment configurations of the engine.
type Variant struct {
	Name string
	// FeeCeiling is the highest accepted withdrawFee, in basis points.
	FeeCeiling uint16
	// RequireApprovedFreelancer gates SubmitWork on registry approval.
	RequireApprovedFreelancer bool
	// IssueCertificates mints a locked certificate per posted job.
	IssueCertificates bool
	// RejectProgramCallers asks the transport boundary to refuse callers
	// verified as programs on freelancer-facing operations.
	RejectProgramCallers bool
}

var (
	// Vetted is the canonical configuration: freelancer vetting, soulbound
	// certificates and a 5% fee ceiling.
	Vetted = Variant{
		Name:                      "vetted",
		FeeCeiling:                500,
		RequireApprovedFreelancer: true,
		IssueCertificates:         true,
		RejectProgramCallers:      true,
	}

	// Open is the reduced configuration: any caller may apply, no
	// certificates and a 10% fee ceiling.
	Open = Variant{
		Name:       "open",
		FeeCeiling: 1000,
	}
)

// ParseVariant maps a configuration name to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch name {
	case Vetted.Name:
		return Vetted, nil
	case Open.Name:
		return Open, nil
	}
	return Variant{}, fmt.Errorf("unknown escrow variant %q", name)
}

// PlatformConfig holds the admin-tunable parameters. It is owned by the
// Engine and only mutated through the owner-gated setters.
type PlatformConfig struct {
	WithdrawFee       uint16        `json:"withdrawFee"`
	MaxExpiry         time.Duration `json:"maxExpiry"`
	ApprovalAuthority Identity      `json:"approvalAuthority"`
	MinDeposit        uint64        `json:"minDeposit"`
}

// DefaultPlatformConfig returns the configuration a new engine starts with.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		WithdrawFee: 0,
		MaxExpiry:   30 * 24 * time.Hour,
		MinDeposit:  1_000_000,
	}
}

func (c PlatformConfig) validate(v Variant) error {
	if err := checkWithdrawFee(c.WithdrawFee, v); err != nil {
		return err
	}
	if err := checkMaxExpiry(c.MaxExpiry); err != nil {
		return err
	}
	if c.MinDeposit == 0 {
		return valueErr("minimum deposit must be positive")
	}
	return nil
}

func checkWithdrawFee(rate uint16, v Variant) error {
	if rate > v.FeeCeiling {
		return valueErr("withdraw fee %d bp exceeds ceiling of %d bp", rate, v.FeeCeiling)
	}
	return nil
}

func checkMaxExpiry(d time.Duration) error {
	if d < MinExpiryBound || d > MaxExpiryBound {
		return valueErr("max expiry %s outside [%s, %s]", d, MinExpiryBound, MaxExpiryBound)
	}
	return nil
}

// WithdrawalFee returns floor(amount × rate / FeeDenominator) without
// intermediate overflow. Rates above 100% are clamped.
func WithdrawalFee(amount uint64, rate uint16) uint64 {
	if rate > FeeDenominator {
		rate = FeeDenominator
	}
	hi, lo := bits.Mul64(amount, uint64(rate))
	fee, _ := bits.Div64(hi, lo, FeeDenominator)
	return fee
}
