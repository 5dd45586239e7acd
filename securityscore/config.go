package securityscore

import (
	"strings"

	"github.com/jrsteele09/tenant-insights/identity"
	"github.com/jrsteele09/tenant-insights/internal/errors"
)

const (
	DefaultGuestMarker = "#EXT#"
	DefaultMFAControl  = "mfa"
)

// GuestPredicate decides whether a directory user is an external guest.
// Directories do not mark guests uniformly, so any predicate is a heuristic.
type GuestPredicate func(u identity.User) bool

// MarkerGuestPredicate treats principal names containing marker as guests.
func MarkerGuestPredicate(marker string) GuestPredicate {
	return func(u identity.User) bool {
		return marker != "" && strings.Contains(u.UserPrincipalName, marker)
	}
}

// UserTypeGuestPredicate trusts the directory's own userType attribute.
func UserTypeGuestPredicate(u identity.User) bool {
	return strings.EqualFold(u.UserType, "Guest")
}

// Tiered scores a value against two ascending cutoffs: below Cutoffs[0] earns
// Scores[0] (pass), below Cutoffs[1] earns Scores[1] (warning), else Scores[2] (fail).
type Tiered struct {
	Cutoffs [2]float64 `yaml:"cutoffs"`
	Scores  [3]int     `yaml:"scores"`
}

func (t Tiered) score(v float64) (int, Status) {
	switch {
	case v < t.Cutoffs[0]:
		return t.Scores[0], StatusPass
	case v < t.Cutoffs[1]:
		return t.Scores[1], StatusWarning
	default:
		return t.Scores[2], StatusFail
	}
}

type Weights struct {
	ActivePolicies   int `yaml:"active_policies"`
	PrivilegedAdmins int `yaml:"privileged_admins"`
	DisabledAccounts int `yaml:"disabled_accounts"`
	GuestUsers       int `yaml:"guest_users"`
	MFAEnforcement   int `yaml:"mfa_enforcement"`
	SecurityBaseline int `yaml:"security_baseline"`
}

func (w Weights) Total() int {
	return w.ActivePolicies + w.PrivilegedAdmins + w.DisabledAccounts + w.GuestUsers + w.MFAEnforcement + w.SecurityBaseline
}

type Config struct {
	Weights Weights `yaml:"weights"`

	PointsPerPolicy  int            `yaml:"points_per_policy"`
	PolicyPassCount  int            `yaml:"policy_pass_count"`
	PolicyWarnCount  int            `yaml:"policy_warn_count"`
	PrivilegedAdmins Tiered         `yaml:"privileged_admins"` // admin counts; cutoffs are exclusive upper bounds
	DisabledRatio    Tiered         `yaml:"disabled_ratio"`
	GuestRatio       Tiered         `yaml:"guest_ratio"`
	RoleTemplateID   string         `yaml:"role_template_id"`
	MFAControl       string         `yaml:"mfa_control"`
	IsGuest          GuestPredicate `yaml:"-"`
}

// DefaultConfig is the fixed weight table: 25/20/15/15/10/15.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			ActivePolicies:   25,
			PrivilegedAdmins: 20,
			DisabledAccounts: 15,
			GuestUsers:       15,
			MFAEnforcement:   10,
			SecurityBaseline: 15,
		},
		PointsPerPolicy:  8,
		PolicyPassCount:  3,
		PolicyWarnCount:  1,
		PrivilegedAdmins: Tiered{Cutoffs: [2]float64{6, 9}, Scores: [3]int{20, 12, 5}}, // <=5, <=8, more
		DisabledRatio:    Tiered{Cutoffs: [2]float64{0.2, 0.4}, Scores: [3]int{15, 10, 5}},
		GuestRatio:       Tiered{Cutoffs: [2]float64{0.3, 0.5}, Scores: [3]int{15, 10, 5}},
		RoleTemplateID:   identity.DefaultPrivilegedRoleTemplateID,
		MFAControl:       DefaultMFAControl,
		IsGuest:          MarkerGuestPredicate(DefaultGuestMarker),
	}
}

// Validate keeps every total inside 0..100: weights must sum to 100 and no
// tier may award more than its check's weight.
func (c Config) Validate() error {
	if total := c.Weights.Total(); total != 100 {
		return errors.Wrapf(errors.ErrInvalidConfig, "weights sum to %d, want 100", total)
	}
	checks := []struct {
		name   string
		weight int
		tiers  Tiered
	}{
		{"privileged admins", c.Weights.PrivilegedAdmins, c.PrivilegedAdmins},
		{"disabled ratio", c.Weights.DisabledAccounts, c.DisabledRatio},
		{"guest ratio", c.Weights.GuestUsers, c.GuestRatio},
	}
	for _, chk := range checks {
		if chk.tiers.Cutoffs[0] > chk.tiers.Cutoffs[1] {
			return errors.Wrapf(errors.ErrInvalidConfig, "%s cutoffs must ascend", chk.name)
		}
		for _, s := range chk.tiers.Scores {
			if s < 0 || s > chk.weight {
				return errors.Wrapf(errors.ErrInvalidConfig, "%s tier score %d outside 0..%d", chk.name, s, chk.weight)
			}
		}
	}
	for name, w := range map[string]int{
		"active policies":   c.Weights.ActivePolicies,
		"mfa enforcement":   c.Weights.MFAEnforcement,
		"security baseline": c.Weights.SecurityBaseline,
	} {
		if w < 0 {
			return errors.Wrapf(errors.ErrInvalidConfig, "%s weight is negative", name)
		}
	}
	if c.PointsPerPolicy < 0 || c.PolicyWarnCount > c.PolicyPassCount {
		return errors.Wrapf(errors.ErrInvalidConfig, "policy thresholds")
	}
	if c.IsGuest == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "guest predicate is required")
	}
	return nil
}
