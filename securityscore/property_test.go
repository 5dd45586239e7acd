package securityscore_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestScoreBounds checks that any mix of directory data and source failures
// yields a total in 0..100 equal to the sum of its checks.
func TestScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total is the bounded sum of check scores", prop.ForAll(
		func(total, disabled, guests, active, inactive, adminCount int, mfa bool, failures uint8) bool {
			disabled = min(disabled, total)
			guests = min(guests, total)

			dir := &fakeDirectory{
				users:    users(total, disabled, guests),
				policies: policies(active, inactive, mfa),
				admins:   admins(adminCount),
			}
			unavailable := errors.New("unavailable")
			if failures&1 != 0 {
				dir.usersErr = unavailable
			}
			if failures&2 != 0 {
				dir.policiesErr = unavailable
			}
			if failures&4 != 0 {
				dir.rolesErr = unavailable
			}

			e, err := securityscore.NewEngine(dir)
			if err != nil {
				return false
			}
			r := e.Calculate(context.Background(), "t", "T")

			sum := 0
			for _, c := range r.Checks {
				if c.Score < 0 || c.Score > c.Weight {
					return false
				}
				sum += c.Score
			}
			return sum == r.TotalScore && r.TotalScore >= 0 && r.TotalScore <= 100
		},
		gen.IntRange(0, 500),
		gen.IntRange(0, 500),
		gen.IntRange(0, 500),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, 40),
		gen.Bool(),
		gen.UInt8Range(0, 7),
	))

	properties.TestingRun(t)
}
