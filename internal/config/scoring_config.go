package config

import "strings"

type ScoringConfig interface {
	GetScoringConfigPath() string
	GetGuestDetection() string
}

type Scoring struct{}

var _ ScoringConfig = Scoring{}

// GetScoringConfigPath returns an optional YAML file overriding weights and thresholds.
func (Scoring) GetScoringConfigPath() string {
	return GetEnv("SCORING_CONFIG_PATH", "")
}

// GetGuestDetection returns "marker" or "usertype".
func (Scoring) GetGuestDetection() string {
	return strings.ToLower(GetEnv("GUEST_DETECTION", "marker"))
}
