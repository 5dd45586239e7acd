package securityscore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GuestDetection selects the guest predicate by name.
const (
	GuestDetectionMarker   = "marker"
	GuestDetectionUserType = "usertype"
)

// ParseConfig overlays a YAML document on the defaults. Keys absent from the
// document keep their default values.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("[securityscore ParseConfig] invalid scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a scoring config from path, or returns the defaults when
// path is empty. guestDetection is "marker" (principal name contains
// guestMarker) or "usertype".
func LoadConfig(path, guestDetection, guestMarker string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("[securityscore LoadConfig] failed to read %s: %w", path, err)
		}
		if cfg, err = ParseConfig(data); err != nil {
			return Config{}, err
		}
	}

	switch guestDetection {
	case "", GuestDetectionMarker:
		if guestMarker != "" {
			cfg.IsGuest = MarkerGuestPredicate(guestMarker)
		}
	case GuestDetectionUserType:
		cfg.IsGuest = UserTypeGuestPredicate
	default:
		return Config{}, fmt.Errorf("[securityscore LoadConfig] unknown guest detection %q", guestDetection)
	}
	return cfg, cfg.Validate()
}
