package pricecache

import (
	"fmt"
	"time"
)

// FreshnessPolicy decides which cached rows may still be served.
type FreshnessPolicy interface {
	// Cutoff returns the oldest acceptable last-updated time, ok is false when
	// every row is acceptable.
	Cutoff(now time.Time) (cutoff time.Time, ok bool)
	String() string
}

// Indefinite treats any cached row as valid forever.
type Indefinite struct{}

func (Indefinite) Cutoff(time.Time) (time.Time, bool) {
	return time.Time{}, false
}

func (Indefinite) String() string {
	return "indefinite"
}

// TTL rejects rows last updated more than Horizon ago.
type TTL struct {
	Horizon time.Duration
}

func (p TTL) Cutoff(now time.Time) (time.Time, bool) {
	return now.Add(-p.Horizon), true
}

func (p TTL) String() string {
	return fmt.Sprintf("ttl(%s)", p.Horizon)
}

// ParsePolicy turns a config value ("indefinite", "" or "ttl") into a policy.
func ParsePolicy(name string, horizon time.Duration) (FreshnessPolicy, error) {
	switch name {
	case "", "indefinite":
		return Indefinite{}, nil
	case "ttl":
		if horizon <= 0 {
			return nil, fmt.Errorf("ttl freshness policy needs a positive horizon, got %s", horizon)
		}
		return TTL{Horizon: horizon}, nil
	default:
		return nil, fmt.Errorf("unknown freshness policy %q", name)
	}
}
