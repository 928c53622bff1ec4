package config

import (
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the dedup/priority engine tunables. Everything has a
// default so a bare environment still produces a working engine; tests inject
// their own values directly.
type EngineConfig struct {
	// ClusterRadiusMeters is the radius used both for duplicate candidate
	// search and for cluster-density priority evidence.
	ClusterRadiusMeters float64

	// ClusterMinOthers is the minimum number of *other* canonical issues of
	// the same category within the radius before priority gets bumped.
	ClusterMinOthers int

	// Vote thresholds for the priority baseline.
	VoteHighThreshold   int
	VoteMediumThreshold int

	// RetroScanCap bounds how many canonical issues a retroactive clustering
	// run will load.
	RetroScanCap int64

	// QueryTimeout bounds every spatial query so a slow index cannot stall
	// the intake path.
	QueryTimeout time.Duration
}

// DefaultEngineConfig returns the stock tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ClusterRadiusMeters: 100,
		ClusterMinOthers:    2,
		VoteHighThreshold:   7,
		VoteMediumThreshold: 2,
		RetroScanCap:        500,
		QueryTimeout:        5 * time.Second,
	}
}

// LoadEngineConfig reads tunables from the environment, falling back to
// defaults for anything unset or unparsable.
func LoadEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()

	if v, err := strconv.ParseFloat(os.Getenv("CLUSTER_RADIUS_METERS"), 64); err == nil && v > 0 {
		cfg.ClusterRadiusMeters = v
	}
	if v, err := strconv.Atoi(os.Getenv("CLUSTER_MIN_OTHERS")); err == nil && v > 0 {
		cfg.ClusterMinOthers = v
	}
	if v, err := strconv.Atoi(os.Getenv("VOTE_HIGH_THRESHOLD")); err == nil && v > 0 {
		cfg.VoteHighThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("VOTE_MEDIUM_THRESHOLD")); err == nil && v > 0 {
		cfg.VoteMediumThreshold = v
	}
	if v, err := strconv.ParseInt(os.Getenv("RETRO_SCAN_CAP"), 10, 64); err == nil && v > 0 {
		cfg.RetroScanCap = v
	}
	if v, err := strconv.Atoi(os.Getenv("SPATIAL_QUERY_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.QueryTimeout = time.Duration(v) * time.Second
	}

	return cfg
}
