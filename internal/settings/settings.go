// Package settings implements the dynamic settings bag: a
// strings-to-typed-values map consulted by the allocation deciders and the
// replication operation. Values are loaded from a YAML document (operators
// ship a cluster.yaml, loaded with yaml.v3) and may be overridden
// programmatically, e.g. from the CLI or from tests.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Keys recognized by the core.
const (
	KeyWatermarkLow        = "cluster.routing.allocation.disk.watermark.low"
	KeyWatermarkHigh       = "cluster.routing.allocation.disk.watermark.high"
	KeyWatermarkFloodStage = "cluster.routing.allocation.disk.watermark.flood_stage"
	KeyThresholdEnabled    = "cluster.routing.allocation.disk.threshold_enabled"
	KeyConcurrentIncoming  = "cluster.routing.allocation.node_concurrent_incoming_recoveries"
	KeyConcurrentOutgoing  = "cluster.routing.allocation.node_concurrent_outgoing_recoveries"
	KeyAllocationEnable    = "cluster.routing.allocation.enable"
	KeyReplicationRetry    = "indices.replication.retry_timeout"
	KeyLeaderCheckTimeout  = "discovery.zen.leader_check.timeout"
	KeyLeaderCheckRetries  = "discovery.zen.leader_check.retry_count"
)

// AllocationEnable is the value of cluster.routing.allocation.enable.
type AllocationEnable string

const (
	AllocationEnableAll       AllocationEnable = "all"
	AllocationEnablePrimaries AllocationEnable = "primaries"
	AllocationEnableReplicas  AllocationEnable = "replicas"
	AllocationEnableNone      AllocationEnable = "none"
)

// defaults mirror the out-of-the-box values a freshly bootstrapped cluster
// ships with.
var defaults = map[string]string{
	KeyWatermarkLow:        "85%",
	KeyWatermarkHigh:       "90%",
	KeyWatermarkFloodStage: "95%",
	KeyThresholdEnabled:    "true",
	KeyConcurrentIncoming:  "2",
	KeyConcurrentOutgoing:  "2",
	KeyAllocationEnable:    "all",
	KeyReplicationRetry:    "60s",
	KeyLeaderCheckTimeout:  "10s",
	KeyLeaderCheckRetries:  "3",
}

// Settings is a thread-safe strings-to-strings bag with typed accessors.
// A Settings value is shared across deciders and the replication operation;
// all accesses go through RLock/Lock so settings may be updated at runtime.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns a Settings bag seeded with defaults.
func New() *Settings {
	s := &Settings{values: make(map[string]string, len(defaults))}
	for k, v := range defaults {
		s.values[k] = v
	}
	return s
}

// Load parses a YAML document of key: value pairs and overlays it on top of
// the defaults. Unknown keys are kept verbatim (forward compatibility: a
// newer settings document read by an older binary should not fail to load).
func Load(data []byte) (*Settings, error) {
	var doc map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings: parse yaml: %w", err)
	}
	s := New()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range doc {
		s.values[k] = v
	}
	return s, nil
}

// Set overrides a single key at runtime.
func (s *Settings) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Settings) get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// String returns the raw string value for key.
func (s *Settings) String(key string) string {
	return s.get(key)
}

// Bool parses key as a bool; malformed values fall back to false.
func (s *Settings) Bool(key string) bool {
	v, _ := strconv.ParseBool(s.get(key))
	return v
}

// Int parses key as an int; malformed values fall back to 0.
func (s *Settings) Int(key string) int {
	v, _ := strconv.Atoi(s.get(key))
	return v
}

// Duration parses key as a time.Duration; malformed values fall back to 0.
func (s *Settings) Duration(key string) time.Duration {
	v, _ := time.ParseDuration(s.get(key))
	return v
}

// AllocationEnable returns the parsed cluster.routing.allocation.enable
// value, defaulting to "all" for anything unrecognized.
func (s *Settings) AllocationEnable() AllocationEnable {
	switch AllocationEnable(strings.ToLower(s.get(KeyAllocationEnable))) {
	case AllocationEnableNone:
		return AllocationEnableNone
	case AllocationEnablePrimaries:
		return AllocationEnablePrimaries
	case AllocationEnableReplicas:
		return AllocationEnableReplicas
	default:
		return AllocationEnableAll
	}
}

// Watermark is a parsed disk-usage threshold, expressed either as a
// percentage of disk used or as an absolute number of free bytes.
type Watermark struct {
	// Percent is the used-space percentage threshold (0-100); IsPercent
	// is false if this watermark was given as an absolute byte count.
	Percent   float64
	IsPercent bool
	// Bytes is the minimum free-space threshold in bytes when
	// !IsPercent.
	Bytes uint64
}

// ParseWatermark parses a watermark string in either form: "90%" (used-space
// percentage) or "100b"/"10gb" (absolute free-space size).
func ParseWatermark(raw string) (Watermark, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Watermark{}, fmt.Errorf("settings: empty watermark")
	}
	if strings.HasSuffix(raw, "%") {
		pctStr := strings.TrimSuffix(raw, "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			return Watermark{}, fmt.Errorf("settings: invalid percent watermark %q: %w", raw, err)
		}
		return Watermark{Percent: pct, IsPercent: true}, nil
	}
	b, err := parseByteSize(raw)
	if err != nil {
		return Watermark{}, fmt.Errorf("settings: invalid byte watermark %q: %w", raw, err)
	}
	return Watermark{Bytes: b}, nil
}

var byteUnits = []struct {
	suffix string
	factor uint64
}{
	{"pb", 1 << 50},
	{"tb", 1 << 40},
	{"gb", 1 << 30},
	{"mb", 1 << 20},
	{"kb", 1 << 10},
	{"b", 1},
}

func parseByteSize(raw string) (uint64, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, u := range byteUnits {
		if strings.HasSuffix(lower, u.suffix) {
			numStr := strings.TrimSuffix(lower, u.suffix)
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, err
			}
			return uint64(n * float64(u.factor)), nil
		}
	}
	return 0, fmt.Errorf("unrecognized byte size suffix in %q", raw)
}

// DiskWatermarks returns the three parsed disk watermarks (low, high,
// flood-stage). An error from any of them is a configuration error. The
// disk threshold decider calls this on every decision and answers YES when
// it returns an error.
func (s *Settings) DiskWatermarks() (low, high, floodStage Watermark, err error) {
	low, err = ParseWatermark(s.get(KeyWatermarkLow))
	if err != nil {
		return
	}
	high, err = ParseWatermark(s.get(KeyWatermarkHigh))
	if err != nil {
		return
	}
	floodStage, err = ParseWatermark(s.get(KeyWatermarkFloodStage))
	return
}
