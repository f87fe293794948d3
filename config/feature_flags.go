package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
// Users are bucketed by a hash of feature name and user id, so a user keeps
// the same answer while the rollout percent is unchanged.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeaturePathwayXP       = "progress.pathway_xp"       // 1 XP for opening a generated pathway
	FeatureStatsCache      = "progress.stats_cache"      // Cache stats snapshots
	FeatureEventPublishing = "progress.event_publishing" // Publish domain events after writes
	FeatureIdempotency     = "progress.idempotency"      // Deduplicate client event ids
)

// LoadFeatureFlags builds the flag set from defaults, then overrides (from the
// config file), then FEATURE_* environment variables.
func LoadFeatureFlags(overrides map[string]string) *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()

	for name, feature := range ff.features {
		if val, ok := overrides[featureNameToConfigKey(name)]; ok {
			applyValue(feature, val)
		}
	}

	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeaturePathwayXP, Description: "Award XP for opening a learning pathway"},
		{Name: FeatureStatsCache, Description: "Serve stats from the cache"},
		{Name: FeatureEventPublishing, Description: "Publish progress events on the bus"},
		{Name: FeatureIdempotency, Description: "Deduplicate events by client event id"},
	}
	for _, f := range defaults {
		f.Enabled = true
		f.RolloutPercent = 100
		feature := f
		ff.features[f.Name] = &feature
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_PROGRESS_PATHWAY_XP=false
// Example: FEATURE_PROGRESS_STATS_CACHE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			applyValue(feature, val)
		}
	}
}

// applyValue accepts a boolean or a percentage. Anything else is ignored.
func applyValue(feature *Feature, val string) {
	val = strings.TrimSpace(val)

	if b, err := strconv.ParseBool(val); err == nil {
		feature.Enabled = b
		if b {
			feature.RolloutPercent = 100
		} else {
			feature.RolloutPercent = 0
		}
		return
	}

	if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
		feature.Enabled = p > 0
		feature.RolloutPercent = p
	}
}

// featureNameToConfigKey converts feature name to its key under "features"
// in config.yaml. Dots are path separators there.
// "progress.pathway_xp" -> "progress_pathway_xp"
func featureNameToConfigKey(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// featureNameToEnvKey converts feature name to environment variable key.
// "progress.pathway_xp" -> "FEATURE_PROGRESS_PATHWAY_XP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// Enabled checks if a feature is enabled for the user. Unknown features are off.
func (ff *FeatureFlags) Enabled(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return isInRollout(userID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))

	// Map to 0-99 range
	bucket := int(h.Sum32() % 100)

	return bucket < percent
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
