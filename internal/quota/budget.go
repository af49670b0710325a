package quota

import "errors"

// Default budget values, sized for a mirror of remotely sourced records
// rather than a bulk blob store.
const (
	DefaultTotalBudgetBytes        = 8 << 20 // 8 MiB
	DefaultWriteThresholdRatio     = 0.8
	DefaultEmergencyThresholdRatio = 0.9
	DefaultMaxEntryBytes           = 1 << 20 // 1 MiB
	DefaultMaxRetryDepth           = 3

	// tier2TargetRatio is the lower target used after an emergency stray
	// purge, leaving headroom below the write threshold.
	tier2TargetRatio = 0.7
)

// Budget is the process-wide quota configuration.
type Budget struct {
	// TotalBudgetBytes is the byte budget the cache aims to stay under.
	TotalBudgetBytes int64

	// WriteThresholdRatio triggers preventive cleanup when a write would
	// push the usage estimate past ratio*total.
	WriteThresholdRatio float64

	// EmergencyThresholdRatio triggers the aggressive multi-tier path.
	EmergencyThresholdRatio float64

	// MaxEntryBytes is the single-entry hard cap. Oversized entries fail
	// immediately; no amount of cleanup can make one fit.
	MaxEntryBytes int64

	// MaxRetryDepth bounds the corrective cleanup/retry loop per write.
	MaxRetryDepth int
}

// DefaultBudget returns the default quota configuration.
func DefaultBudget() Budget {
	return Budget{
		TotalBudgetBytes:        DefaultTotalBudgetBytes,
		WriteThresholdRatio:     DefaultWriteThresholdRatio,
		EmergencyThresholdRatio: DefaultEmergencyThresholdRatio,
		MaxEntryBytes:           DefaultMaxEntryBytes,
		MaxRetryDepth:           DefaultMaxRetryDepth,
	}
}

// Validate reports configuration errors.
func (b Budget) Validate() error {
	switch {
	case b.TotalBudgetBytes <= 0:
		return errors.New("quota: total budget must be positive")
	case b.WriteThresholdRatio <= 0 || b.WriteThresholdRatio > 1:
		return errors.New("quota: write threshold ratio must be in (0, 1]")
	case b.EmergencyThresholdRatio < b.WriteThresholdRatio || b.EmergencyThresholdRatio > 1:
		return errors.New("quota: emergency threshold ratio must be in [write, 1]")
	case b.MaxEntryBytes <= 0:
		return errors.New("quota: max entry bytes must be positive")
	case b.MaxRetryDepth < 0:
		return errors.New("quota: max retry depth must not be negative")
	}
	return nil
}

// WriteThresholdBytes returns the preventive-cleanup trigger point.
func (b Budget) WriteThresholdBytes() int64 {
	return int64(b.WriteThresholdRatio * float64(b.TotalBudgetBytes))
}

// EmergencyThresholdBytes returns the emergency trigger point.
func (b Budget) EmergencyThresholdBytes() int64 {
	return int64(b.EmergencyThresholdRatio * float64(b.TotalBudgetBytes))
}

// Tier2TargetBytes returns the lowered target used after a stray purge.
func (b Budget) Tier2TargetBytes() int64 {
	return int64(tier2TargetRatio * float64(b.TotalBudgetBytes))
}
