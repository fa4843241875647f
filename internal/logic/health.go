package logic

// FailureTracker counts consecutive failures and reports threshold
// crossings exactly once per degraded period.
type FailureTracker struct {
	threshold   int
	consecutive int
	degraded    bool
}

// NewFailureTracker creates a tracker that degrades once more than
// threshold consecutive failures have been seen.
func NewFailureTracker(threshold int) *FailureTracker {
	return &FailureTracker{threshold: threshold}
}

// Fail records a failure. It returns true only on the failure that
// crosses the threshold.
func (f *FailureTracker) Fail() bool {
	f.consecutive++
	if f.degraded || f.consecutive <= f.threshold {
		return false
	}
	f.degraded = true
	return true
}

// Succeed resets the counter. It returns true if this ends a degraded period.
func (f *FailureTracker) Succeed() bool {
	f.consecutive = 0
	if !f.degraded {
		return false
	}
	f.degraded = false
	return true
}

// Consecutive returns the current run of failures.
func (f *FailureTracker) Consecutive() int {
	return f.consecutive
}

// Degraded reports whether the threshold has been crossed.
func (f *FailureTracker) Degraded() bool {
	return f.degraded
}

// SetThreshold changes the threshold. An ongoing degraded period is kept.
func (f *FailureTracker) SetThreshold(threshold int) {
	f.threshold = threshold
}
