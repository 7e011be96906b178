package poll

import "time"

// errorThrottle decides which of a run of repeated failures deserve a log
// line. Without it, a device that drops off the network for an hour floods
// the log with an identical message every few seconds.
//
// Policy: log the first failure, every fifth failure after that, and in any
// case at most one line per minute-long quiet period. A success resets the
// run. Not safe for concurrent use; each device loop owns one.
type errorThrottle struct {
	count     int
	lastLogAt time.Time
}

// minLogGap is the quiet period after which a repeat failure is always
// logged, regardless of count.
const minLogGap = time.Minute

// shouldLog registers one failure and reports whether to log it.
func (t *errorThrottle) shouldLog(now time.Time) bool {
	t.count++

	if t.count == 1 || t.count%5 == 0 || now.Sub(t.lastLogAt) >= minLogGap {
		t.lastLogAt = now
		return true
	}
	return false
}

// reset clears the failure run after a success.
func (t *errorThrottle) reset() {
	t.count = 0
	t.lastLogAt = time.Time{}
}
