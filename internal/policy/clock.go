package policy

import "time"

// DateLayout is the calendar-day format shared by the usage ledger and the
// session record. Days are UTC on both sides.
const DateLayout = "2006-01-02"

// Clock provides time information for policy evaluation.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides fixed time for testing.
type TestClock struct {
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// Advance moves the test time forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}

// Today returns the UTC calendar date of the clock's current time.
func Today(c Clock) string {
	return c.Now().UTC().Format(DateLayout)
}
