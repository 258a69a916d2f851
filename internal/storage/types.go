package storage

// DailyUsage is the per-user request counter for one UTC calendar day.
type DailyUsage struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"` // 2006-01-02
	Count  int    `json:"count"`
}

// SessionState is the persisted focus session record. The JSON field names
// are shared with the browser extension, which reads the same record.
type SessionState struct {
	IsLockedIn          bool   `json:"isLockedIn"`
	CurrentGoal         string `json:"currentGoal"`
	BlockedCount        int    `json:"blockedCount"`
	LastRateLimitedDate string `json:"lastRateLimitedDate,omitempty"`
}
