package core

import "time"

// QuotaState tracks how many guarded calls a client made in the current window.
type QuotaState struct {
	Count        int
	WindowStart  time.Time
	BlockedUntil *time.Time
}
