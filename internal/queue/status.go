package queue

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
}

// IsTerminal reports whether a job in this status will never change again.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// canTransition enforces pending -> running -> completed|failed.
// A pending job may fail directly when it is cancelled before a worker picks it up.
func canTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == to {
		return from == StatusRunning
	}
	return tr > fr
}
