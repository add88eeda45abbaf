// Package report ships per-request poll events to an external collector so
// load runs across many workers can be aggregated.
package report

import "time"

// Event describes one completed request of a polling session.
type Event struct {
	SessionID     string    `json:"session_id"`
	Iteration     int       `json:"iteration"`
	Kind          string    `json:"kind"`
	URL           string    `json:"url"`
	Transport     string    `json:"transport"`
	Status        int       `json:"status"`
	ContentLength int64     `json:"content_length"`
	Renewed       bool      `json:"renewed"`
	DurationMs    int64     `json:"duration_ms"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(*Event) error { return nil }
