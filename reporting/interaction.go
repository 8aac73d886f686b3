// Package reporting records every chat exchange: interactions are queued on
// Redis by the serving process and written to a SQLite warehouse by a
// consumer.
package reporting

import (
	"time"
)

// Image is the picture shown alongside a response.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Interaction is one prompt and the response shown for it.
type Interaction struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Image     *Image    `json:"image,omitempty"`
}

// monthKey is the partition an interaction belongs to.
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
