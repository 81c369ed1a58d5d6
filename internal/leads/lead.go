// Package leads defines the persisted lead entity produced from accepted
// pipeline candidates, plus the sink that stores them.
package leads

import "time"

// Status tracks the review lifecycle of a lead.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// Activity buckets how recently a site changed, derived from its
// Last-Modified response header.
type Activity string

const (
	ActivityActive  Activity = "Active" // modified within 30 days
	ActivityNormal  Activity = "Normal" // modified within 180 days
	ActivityOld     Activity = "Old"
	ActivityUnknown Activity = "Unknown"
)

const (
	activeWindow = 30 * 24 * time.Hour
	normalWindow = 180 * 24 * time.Hour
)

// Lead is one reviewable discovery. Exactly one lead ever exists per URL;
// the store enforces that with a unique index.
type Lead struct {
	ID           string     `json:"id"`
	Keyword      string     `json:"keyword"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Domain       string     `json:"domain"`
	Snippet      string     `json:"snippet,omitempty"`
	Email        string     `json:"email,omitempty"`
	Score        float64    `json:"score"`
	Rank         string     `json:"rank"`
	Activity     Activity   `json:"activity"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ActivityFor maps a last-modified instant onto an activity bucket.
// A zero instant means the header could not be resolved.
func ActivityFor(lastModified, now time.Time) Activity {
	if lastModified.IsZero() {
		return ActivityUnknown
	}
	age := now.Sub(lastModified)
	switch {
	case age <= activeWindow:
		return ActivityActive
	case age <= normalWindow:
		return ActivityNormal
	default:
		return ActivityOld
	}
}

// RankFor labels a relevance score.
func RankFor(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
