package database

import "time"

// Message is one stored chat message.
type Message struct {
	ID         int64
	GroupID    string
	Channel    string
	ExternalID string
	Author     string
	Text       string
	IsBot      bool
	CreatedAt  time.Time
	// Classified is set once live intake has run the message through the
	// classifier.
	Classified bool
}

// ContributionRecord is a single classified contribution before it is
// logged. Count is always 1 for records produced by the classifier.
type ContributionRecord struct {
	Username string `json:"username"`
	Text     string `json:"contribution"`
	Count    int    `json:"count"`
}

// Contribution is a logged contribution row.
type Contribution struct {
	ID       int64
	GroupID  string
	Channel  *string
	RunID    *string
	Username string
	Count    int
	Text     string
	LoggedAt *string
}

// SummaryRecord is one persisted summarization pass.
type SummaryRecord struct {
	ID        int64
	GroupID   string
	Timestamp string
	Text      string
	Trigger   string // "scheduled" or "manual"
}

// Contributor aggregates logged contributions per user.
type Contributor struct {
	Username string
	Total    int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Groups           int `json:"groups"`
	Messages         int `json:"messages"`
	Contributions    int `json:"contributions"`
	Contributors     int `json:"contributors"`
	Summaries        int `json:"summaries"`
	BackfilledGroups int `json:"backfilled_groups"`
}

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)
