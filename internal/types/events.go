package types

import "time"

// ChangeKind identifies the kind of mutation carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is the change-feed payload for an intervention mutation. It is
// published by the Rescheduler after a committed move and by the database CDC
// pipeline for edits made elsewhere, and consumed by the live sync listener.
// JSON tags use snake_case to match the CDC connector's output.
//
// SiteID, PreviousDate and NewDate are optional. When they are missing the
// listener cannot tell which planning weeks are affected and invalidates all
// of them.
type ChangeEvent struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	Kind         ChangeKind `json:"kind"`
	SiteID       string     `json:"site_id,omitempty"`
	PreviousDate *Date      `json:"previous_date,omitempty"`
	NewDate      *Date      `json:"new_date,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
	Source       string     `json:"source,omitempty"`
}

// AffectedDates returns the distinct dates the event touches.
func (e ChangeEvent) AffectedDates() []Date {
	var dates []Date
	if e.PreviousDate != nil && !e.PreviousDate.IsZero() {
		dates = append(dates, *e.PreviousDate)
	}
	if e.NewDate != nil && !e.NewDate.IsZero() {
		if len(dates) == 0 || dates[0] != *e.NewDate {
			dates = append(dates, *e.NewDate)
		}
	}
	return dates
}
