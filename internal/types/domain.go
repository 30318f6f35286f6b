package types

import "time"

// TaskStatus represents the lifecycle state of an intervention.
type TaskStatus string

const (
	TaskStatusScheduled  TaskStatus = "scheduled"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusScheduled, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// InterventionType classifies the kind of maintenance work.
type InterventionType string

const (
	InterventionPreventive InterventionType = "preventive"
	InterventionCorrective InterventionType = "corrective"
	InterventionEmergency  InterventionType = "emergency"
	InterventionInspection InterventionType = "inspection"
	InterventionRepair     InterventionType = "repair"
)

// Task is a scheduled maintenance, inspection or repair activity (an
// "intervention") tied to a boat and a site.
//
// ScheduledDate is always a concrete date once the task exists. It is changed
// only through the scheduling.Rescheduler, never by writing the field directly,
// so that the compare-and-swap guard and cache invalidation always run.
type Task struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	ScheduledDate    Date             `json:"scheduled_date"`
	Status           TaskStatus       `json:"status"`
	InterventionType InterventionType `json:"intervention_type"`
	SiteID           string           `json:"site_id"`
	TechnicianID     *string          `json:"technician_id,omitempty"`
	BoatID           *string          `json:"boat_id,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// WeatherObservation is a recorded weather fact for a site and date. It is
// immutable once recorded and owned by the weather provider, not the engine.
//
// WindSpeed and Precipitation are optional; a rule that references an absent
// field never fires.
type WeatherObservation struct {
	SiteID         string    `json:"site_id"`
	Date           Date      `json:"date"`
	Condition      string    `json:"condition"`
	TemperatureMin float64   `json:"temperature_min"`
	TemperatureMax float64   `json:"temperature_max"`
	WindSpeed      *float64  `json:"wind_speed,omitempty"`
	Precipitation  *float64  `json:"precipitation,omitempty"`
	RecordedAt     time.Time `json:"recorded_at,omitempty"`
}

// Float64Ptr is a convenience for populating optional observation fields.
func Float64Ptr(v float64) *float64 { return &v }

// StringPtr is a convenience for populating optional task fields.
func StringPtr(v string) *string { return &v }

// IntPtr is a convenience for populating optional integer fields.
func IntPtr(v int) *int { return &v }
