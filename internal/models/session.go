package models

import (
	"time"

	"github.com/lib/pq"
)

// SessionStatus is the derived lifecycle state of a session relative to now.
type SessionStatus string

const (
	SessionStatusUpcoming SessionStatus = "upcoming"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusEnded    SessionStatus = "ended"
)

// Session is a declared attendance-taking window for a course. Start and end
// are stored as HH:MM time-of-day strings combined with Date in the
// scheduler's configured zone.
type Session struct {
	ID              string         `db:"id" json:"id"`
	Course          string         `db:"course" json:"course"`
	Date            time.Time      `db:"date" json:"date"`
	StartTime       string         `db:"start_time" json:"start_time"`
	EndTime         string         `db:"end_time" json:"end_time"`
	Departments     pq.StringArray `db:"departments" json:"departments"`
	CoordinatorID   string         `db:"coordinator_id" json:"coordinator_id"`
	IntervalMinutes int            `db:"interval_minutes" json:"interval_minutes"`
	AttendanceRate  float64        `db:"attendance_rate" json:"attendance_rate"`
	// StartAt and EndAt are Date combined with StartTime/EndTime in the
	// scheduler zone, resolved once at write time so recovery queries can
	// compare instants directly.
	StartAt time.Time `db:"start_at" json:"start_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	// Status is derived, never persisted.
	Status SessionStatus `db:"-" json:"status,omitempty"`
}

// SessionFilter captures criteria for listing a coordinator's sessions.
type SessionFilter struct {
	CoordinatorID string
	Course        string
	DateFrom      *time.Time
	DateTo        *time.Time
	Page          int
	PageSize      int
}
