package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SummaryRecord is the per-student detail row embedded in a session summary.
type SummaryRecord struct {
	StudentID            string           `json:"student_id"`
	Name                 string           `json:"name"`
	Department           string           `json:"department"`
	Status               AttendanceStatus `json:"status"`
	PresentCount         int              `json:"present_count"`
	TotalScans           int              `json:"total_scans"`
	AttendancePercentage float64          `json:"attendance_percentage"`
}

// SummaryRecordList stores detail rows as a JSONB column.
type SummaryRecordList []SummaryRecord

// Value implements driver.Valuer.
func (l SummaryRecordList) Value() (driver.Value, error) {
	if l == nil {
		l = SummaryRecordList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *SummaryRecordList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported summary record scan type %T", src)
	}
}

// SessionSummary is the immutable post-session rollup, at most one per
// session (unique index on session_id).
type SessionSummary struct {
	ID                  string            `db:"id" json:"id"`
	SessionID           string            `db:"session_id" json:"session_id"`
	CoordinatorID       string            `db:"coordinator_id" json:"coordinator_id"`
	Course              string            `db:"course" json:"course"`
	Date                time.Time         `db:"date" json:"date"`
	StartTime           string            `db:"start_time" json:"start_time"`
	EndTime             string            `db:"end_time" json:"end_time"`
	IntervalMinutes     int               `db:"interval_minutes" json:"interval_minutes"`
	Departments         pq.StringArray    `db:"departments" json:"departments"`
	TotalStudents       int               `db:"total_students" json:"total_students"`
	PresentStudents     int               `db:"present_students" json:"present_students"`
	AbsentStudents      int               `db:"absent_students" json:"absent_students"`
	AttendanceRate      float64           `db:"attendance_rate" json:"attendance_rate"`
	Records             SummaryRecordList `db:"records" json:"records"`
	TotalScansPerformed int               `db:"total_scans_performed" json:"total_scans_performed"`
	SessionEndedAt      time.Time         `db:"session_ended_at" json:"session_ended_at"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
}

// SummaryFilter captures criteria for listing a coordinator's summaries.
type SummaryFilter struct {
	CoordinatorID string
	Department    string
	Course        string
	DateFrom      *time.Time
	DateTo        *time.Time
	Page          int
	PageSize      int
}

// SummaryStats aggregates headline numbers across a coordinator's summaries.
type SummaryStats struct {
	TotalSessions         int     `db:"total_sessions" json:"total_sessions"`
	TotalStudents         int     `db:"total_students" json:"total_students"`
	TotalPresent          int     `db:"total_present" json:"total_present"`
	TotalAbsent           int     `db:"total_absent" json:"total_absent"`
	AverageAttendanceRate float64 `db:"average_attendance_rate" json:"average_attendance_rate"`
	TotalScans            int     `db:"total_scans" json:"total_scans"`
}
