package models

import "time"

// AttendanceStatus reflects a student's most recent scan pass.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether the status is one of the known values.
func (s AttendanceStatus) Valid() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusAbsent
}

// AttendanceRecord is the single row per (student, session) pair, upserted in
// place across repeated scan passes. PresentCount and TotalScans only grow;
// PresentCount never exceeds TotalScans.
type AttendanceRecord struct {
	ID           string           `db:"id" json:"id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	SessionID    string           `db:"session_id" json:"session_id"`
	Department   string           `db:"department" json:"department"`
	Status       AttendanceStatus `db:"status" json:"status"`
	PresentCount int              `db:"present_count" json:"present_count"`
	TotalScans   int              `db:"total_scans" json:"total_scans"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRow is an attendance record joined with student identity, used by
// scan results and session reports.
type AttendanceRow struct {
	AttendanceRecord
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
}
