package models

import "time"

// Student is a registered learner. MACAddress is stored as entered; lookups
// normalize it before comparing against observed sets.
type Student struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	Department string    `db:"department" json:"department"`
	MACAddress string    `db:"mac_address" json:"mac_address"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	Department string
	Search     string
	Page       int
	PageSize   int
}
