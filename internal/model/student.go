package model

import "time"

// Gender as recorded by admissions.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Valid reports whether g is one of the defined genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale:
		return true
	}
	return false
}

// Student mirrors the admissions record. The allocation engine only reads
// ID, Gender and ClassName; the roster sync keeps the table current.
type Student struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Name          string    `gorm:"size:256;not null" json:"name"`
	Gender        Gender    `gorm:"size:8;not null" json:"gender"`
	ClassName     string    `gorm:"size:64" json:"className"`
	AdmissionDate time.Time `gorm:"not null;index" json:"admissionDate"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	SyncedAt      time.Time `json:"syncedAt"`
	CreatedAt     time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"not null" json:"updatedAt"`
}
