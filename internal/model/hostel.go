package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HostelType is the gender segregation class of a hostel.
type HostelType string

const (
	HostelTypeBoys  HostelType = "BOYS"
	HostelTypeGirls HostelType = "GIRLS"
)

// Valid reports whether t is one of the defined hostel types.
func (t HostelType) Valid() bool {
	switch t {
	case HostelTypeBoys, HostelTypeGirls:
		return true
	}
	return false
}

// Hostel represents a residential block.
type Hostel struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Name      string     `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Type      HostelType `gorm:"size:8;not null" json:"type"`
	CreatedAt time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"not null" json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (h *Hostel) BeforeCreate(_ *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}
