package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room is a bedroom inside exactly one hostel. It references the hostel by id only.
type Room struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	HostelID   string    `gorm:"size:36;not null;uniqueIndex:idx_rooms_hostel_number,priority:1" json:"hostelId"`
	RoomNumber string    `gorm:"size:32;not null;uniqueIndex:idx_rooms_hostel_number,priority:2" json:"roomNumber"`
	Floor      int       `gorm:"not null" json:"floor"`
	Capacity   int       `gorm:"not null;check:chk_rooms_capacity,capacity > 0" json:"capacity"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Hostel Hostel `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (r *Room) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
