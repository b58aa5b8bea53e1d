package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllocationStatus is the lifecycle state of an allocation. ENDED is terminal.
type AllocationStatus string

const (
	AllocationActive AllocationStatus = "ACTIVE"
	AllocationEnded  AllocationStatus = "ENDED"
)

// Allocation binds one student to one room for an interval of residency.
// Rows are closed, never deleted, and keep their room id after the room is gone.
type Allocation struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	StudentID string           `gorm:"size:64;not null;index" json:"studentId"`
	RoomID    string           `gorm:"size:36;not null;index:idx_allocations_room_status,priority:1" json:"roomId"`
	Status    AllocationStatus `gorm:"size:8;not null;index:idx_allocations_room_status,priority:2" json:"status"`
	StartedAt time.Time        `gorm:"not null" json:"startedAt"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (a *Allocation) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether the allocation currently holds a bed.
func (a *Allocation) IsActive() bool {
	return a.Status == AllocationActive
}
