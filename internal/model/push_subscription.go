package model

import "time"

// PushSubscription holds a staff browser push subscription. Staff subscribe
// to hostels and are notified when a bed frees up in one of them.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Hostels []*Hostel `gorm:"many2many:subscription_hostel_mapping;"`
}
