// Package occupancy computes live bed counts from ACTIVE allocation rows.
// Nothing here is stored; every call recounts.
package occupancy

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"hostel-allocation-backend/internal/model"
)

// ErrNotFound is returned when the room or hostel does not exist.
var ErrNotFound = errors.New("not found")

// RoomOccupancy is the derived bed count of a single room.
type RoomOccupancy struct {
	RoomID     string           `gorm:"column:room_id" json:"roomId"`
	HostelID   string           `gorm:"column:hostel_id" json:"hostelId"`
	HostelName string           `gorm:"column:hostel_name" json:"hostelName"`
	HostelType model.HostelType `gorm:"column:hostel_type" json:"hostelType"`
	RoomNumber string           `gorm:"column:room_number" json:"roomNumber"`
	Floor      int              `gorm:"column:floor" json:"floor"`
	Capacity   int64            `gorm:"column:capacity" json:"capacity"`
	Occupied   int64            `gorm:"column:occupied" json:"occupied"`
	Available  int64            `gorm:"-" json:"available"`
}

// HostelKind implements eligibility.Candidate.
func (r RoomOccupancy) HostelKind() model.HostelType {
	return r.HostelType
}

// HostelOccupancy sums the occupancy of every room in a hostel.
type HostelOccupancy struct {
	HostelID      string           `json:"hostelId"`
	Name          string           `json:"name"`
	Type          model.HostelType `json:"type"`
	RoomCount     int              `json:"roomCount"`
	TotalCapacity int64            `json:"totalCapacity"`
	Occupied      int64            `json:"occupied"`
	Available     int64            `json:"available"`
	Rate          float64          `json:"rate"`
}

// Aggregator answers occupancy questions. Built over a transaction handle it
// sees that transaction's view.
type Aggregator struct {
	db *gorm.DB
}

// New creates an Aggregator over db.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// byRoomNumber sorts room numbers naturally when they are plain digits, so
// "9" comes before "10".
const byRoomNumber = "LENGTH(rooms.room_number), rooms.room_number"

func (a *Aggregator) roomQuery(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).
		Table("rooms").
		Select("rooms.id AS room_id, rooms.hostel_id AS hostel_id, hostels.name AS hostel_name, hostels.type AS hostel_type, " +
			"rooms.room_number AS room_number, rooms.floor AS floor, rooms.capacity AS capacity, COUNT(allocations.id) AS occupied").
		Joins("JOIN hostels ON hostels.id = rooms.hostel_id").
		Joins("LEFT JOIN allocations ON allocations.room_id = rooms.id AND allocations.status = ?", model.AllocationActive).
		Group("rooms.id, rooms.hostel_id, hostels.name, hostels.type, rooms.room_number, rooms.floor, rooms.capacity")
}

func finish(rows []RoomOccupancy) []RoomOccupancy {
	for i := range rows {
		rows[i].Available = rows[i].Capacity - rows[i].Occupied
		if rows[i].Available < 0 {
			rows[i].Available = 0
		}
	}
	return rows
}

// Room returns the occupancy of one room.
func (a *Aggregator) Room(ctx context.Context, roomID string) (*RoomOccupancy, error) {
	var rows []RoomOccupancy
	if err := a.roomQuery(ctx).Where("rooms.id = ?", roomID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to compute occupancy of room %s: %w", roomID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return &finish(rows)[0], nil
}

// Rooms returns per-room occupancy of a hostel ordered by room number.
func (a *Aggregator) Rooms(ctx context.Context, hostelID string) ([]RoomOccupancy, error) {
	var rows []RoomOccupancy
	err := a.roomQuery(ctx).
		Where("rooms.hostel_id = ?", hostelID).
		Order(byRoomNumber).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute room occupancy of hostel %s: %w", hostelID, err)
	}
	return finish(rows), nil
}

// AvailableRooms lists rooms with at least one free bed in hostels of the
// given type, ordered by hostel name then room number. An empty type lists
// free rooms of every hostel.
func (a *Aggregator) AvailableRooms(ctx context.Context, hostelType model.HostelType) ([]RoomOccupancy, error) {
	query := a.roomQuery(ctx)
	if hostelType != "" {
		query = query.Where("hostels.type = ?", hostelType)
	}

	var rows []RoomOccupancy
	err := query.
		Having("COUNT(allocations.id) < rooms.capacity").
		Order("hostels.name").
		Order(byRoomNumber).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list available %s rooms: %w", hostelType, err)
	}
	return finish(rows), nil
}

// Hostel returns the summed occupancy of one hostel.
func (a *Aggregator) Hostel(ctx context.Context, hostelID string) (*HostelOccupancy, error) {
	var hostel model.Hostel
	err := a.db.WithContext(ctx).Where("id = ?", hostelID).First(&hostel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("hostel %s: %w", hostelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hostel %s: %w", hostelID, err)
	}

	rooms, err := a.Rooms(ctx, hostelID)
	if err != nil {
		return nil, err
	}
	summary := summarize(hostel, rooms)
	return &summary, nil
}

// Hostels returns the occupancy of every hostel ordered by name.
func (a *Aggregator) Hostels(ctx context.Context) ([]HostelOccupancy, error) {
	var hostels []model.Hostel
	if err := a.db.WithContext(ctx).Order("name").Find(&hostels).Error; err != nil {
		return nil, fmt.Errorf("failed to list hostels: %w", err)
	}

	var rows []RoomOccupancy
	if err := a.roomQuery(ctx).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to compute room occupancy: %w", err)
	}
	byHostel := make(map[string][]RoomOccupancy, len(hostels))
	for _, r := range finish(rows) {
		byHostel[r.HostelID] = append(byHostel[r.HostelID], r)
	}

	out := make([]HostelOccupancy, 0, len(hostels))
	for _, h := range hostels {
		out = append(out, summarize(h, byHostel[h.ID]))
	}
	return out, nil
}

// Residents returns the ACTIVE allocations of a room, oldest first.
func (a *Aggregator) Residents(ctx context.Context, roomID string) ([]model.Allocation, error) {
	var exists int64
	if err := a.db.WithContext(ctx).Model(&model.Room{}).Where("id = ?", roomID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("failed to look up room %s: %w", roomID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	var residents []model.Allocation
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, model.AllocationActive).
		Order("started_at").
		Find(&residents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list residents of room %s: %w", roomID, err)
	}
	return residents, nil
}

func summarize(h model.Hostel, rooms []RoomOccupancy) HostelOccupancy {
	s := HostelOccupancy{
		HostelID:  h.ID,
		Name:      h.Name,
		Type:      h.Type,
		RoomCount: len(rooms),
	}
	for _, r := range rooms {
		s.TotalCapacity += r.Capacity
		s.Occupied += r.Occupied
		s.Available += r.Available
	}
	if s.TotalCapacity > 0 {
		s.Rate = float64(s.Occupied) / float64(s.TotalCapacity)
	}
	return s
}
