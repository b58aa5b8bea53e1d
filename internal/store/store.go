package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/model"
)

// Store defines the residency persistence operations. A Store obtained inside
// Transaction is bound to that transaction.
type Store interface {
	DB() *gorm.DB
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreateHostel(ctx context.Context, hostel *model.Hostel) error
	GetHostel(ctx context.Context, id string) (*model.Hostel, error)
	LockHostel(ctx context.Context, id string) (*model.Hostel, error)
	SaveHostel(ctx context.Context, hostel *model.Hostel) error

	CreateRoom(ctx context.Context, room *model.Room) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	LockRooms(ctx context.Context, ids ...string) (map[string]model.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	CreateStudent(ctx context.Context, student *model.Student) error
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	LockStudent(ctx context.Context, id string) (*model.Student, error)
	SyncRoster(ctx context.Context, now time.Time, students []model.Student, present []string) ([]string, error)

	LockActiveAllocation(ctx context.Context, studentID string) (*model.Allocation, error)
	CreateAllocation(ctx context.Context, allocation *model.Allocation) error
	CloseAllocation(ctx context.Context, allocation *model.Allocation, at time.Time) error
	CountActiveInRoom(ctx context.Context, roomID string) (int64, error)
	CountActiveInHostel(ctx context.Context, hostelID string) (int64, error)
	ListAllocations(ctx context.Context, studentID string) ([]model.Allocation, error)

	Reconcile(ctx context.Context) ([]Violation, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for read-side queries.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a single database transaction. Any error returned by
// fn rolls the whole unit back.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// --- Hostels ---

func (s *gormStore) CreateHostel(ctx context.Context, hostel *model.Hostel) error {
	if err := s.db.WithContext(ctx).Create(hostel).Error; err != nil {
		return translate(err, "create hostel")
	}
	return nil
}

func (s *gormStore) GetHostel(ctx context.Context, id string) (*model.Hostel, error) {
	var hostel model.Hostel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&hostel).Error; err != nil {
		return nil, translate(err, "get hostel "+id)
	}
	return &hostel, nil
}

func (s *gormStore) LockHostel(ctx context.Context, id string) (*model.Hostel, error) {
	var hostel model.Hostel
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&hostel).Error
	if err != nil {
		return nil, translate(err, "lock hostel "+id)
	}
	return &hostel, nil
}

func (s *gormStore) SaveHostel(ctx context.Context, hostel *model.Hostel) error {
	err := s.db.WithContext(ctx).
		Model(hostel).
		Where("id = ?", hostel.ID).
		Updates(map[string]interface{}{
			"name":       hostel.Name,
			"type":       hostel.Type,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return translate(err, "update hostel "+hostel.ID)
	}
	return nil
}

// --- Rooms ---

func (s *gormStore) CreateRoom(ctx context.Context, room *model.Room) error {
	if err := s.db.WithContext(ctx).Omit("Hostel").Create(room).Error; err != nil {
		return translate(err, "create room")
	}
	return nil
}

func (s *gormStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).Preload("Hostel").Where("id = ?", id).First(&room).Error; err != nil {
		return nil, translate(err, "get room "+id)
	}
	return &room, nil
}

// LockRooms takes row locks on the given rooms in ascending id order, so two
// transactions touching the same pair of rooms can never deadlock each other.
// Rooms that do not exist are simply absent from the result.
func (s *gormStore) LockRooms(ctx context.Context, ids ...string) (map[string]model.Room, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	result := make(map[string]model.Room, len(sorted))
	for _, id := range sorted {
		if _, seen := result[id]; seen {
			continue
		}
		var room model.Room
		tx := s.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Find(&room)
		if tx.Error != nil {
			return nil, fmt.Errorf("failed to lock room %s: %w", id, tx.Error)
		}
		if tx.RowsAffected == 0 {
			continue
		}
		// Shared lock so the hostel type cannot change under an allocation.
		var hostel model.Hostel
		err := s.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", room.HostelID).
			First(&hostel).Error
		if err != nil {
			return nil, translate(err, "load hostel of room "+id)
		}
		room.Hostel = hostel
		result[id] = room
	}
	return result, nil
}

func (s *gormStore) DeleteRoom(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Room{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete room %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Students ---

func (s *gormStore) CreateStudent(ctx context.Context, student *model.Student) error {
	if err := s.db.WithContext(ctx).Create(student).Error; err != nil {
		return translate(err, "create student")
	}
	return nil
}

func (s *gormStore) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var student model.Student
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&student).Error; err != nil {
		return nil, translate(err, "get student "+id)
	}
	return &student, nil
}

// LockStudent reads a student with a row lock held until the surrounding
// transaction ends. The row is never replaced, so every operation on one
// student queues behind it.
func (s *gormStore) LockStudent(ctx context.Context, id string) (*model.Student, error) {
	var student model.Student
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&student).Error
	if err != nil {
		return nil, translate(err, "lock student "+id)
	}
	return &student, nil
}

// SyncRoster upserts the published roster and deactivates every previously
// active student whose id is in neither students nor present. present carries
// roster entries that were listed but could not be parsed; they keep their
// stored record. It returns the ids of the deactivated students.
func (s *gormStore) SyncRoster(ctx context.Context, now time.Time, students []model.Student, present []string) ([]string, error) {
	seen := make([]string, 0, len(students)+len(present))
	for i := range students {
		students[i].SyncedAt = now
		seen = append(seen, students[i].ID)
	}
	seen = append(seen, present...)

	var departed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(students) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "gender", "class_name", "admission_date", "active", "synced_at", "updated_at"}),
			}).CreateInBatches(&students, 200).Error; err != nil {
				return fmt.Errorf("batch upsert students failed: %w", err)
			}
		}

		query := tx.Model(&model.Student{}).Where("active = ?", true)
		if len(seen) > 0 {
			query = query.Where("id NOT IN ?", seen)
		}
		if err := query.Pluck("id", &departed).Error; err != nil {
			return fmt.Errorf("failed to find departed students: %w", err)
		}
		if len(departed) == 0 {
			return nil
		}
		return tx.Model(&model.Student{}).
			Where("id IN ?", departed).
			Updates(map[string]interface{}{"active": false, "synced_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return departed, nil
}

// --- Allocations ---

// LockActiveAllocation returns the student's ACTIVE allocation with a row lock
// held until the surrounding transaction ends.
func (s *gormStore) LockActiveAllocation(ctx context.Context, studentID string) (*model.Allocation, error) {
	var allocation model.Allocation
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND status = ?", studentID, model.AllocationActive).
		First(&allocation).Error
	if err != nil {
		return nil, translate(err, "lock active allocation of student "+studentID)
	}
	return &allocation, nil
}

func (s *gormStore) CreateAllocation(ctx context.Context, allocation *model.Allocation) error {
	if err := s.db.WithContext(ctx).Create(allocation).Error; err != nil {
		return translate(err, "create allocation")
	}
	return nil
}

// CloseAllocation ends an ACTIVE allocation. The status predicate makes the
// update conditional, so a concurrent close surfaces as ErrAllocationClosed.
func (s *gormStore) CloseAllocation(ctx context.Context, allocation *model.Allocation, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("id = ? AND status = ?", allocation.ID, model.AllocationActive).
		Updates(map[string]interface{}{
			"status":   model.AllocationEnded,
			"ended_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to close allocation %s: %w", allocation.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAllocationClosed
	}
	allocation.Status = model.AllocationEnded
	allocation.EndedAt = &at
	return nil
}

func (s *gormStore) CountActiveInRoom(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Where("room_id = ? AND status = ?", roomID, model.AllocationActive).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count occupants of room %s: %w", roomID, err)
	}
	return count, nil
}

func (s *gormStore) CountActiveInHostel(ctx context.Context, hostelID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Joins("JOIN rooms ON rooms.id = allocations.room_id").
		Where("rooms.hostel_id = ? AND allocations.status = ?", hostelID, model.AllocationActive).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count occupants of hostel %s: %w", hostelID, err)
	}
	return count, nil
}

// ListAllocations returns every allocation of a student, newest first.
func (s *gormStore) ListAllocations(ctx context.Context, studentID string) ([]model.Allocation, error) {
	var allocations []model.Allocation
	err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("started_at DESC").
		Find(&allocations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations of student %s: %w", studentID, err)
	}
	return allocations, nil
}

// Reconcile recounts invariants 1 and 2 straight from the allocation table.
func (s *gormStore) Reconcile(ctx context.Context) ([]Violation, error) {
	var violations []Violation

	type roomRow struct {
		RoomID   string
		Capacity int64
		Occupied int64
	}
	var rooms []roomRow
	err := s.db.WithContext(ctx).
		Table("rooms").
		Select("rooms.id AS room_id, rooms.capacity AS capacity, COUNT(allocations.id) AS occupied").
		Joins("JOIN allocations ON allocations.room_id = rooms.id AND allocations.status = ?", model.AllocationActive).
		Group("rooms.id, rooms.capacity").
		Having("COUNT(allocations.id) > rooms.capacity").
		Scan(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check room capacity: %w", err)
	}
	for _, r := range rooms {
		violations = append(violations, Violation{Kind: "over_capacity", EntityID: r.RoomID, Count: r.Occupied, Limit: r.Capacity})
	}

	type studentRow struct {
		StudentID string
		Active    int64
	}
	var students []studentRow
	err = s.db.WithContext(ctx).
		Model(&model.Allocation{}).
		Select("student_id, COUNT(*) AS active").
		Where("status = ?", model.AllocationActive).
		Group("student_id").
		Having("COUNT(*) > 1").
		Scan(&students).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check active allocations: %w", err)
	}
	for _, st := range students {
		violations = append(violations, Violation{Kind: "multiple_active", EntityID: st.StudentID, Count: st.Active, Limit: 1})
	}
	return violations, nil
}

// translate maps gorm sentinel errors onto the store's own.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
