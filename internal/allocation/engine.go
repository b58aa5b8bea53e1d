// Package allocation is the only writer of allocation state. Every mutating
// call runs as one transaction that locks the rows it depends on, re-checks
// occupancy under those locks and commits or changes nothing.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hostel-allocation-backend/internal/eligibility"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/store"
)

// Recorder receives operation outcomes. *metrics.Collector implements it.
type Recorder interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
	ObserveRetry(operation string)
	ObserveFreedBed()
}

// Notifier is told, after commit, that a bed became free in a hostel.
type Notifier interface {
	BedFreed(hostelID string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveRetry(string)                            {}
func (nopRecorder) ObserveFreedBed()                               {}

type nopNotifier struct{}

func (nopNotifier) BedFreed(string) {}

// Engine executes allocate, transfer, vacate and room/hostel provisioning.
type Engine struct {
	store    store.Store
	log      *zap.Logger
	recorder Recorder
	notifier Notifier
	retry    RetryPolicy
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithNotifier sets the freed-bed notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithClock replaces time.Now for start and end timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		log:      zap.NewNop(),
		recorder: nopRecorder{},
		notifier: nopNotifier{},
		retry:    DefaultRetryPolicy(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate gives studentID a bed in roomID.
func (e *Engine) Allocate(ctx context.Context, studentID, roomID string) (*model.Allocation, error) {
	start := time.Now()
	var created *model.Allocation

	err := e.transact(ctx, "allocate", ErrRoomFull, func(tx store.Store) error {
		student, err := e.eligibleStudent(ctx, tx, studentID)
		if err != nil {
			return err
		}

		if _, err := tx.LockActiveAllocation(ctx, studentID); err == nil {
			return ErrAlreadyAllocated
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		rooms, err := tx.LockRooms(ctx, roomID)
		if err != nil {
			return err
		}
		room, ok := rooms[roomID]
		if !ok {
			return ErrRoomNotFound
		}
		if err := checkEligible(student, room, ErrGenderMismatch); err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, room, ErrRoomFull); err != nil {
			return err
		}

		a := &model.Allocation{
			StudentID: studentID,
			RoomID:    roomID,
			Status:    model.AllocationActive,
			StartedAt: e.now(),
		}
		if err := tx.CreateAllocation(ctx, a); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyAllocated
			}
			return err
		}
		created = a
		return nil
	})

	e.finish("allocate", start, err,
		zap.String("student_id", studentID), zap.String("room_id", roomID))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Transfer moves studentID to newRoomID, ending the current allocation and
// opening a new one in the same transaction.
func (e *Engine) Transfer(ctx context.Context, studentID, newRoomID string) (*model.Allocation, error) {
	start := time.Now()
	var (
		created     *model.Allocation
		freedHostel string
	)

	err := e.transact(ctx, "transfer", ErrDestinationFull, func(tx store.Store) error {
		student, err := e.eligibleStudent(ctx, tx, studentID)
		if err != nil {
			return err
		}

		old, err := tx.LockActiveAllocation(ctx, studentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotCurrentlyAllocated
		}
		if err != nil {
			return err
		}
		if old.RoomID == newRoomID {
			return ErrNoOpTransfer
		}

		rooms, err := tx.LockRooms(ctx, old.RoomID, newRoomID)
		if err != nil {
			return err
		}
		dest, ok := rooms[newRoomID]
		if !ok {
			return ErrRoomNotFound
		}
		if err := checkEligible(student, dest, ErrGenderMismatch); err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, dest, ErrDestinationFull); err != nil {
			return err
		}

		now := e.now()
		if err := tx.CloseAllocation(ctx, old, now); err != nil {
			if errors.Is(err, store.ErrAllocationClosed) {
				return ErrNotCurrentlyAllocated
			}
			return err
		}
		a := &model.Allocation{
			StudentID: studentID,
			RoomID:    newRoomID,
			Status:    model.AllocationActive,
			StartedAt: now,
		}
		if err := tx.CreateAllocation(ctx, a); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyAllocated
			}
			return err
		}
		created = a
		if src, ok := rooms[old.RoomID]; ok {
			freedHostel = src.HostelID
		}
		return nil
	})

	e.finish("transfer", start, err,
		zap.String("student_id", studentID), zap.String("room_id", newRoomID))
	if err != nil {
		return nil, err
	}
	e.bedFreed(freedHostel)
	return created, nil
}

// Vacate ends the student's active allocation. Vacating a student who holds
// no bed succeeds without changing anything.
func (e *Engine) Vacate(ctx context.Context, studentID string) error {
	start := time.Now()
	var freedHostel string

	err := e.transact(ctx, "vacate", ErrBusy, func(tx store.Store) error {
		freedHostel = ""
		if _, err := tx.LockStudent(ctx, studentID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		current, err := tx.LockActiveAllocation(ctx, studentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.CloseAllocation(ctx, current, e.now()); err != nil {
			if errors.Is(err, store.ErrAllocationClosed) {
				return nil
			}
			return err
		}

		room, err := tx.GetRoom(ctx, current.RoomID)
		if err == nil {
			freedHostel = room.HostelID
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})

	e.finish("vacate", start, err, zap.String("student_id", studentID))
	if err != nil {
		return err
	}
	e.bedFreed(freedHostel)
	return nil
}

// DeleteRoom removes an empty room. Occupied rooms are never force-vacated.
func (e *Engine) DeleteRoom(ctx context.Context, roomID string) error {
	start := time.Now()

	err := e.transact(ctx, "delete_room", ErrBusy, func(tx store.Store) error {
		rooms, err := tx.LockRooms(ctx, roomID)
		if err != nil {
			return err
		}
		room, ok := rooms[roomID]
		if !ok {
			return ErrRoomNotFound
		}

		occupied, err := tx.CountActiveInRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		if occupied > 0 {
			return fmt.Errorf("%w: %d residents", ErrRoomOccupied, occupied)
		}

		if err := tx.DeleteRoom(ctx, room.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		return nil
	})

	e.finish("delete_room", start, err, zap.String("room_id", roomID))
	return err
}

// CreateHostel provisions a hostel.
func (e *Engine) CreateHostel(ctx context.Context, name string, hostelType model.HostelType) (*model.Hostel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidHostel)
	}
	if !hostelType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostel, hostelType)
	}

	hostel := &model.Hostel{Name: name, Type: hostelType}
	if err := e.store.CreateHostel(ctx, hostel); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHostel, name)
		}
		return nil, err
	}
	e.log.Info("hostel created", zap.String("hostel_id", hostel.ID), zap.String("name", name))
	return hostel, nil
}

// UpdateHostel renames a hostel and optionally changes its type. The type is
// frozen while any resident holds a bed in it.
func (e *Engine) UpdateHostel(ctx context.Context, hostelID string, name *string, hostelType *model.HostelType) (*model.Hostel, error) {
	if hostelType != nil && !hostelType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostel, *hostelType)
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidHostel)
	}

	start := time.Now()
	var updated *model.Hostel

	err := e.transact(ctx, "update_hostel", ErrBusy, func(tx store.Store) error {
		hostel, err := tx.LockHostel(ctx, hostelID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrHostelNotFound
		}
		if err != nil {
			return err
		}

		if hostelType != nil && *hostelType != hostel.Type {
			occupied, err := tx.CountActiveInHostel(ctx, hostelID)
			if err != nil {
				return err
			}
			if occupied > 0 {
				return ErrHostelOccupied
			}
			hostel.Type = *hostelType
		}
		if name != nil {
			hostel.Name = strings.TrimSpace(*name)
		}

		if err := tx.SaveHostel(ctx, hostel); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateHostel
			}
			return err
		}
		updated = hostel
		return nil
	})

	e.finish("update_hostel", start, err, zap.String("hostel_id", hostelID))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateRoom provisions a room in an existing hostel.
func (e *Engine) CreateRoom(ctx context.Context, hostelID, roomNumber string, floor, capacity int) (*model.Room, error) {
	roomNumber = strings.TrimSpace(roomNumber)
	if roomNumber == "" {
		return nil, fmt.Errorf("%w: room number is required", ErrInvalidRoom)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidRoom, capacity)
	}

	if _, err := e.store.GetHostel(ctx, hostelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHostelNotFound
		}
		return nil, err
	}

	room := &model.Room{HostelID: hostelID, RoomNumber: roomNumber, Floor: floor, Capacity: capacity}
	if err := e.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoom, roomNumber)
		}
		return nil, err
	}
	e.log.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("hostel_id", hostelID),
		zap.String("room_number", roomNumber))
	return room, nil
}

// RegisterStudent records a student as admissions would.
func (e *Engine) RegisterStudent(ctx context.Context, student *model.Student) error {
	student.ID = strings.TrimSpace(student.ID)
	student.Name = strings.TrimSpace(student.Name)
	if student.ID == "" || student.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidStudent)
	}
	if _, err := eligibility.EligibleType(student.Gender); err != nil {
		return err
	}
	if student.AdmissionDate.IsZero() {
		student.AdmissionDate = e.now()
	}
	student.Active = true

	if err := e.store.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrDuplicateStudent, student.ID)
		}
		return err
	}
	return nil
}

// History returns every allocation of a student, newest first.
func (e *Engine) History(ctx context.Context, studentID string) ([]model.Allocation, error) {
	if _, err := e.store.GetStudent(ctx, studentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return e.store.ListAllocations(ctx, studentID)
}

// eligibleStudent locks the student row before anything else. Allocation rows
// are replaced by transfers, so only the student row serializes two
// operations on the same student.
func (e *Engine) eligibleStudent(ctx context.Context, tx store.Store, studentID string) (*model.Student, error) {
	student, err := tx.LockStudent(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, ErrStudentInactive
	}
	if _, err := eligibility.EligibleType(student.Gender); err != nil {
		return nil, err
	}
	return student, nil
}

func checkEligible(student *model.Student, room model.Room, mismatch error) error {
	ok, err := eligibility.IsEligible(student.Gender, room.Hostel.Type)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s student, %s hostel", mismatch, student.Gender, room.Hostel.Type)
	}
	return nil
}

// checkCapacity recounts ACTIVE rows while the room lock is held.
func checkCapacity(ctx context.Context, tx store.Store, room model.Room, full error) error {
	occupied, err := tx.CountActiveInRoom(ctx, room.ID)
	if err != nil {
		return err
	}
	if occupied >= int64(room.Capacity) {
		return full
	}
	return nil
}

func (e *Engine) bedFreed(hostelID string) {
	if hostelID == "" {
		return
	}
	e.recorder.ObserveFreedBed()
	e.notifier.BedFreed(hostelID)
}

func (e *Engine) finish(op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	result := "ok"
	if err != nil {
		kind, code := Classify(err)
		result = strings.ToLower(code)
		fields = append(fields, zap.Error(err))
		if kind == KindInternal {
			e.log.Error(op+" failed", fields...)
		} else {
			e.log.Info(op+" rejected", fields...)
		}
	} else {
		e.log.Info(op+" committed", fields...)
	}
	e.recorder.ObserveOperation(op, result, elapsed)
}
