package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/db/dbtest"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/occupancy"
	"hostel-allocation-backend/internal/pending"
	"hostel-allocation-backend/internal/store"
)

type recordingNotifier struct {
	mu      sync.Mutex
	hostels []string
}

func (n *recordingNotifier) BedFreed(hostelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hostels = append(n.hostels, hostelID)
}

func (n *recordingNotifier) freed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.hostels...)
}

type countingRecorder struct {
	mu       sync.Mutex
	retries  int
	outcomes map[string]int
}

func (r *countingRecorder) ObserveOperation(op, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[op+"/"+result]++
}

func (r *countingRecorder) ObserveRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) ObserveFreedBed() {}

type harness struct {
	db       *gorm.DB
	store    store.Store
	engine   *Engine
	agg      *occupancy.Aggregator
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return harnessOn(dbtest.New(t), opts...)
}

// newSharedHarness runs the engine over several connections to one database
// file, so goroutines race inside sqlite rather than on the pool.
func newSharedHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return harnessOn(dbtest.NewShared(t), opts...)
}

func harnessOn(gormDB *gorm.DB, opts ...Option) *harness {
	st := store.NewGormStore(gormDB)
	n := &recordingNotifier{}
	opts = append([]Option{WithNotifier(n)}, opts...)
	return &harness{
		db:       gormDB,
		store:    st,
		engine:   NewEngine(st, opts...),
		agg:      occupancy.New(gormDB),
		notifier: n,
	}
}

func (h *harness) hostel(t *testing.T, name string, hostelType model.HostelType) *model.Hostel {
	t.Helper()
	hostel, err := h.engine.CreateHostel(context.Background(), name, hostelType)
	require.NoError(t, err)
	return hostel
}

func (h *harness) room(t *testing.T, hostel *model.Hostel, number string, capacity int) *model.Room {
	t.Helper()
	room, err := h.engine.CreateRoom(context.Background(), hostel.ID, number, 1, capacity)
	require.NoError(t, err)
	return room
}

func (h *harness) student(t *testing.T, id string, gender model.Gender) {
	t.Helper()
	require.NoError(t, h.engine.RegisterStudent(context.Background(), &model.Student{
		ID:            id,
		Name:          "Student " + id,
		Gender:        gender,
		ClassName:     "10A",
		AdmissionDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func (h *harness) available(t *testing.T, roomID string) int64 {
	t.Helper()
	occ, err := h.agg.Room(context.Background(), roomID)
	require.NoError(t, err)
	return occ.Available
}

func (h *harness) activeCount(t *testing.T, studentID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&model.Allocation{}).
		Where("student_id = ? AND status = ?", studentID, model.AllocationActive).
		Count(&n).Error)
	return n
}

func TestEngine_AllocateUntilFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	blockA := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, blockA, "101", 2)
	for _, id := range []string{"s1", "s2", "s3"} {
		h.student(t, id, model.GenderMale)
	}

	a1, err := h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllocationActive, a1.Status)
	assert.Nil(t, a1.EndedAt)

	_, err = h.engine.Allocate(ctx, "s2", r.ID)
	require.NoError(t, err)

	occ, err := h.agg.Room(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, occ.Capacity)
	assert.EqualValues(t, 2, occ.Occupied)
	assert.EqualValues(t, 0, occ.Available)

	_, err = h.engine.Allocate(ctx, "s3", r.ID)
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Zero(t, h.activeCount(t, "s3"))
}

func TestEngine_AllocateGenderMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 2)
	h.student(t, "f1", model.GenderFemale)

	_, err := h.engine.Allocate(ctx, "f1", r.ID)
	assert.ErrorIs(t, err, ErrGenderMismatch)

	var rows int64
	require.NoError(t, h.db.Model(&model.Allocation{}).Count(&rows).Error)
	assert.Zero(t, rows, "no allocation row may be created")
}

func TestEngine_AllocatePreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r1 := h.room(t, boys, "101", 2)
	r2 := h.room(t, boys, "102", 2)
	h.student(t, "s1", model.GenderMale)

	_, err := h.engine.Allocate(ctx, "s1", "missing-room")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.engine.Allocate(ctx, "nobody", r1.ID)
	assert.ErrorIs(t, err, ErrStudentNotFound)

	_, err = h.engine.Allocate(ctx, "s1", r1.ID)
	require.NoError(t, err)

	_, err = h.engine.Allocate(ctx, "s1", r2.ID)
	assert.ErrorIs(t, err, ErrAlreadyAllocated)
	assert.Equal(t, int64(1), h.activeCount(t, "s1"))
}

func TestEngine_AllocateInactiveStudent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 2)
	h.student(t, "s1", model.GenderMale)
	require.NoError(t, h.db.Model(&model.Student{}).Where("id = ?", "s1").Update("active", false).Error)

	_, err := h.engine.Allocate(ctx, "s1", r.ID)
	assert.ErrorIs(t, err, ErrStudentInactive)
}

func TestEngine_Transfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r1 := h.room(t, boys, "101", 1)
	r2 := h.room(t, boys, "102", 1)
	h.student(t, "s1", model.GenderMale)

	old, err := h.engine.Allocate(ctx, "s1", r1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.available(t, r1.ID))
	assert.EqualValues(t, 1, h.available(t, r2.ID))

	moved, err := h.engine.Transfer(ctx, "s1", r2.ID)
	require.NoError(t, err)
	assert.Equal(t, r2.ID, moved.RoomID)
	assert.NotEqual(t, old.ID, moved.ID)

	assert.EqualValues(t, 1, h.available(t, r1.ID))
	assert.EqualValues(t, 0, h.available(t, r2.ID))
	assert.EqualValues(t, 1, h.activeCount(t, "s1"))

	history, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	var ended model.Allocation
	for _, a := range history {
		if a.ID == old.ID {
			ended = a
		}
	}
	assert.Equal(t, model.AllocationEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	assert.Equal(t, []string{boys.ID}, h.notifier.freed())
}

func TestEngine_TransferRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	girls := h.hostel(t, "Rose", model.HostelTypeGirls)
	r1 := h.room(t, boys, "101", 2)
	full := h.room(t, boys, "102", 1)
	g1 := h.room(t, girls, "201", 2)
	h.student(t, "s1", model.GenderMale)
	h.student(t, "s2", model.GenderMale)
	h.student(t, "s3", model.GenderMale)

	_, err := h.engine.Transfer(ctx, "s1", r1.ID)
	assert.ErrorIs(t, err, ErrNotCurrentlyAllocated)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = h.engine.Allocate(ctx, "s1", r1.ID)
	require.NoError(t, err)
	_, err = h.engine.Allocate(ctx, "s2", full.ID)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		roomID string
		want   error
		kind   Kind
	}{
		{name: "same room is rejected", roomID: r1.ID, want: ErrNoOpTransfer, kind: KindValidation},
		{name: "destination full", roomID: full.ID, want: ErrDestinationFull, kind: KindConflict},
		{name: "wrong hostel type", roomID: g1.ID, want: ErrGenderMismatch, kind: KindConflict},
		{name: "missing destination", roomID: "missing", want: ErrRoomNotFound, kind: KindNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Transfer(ctx, "s1", tc.roomID)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.kind, KindOf(err))

			residents, err := h.agg.Residents(ctx, r1.ID)
			require.NoError(t, err)
			require.Len(t, residents, 1, "a rejected transfer changes nothing")
			assert.Equal(t, "s1", residents[0].StudentID)
		})
	}
	assert.Empty(t, h.notifier.freed())
}

func TestEngine_VacateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 1)
	h.student(t, "s1", model.GenderMale)

	require.NoError(t, h.engine.Vacate(ctx, "s1"), "vacating a student with no bed is a no-op")

	_, err := h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.Vacate(ctx, "s1"))
	require.NoError(t, h.engine.Vacate(ctx, "s1"))
	assert.Zero(t, h.activeCount(t, "s1"))
	assert.EqualValues(t, 1, h.available(t, r.ID))
	assert.Equal(t, []string{boys.ID}, h.notifier.freed(), "only the real vacate frees a bed")

	// A returning resident gets a new row; ENDED rows are never reopened.
	again, err := h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)
	history, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, again.ID, history[0].ID)
}

func TestEngine_DeleteRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 2)
	h.student(t, "s1", model.GenderMale)

	_, err := h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)

	err = h.engine.DeleteRoom(ctx, r.ID)
	assert.ErrorIs(t, err, ErrRoomOccupied)
	assert.Equal(t, KindConflict, KindOf(err))

	require.NoError(t, h.engine.Vacate(ctx, "s1"))
	require.NoError(t, h.engine.DeleteRoom(ctx, r.ID))

	_, err = h.agg.Room(ctx, r.ID)
	assert.ErrorIs(t, err, occupancy.ErrNotFound)

	history, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 1, "history survives the room")

	assert.ErrorIs(t, h.engine.DeleteRoom(ctx, r.ID), ErrRoomNotFound)
}

func TestEngine_PendingReflectsVacate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 2)
	h.student(t, "s1", model.GenderMale)
	h.student(t, "s2", model.GenderMale)
	queue := pending.New(h.db)

	_, err := h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)

	students, err := queue.Students(ctx, pending.Filter{})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "s2", students[0].ID)

	require.NoError(t, h.engine.Vacate(ctx, "s1"))
	students, err = queue.Students(ctx, pending.Filter{})
	require.NoError(t, err)
	assert.Len(t, students, 2)
}

func TestEngine_UpdateHostel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	blockA := h.hostel(t, "Block A", model.HostelTypeBoys)
	h.hostel(t, "Block B", model.HostelTypeBoys)
	r := h.room(t, blockA, "101", 2)
	h.student(t, "s1", model.GenderMale)

	girls := model.HostelTypeGirls
	renamed := "Block A North"

	updated, err := h.engine.UpdateHostel(ctx, blockA.ID, &renamed, nil)
	require.NoError(t, err)
	assert.Equal(t, renamed, updated.Name)

	taken := "Block B"
	_, err = h.engine.UpdateHostel(ctx, blockA.ID, &taken, nil)
	assert.ErrorIs(t, err, ErrDuplicateHostel)

	_, err = h.engine.Allocate(ctx, "s1", r.ID)
	require.NoError(t, err)

	_, err = h.engine.UpdateHostel(ctx, blockA.ID, nil, &girls)
	assert.ErrorIs(t, err, ErrHostelOccupied)

	require.NoError(t, h.engine.Vacate(ctx, "s1"))
	updated, err = h.engine.UpdateHostel(ctx, blockA.ID, nil, &girls)
	require.NoError(t, err)
	assert.Equal(t, model.HostelTypeGirls, updated.Type)

	bad := model.HostelType("COED")
	_, err = h.engine.UpdateHostel(ctx, blockA.ID, nil, &bad)
	assert.ErrorIs(t, err, ErrInvalidHostel)

	_, err = h.engine.UpdateHostel(ctx, "missing", &renamed, nil)
	assert.ErrorIs(t, err, ErrHostelNotFound)
}

func TestEngine_Provisioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.CreateHostel(ctx, "Block A", "COED")
	assert.ErrorIs(t, err, ErrInvalidHostel)
	assert.Equal(t, KindValidation, KindOf(err))

	blockA := h.hostel(t, "Block A", model.HostelTypeBoys)
	_, err = h.engine.CreateHostel(ctx, "Block A", model.HostelTypeGirls)
	assert.ErrorIs(t, err, ErrDuplicateHostel)

	_, err = h.engine.CreateRoom(ctx, blockA.ID, "101", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRoom)
	_, err = h.engine.CreateRoom(ctx, "missing", "101", 1, 2)
	assert.ErrorIs(t, err, ErrHostelNotFound)
	h.room(t, blockA, "101", 2)
	_, err = h.engine.CreateRoom(ctx, blockA.ID, "101", 1, 2)
	assert.ErrorIs(t, err, ErrDuplicateRoom)

	err = h.engine.RegisterStudent(ctx, &model.Student{ID: "x", Name: "X", Gender: "OTHER"})
	assert.ErrorIs(t, err, ErrInvalidGender)
	assert.Equal(t, KindValidation, KindOf(err))
	h.student(t, "s1", model.GenderMale)
	err = h.engine.RegisterStudent(ctx, &model.Student{ID: "s1", Name: "Again", Gender: model.GenderMale})
	assert.ErrorIs(t, err, ErrDuplicateStudent)
}

func TestEngine_ConcurrentAllocateForLastBed(t *testing.T) {
	h := newSharedHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 2)
	h.student(t, "s0", model.GenderMale)
	_, err := h.engine.Allocate(ctx, "s0", r.ID)
	require.NoError(t, err)

	const contenders = 10
	for i := 0; i < contenders; i++ {
		h.student(t, fmt.Sprintf("c%d", i), model.GenderMale)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.engine.Allocate(ctx, fmt.Sprintf("c%d", i), r.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRoomFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, contenders-1, full)

	occ, err := h.agg.Room(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, occ.Occupied)
}

func TestEngine_ConcurrentStressKeepsInvariants(t *testing.T) {
	h := newSharedHarness(t)
	ctx := context.Background()
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	girls := h.hostel(t, "Rose", model.HostelTypeGirls)
	rooms := []*model.Room{
		h.room(t, boys, "101", 2),
		h.room(t, boys, "102", 1),
		h.room(t, boys, "103", 3),
		h.room(t, girls, "201", 2),
	}

	var students []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("m%d", i)
		h.student(t, id, model.GenderMale)
		students = append(students, id)
	}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("f%d", i)
		h.student(t, id, model.GenderFemale)
		students = append(students, id)
	}

	var wg sync.WaitGroup
	for w, id := range students {
		wg.Add(1)
		go func(w int, id string) {
			defer wg.Done()
			for step := 0; step < 12; step++ {
				room := rooms[(w+step)%len(rooms)]
				var err error
				switch step % 3 {
				case 0:
					_, err = h.engine.Allocate(ctx, id, room.ID)
				case 1:
					_, err = h.engine.Transfer(ctx, id, room.ID)
				case 2:
					if w%2 == 0 {
						err = h.engine.Vacate(ctx, id)
					}
				}
				if err != nil && KindOf(err) == KindInternal {
					t.Errorf("student %s step %d: %v", id, step, err)
				}
			}
		}(w, id)
	}
	wg.Wait()

	violations, err := h.store.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	var mismatched int64
	require.NoError(t, h.db.Table("allocations").
		Joins("JOIN rooms ON rooms.id = allocations.room_id").
		Joins("JOIN hostels ON hostels.id = rooms.hostel_id").
		Joins("JOIN students ON students.id = allocations.student_id").
		Where("allocations.status = ?", model.AllocationActive).
		Where("(students.gender = ? AND hostels.type <> ?) OR (students.gender = ? AND hostels.type <> ?)",
			model.GenderMale, model.HostelTypeBoys, model.GenderFemale, model.HostelTypeGirls).
		Count(&mismatched).Error)
	assert.Zero(t, mismatched, "no active allocation crosses the gender line")

	var badEnded int64
	require.NoError(t, h.db.Model(&model.Allocation{}).
		Where("(status = ? AND ended_at IS NOT NULL) OR (status = ? AND ended_at IS NULL)",
			model.AllocationActive, model.AllocationEnded).
		Count(&badEnded).Error)
	assert.Zero(t, badEnded)
}

// flakyStore fails the first few transactions with a retryable error.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
	failWith error
}

func (f *flakyStore) Transaction(ctx context.Context, fn func(tx store.Store) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return f.failWith
	}
	return f.Store.Transaction(ctx, fn)
}

func TestEngine_RetriesTransientConflicts(t *testing.T) {
	base := newHarness(t)
	boys := base.hostel(t, "Block A", model.HostelTypeBoys)
	r := base.room(t, boys, "101", 1)
	base.student(t, "s1", model.GenderMale)

	flaky := &flakyStore{Store: base.store, failures: 2, failWith: serializationFailure()}
	rec := &countingRecorder{}
	engine := NewEngine(flaky,
		WithRecorder(rec),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}))

	a, err := engine.Allocate(context.Background(), "s1", r.ID)
	require.NoError(t, err, "a conflict that clears within the attempt budget is invisible")
	assert.Equal(t, r.ID, a.RoomID)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, 1, rec.outcomes["allocate/ok"])
}

func TestEngine_RetriesExhausted(t *testing.T) {
	base := newHarness(t)
	boys := base.hostel(t, "Block A", model.HostelTypeBoys)
	r := base.room(t, boys, "101", 1)
	base.student(t, "s1", model.GenderMale)

	flaky := &flakyStore{Store: base.store, failures: 10, failWith: serializationFailure()}
	engine := NewEngine(flaky,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))

	_, err := engine.Allocate(context.Background(), "s1", r.ID)
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 3, flaky.calls)

	_, err = engine.Transfer(context.Background(), "s1", r.ID)
	assert.ErrorIs(t, err, ErrDestinationFull)
}

func TestEngine_NonRetryableFailureIsInternal(t *testing.T) {
	base := newHarness(t)
	flaky := &flakyStore{Store: base.store, failures: 1, failWith: errors.New("connection refused")}
	engine := NewEngine(flaky)

	err := engine.Vacate(context.Background(), "s1")
	assert.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, 1, flaky.calls)
}

func TestEngine_CancelledContextAborts(t *testing.T) {
	h := newHarness(t)
	boys := h.hostel(t, "Block A", model.HostelTypeBoys)
	r := h.room(t, boys, "101", 1)
	h.student(t, "s1", model.GenderMale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.engine.Allocate(ctx, "s1", r.ID)
	assert.Error(t, err)
	assert.Zero(t, h.activeCount(t, "s1"))
}
