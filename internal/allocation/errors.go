package allocation

import (
	"errors"

	"hostel-allocation-backend/internal/eligibility"
)

// Kind groups engine errors by who is at fault and how a caller should react.
type Kind int

const (
	// KindInternal is a store or system failure.
	KindInternal Kind = iota
	// KindValidation is a caller-input fault.
	KindValidation
	// KindNotFound means the caller's view is stale.
	KindNotFound
	// KindConflict is a business rule violation. Safe to retry with different input.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

var (
	ErrInvalidGender  = eligibility.ErrInvalidGender
	ErrNoOpTransfer   = errors.New("student is already in that room")
	ErrInvalidHostel  = errors.New("invalid hostel")
	ErrInvalidRoom    = errors.New("invalid room")
	ErrInvalidStudent = errors.New("invalid student")

	ErrRoomNotFound          = errors.New("room not found")
	ErrHostelNotFound        = errors.New("hostel not found")
	ErrStudentNotFound       = errors.New("student not found")
	ErrNotCurrentlyAllocated = errors.New("student has no active allocation")

	ErrAlreadyAllocated = errors.New("student already has an active allocation")
	ErrGenderMismatch   = errors.New("student is not eligible for this hostel")
	ErrRoomFull         = errors.New("room is full")
	ErrDestinationFull  = errors.New("destination room is full")
	ErrRoomOccupied     = errors.New("room has active residents")
	ErrHostelOccupied   = errors.New("hostel type cannot change while residents are allocated")
	ErrStudentInactive  = errors.New("student is no longer enrolled")
	ErrDuplicateHostel  = errors.New("hostel name already exists")
	ErrDuplicateRoom    = errors.New("room number already exists in hostel")
	ErrDuplicateStudent = errors.New("student already exists")
	ErrBusy             = errors.New("too much concurrent activity, try again")
)

type classification struct {
	err  error
	kind Kind
	code string
}

var classifications = []classification{
	{ErrInvalidGender, KindValidation, "INVALID_GENDER"},
	{ErrNoOpTransfer, KindValidation, "NO_OP_TRANSFER"},
	{ErrInvalidHostel, KindValidation, "INVALID_HOSTEL"},
	{ErrInvalidRoom, KindValidation, "INVALID_ROOM"},
	{ErrInvalidStudent, KindValidation, "INVALID_STUDENT"},

	{ErrRoomNotFound, KindNotFound, "ROOM_NOT_FOUND"},
	{ErrHostelNotFound, KindNotFound, "HOSTEL_NOT_FOUND"},
	{ErrStudentNotFound, KindNotFound, "STUDENT_NOT_FOUND"},
	{ErrNotCurrentlyAllocated, KindNotFound, "NOT_CURRENTLY_ALLOCATED"},

	{ErrAlreadyAllocated, KindConflict, "ALREADY_ALLOCATED"},
	{ErrGenderMismatch, KindConflict, "GENDER_MISMATCH"},
	{ErrRoomFull, KindConflict, "ROOM_FULL"},
	{ErrDestinationFull, KindConflict, "DESTINATION_FULL"},
	{ErrRoomOccupied, KindConflict, "ROOM_OCCUPIED"},
	{ErrHostelOccupied, KindConflict, "HOSTEL_OCCUPIED"},
	{ErrStudentInactive, KindConflict, "STUDENT_INACTIVE"},
	{ErrDuplicateHostel, KindConflict, "DUPLICATE_HOSTEL"},
	{ErrDuplicateRoom, KindConflict, "DUPLICATE_ROOM"},
	{ErrDuplicateStudent, KindConflict, "DUPLICATE_STUDENT"},
	{ErrBusy, KindConflict, "BUSY"},
}

// Classify returns the kind and a stable machine-readable code for err.
func Classify(err error) (Kind, string) {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.kind, c.code
		}
	}
	return KindInternal, "INTERNAL"
}

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	kind, _ := Classify(err)
	return kind
}
