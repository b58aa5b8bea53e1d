// Package eligibility maps a student's gender to the single hostel type they
// may live in.
package eligibility

import (
	"errors"
	"fmt"

	"hostel-allocation-backend/internal/model"
)

// ErrInvalidGender is returned for any gender outside the defined set.
var ErrInvalidGender = errors.New("invalid gender")

// EligibleType returns the hostel type compatible with gender.
func EligibleType(gender model.Gender) (model.HostelType, error) {
	switch gender {
	case model.GenderMale:
		return model.HostelTypeBoys, nil
	case model.GenderFemale:
		return model.HostelTypeGirls, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGender, gender)
	}
}

// IsEligible reports whether a student of the given gender may occupy a room
// in a hostel of type hostelType.
func IsEligible(gender model.Gender, hostelType model.HostelType) (bool, error) {
	want, err := EligibleType(gender)
	if err != nil {
		return false, err
	}
	return want == hostelType, nil
}

// Candidate is anything that carries the hostel type of a room.
type Candidate interface {
	HostelKind() model.HostelType
}

// Filter keeps the candidates a student of the given gender may occupy,
// preserving order.
func Filter[T Candidate](gender model.Gender, candidates []T) ([]T, error) {
	want, err := EligibleType(gender)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if c.HostelKind() == want {
			out = append(out, c)
		}
	}
	return out, nil
}
