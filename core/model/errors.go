package model

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle change is not allowed
	// from the current state. The stored state is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyAssigned is returned to the losers of an accept race.
	ErrAlreadyAssigned = errors.New("demande already assigned")
	// ErrAlreadyResolved is returned when a cancel or accept lands after the
	// demande left en_attente through the other path.
	ErrAlreadyResolved = errors.New("demande already resolved")
	ErrNotFound        = errors.New("not found")
	// ErrNotEligible is returned when a technician cannot take a demande.
	ErrNotEligible        = errors.New("technician not eligible")
	ErrForbidden          = errors.New("actor not allowed")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrValidation         = errors.New("validation failed")
	// ErrVersionConflict is returned by stores when a compare-and-swap lost.
	ErrVersionConflict = errors.New("version conflict")
)

// IsContention reports whether err is an expected, benign race outcome.
func IsContention(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned) || errors.Is(err, ErrAlreadyResolved)
}
