package imaging

import "errors"

// Sentinel errors shared by every processing stage. Callers branch on them
// with errors.Is; stages attach context with %w.
var (
	// ErrShapeMismatch is returned when images that must be aligned pixel
	// for pixel have different dimensions.
	ErrShapeMismatch = errors.New("imaging: shape mismatch")

	// ErrInvalidROI is returned for zero-area, inverted or out-of-bounds
	// regions of interest.
	ErrInvalidROI = errors.New("imaging: invalid region of interest")

	// ErrEmptyImage is returned when an image has no pixels.
	ErrEmptyImage = errors.New("imaging: empty image")

	// ErrInsufficientSamples is returned when a surface fit receives too few
	// black-body samples.
	ErrInsufficientSamples = errors.New("imaging: insufficient samples")

	// ErrInsufficientPoints is returned when a line fit receives fewer than
	// two distinct abscissae.
	ErrInsufficientPoints = errors.New("imaging: insufficient points")

	// ErrNoActiveRegion is returned when front tracking finds no rising
	// interval to fit.
	ErrNoActiveRegion = errors.New("imaging: no active region")

	// ErrInvalidParameter is returned for out-of-domain scalar parameters
	// (negative radius, non-positive exposure ratio, non-finite samples).
	ErrInvalidParameter = errors.New("imaging: invalid parameter")
)
