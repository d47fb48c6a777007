package normalize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/imaging"
)

// ScatterInputs gathers the images needed for the black-body corrected
// normalization. All images must share one shape.
type ScatterInputs struct {
	Sample      *mat.Dense
	OpenBeam    *mat.Dense
	DarkCurrent *mat.Dense // optional

	// BBSample and BBOpenBeam are acquired with the black-body grid in the
	// beam, with and without the sample.
	BBSample   *mat.Dense
	BBOpenBeam *mat.Dense

	// ScatterSample and ScatterOpenBeam are the scatter surfaces estimated
	// from the dots of BBSample and BBOpenBeam.
	ScatterSample   *mat.Dense
	ScatterOpenBeam *mat.Dense

	// Tau is the exposure-time ratio of the black-body images to the plain
	// images.
	Tau float64
}

// NormalizeWithScatter computes the projected attenuation after removing the
// scattered-neutron contribution from the sample and the open beam.
//
// With D the dose over opts.DoseROI, S the scatter surfaces and τ = Tau:
//
//	ds = D(I)  / (τ·(D(I_BB)  - (1-1/τ)·D(S_I)))
//	do = D(OB) / (τ·(D(OB_BB) - (1-1/τ)·D(S_OB)))
//	T  = (I - S_I·ds) / (OB - S_OB·do) · do/ds
//
// The dose ROI must lie outside both the sample and the dot grid; this is
// not checked.
func NormalizeWithScatter(in ScatterInputs, opts Options) (*mat.Dense, error) {
	if in.Sample == nil || in.OpenBeam == nil || in.BBSample == nil || in.BBOpenBeam == nil ||
		in.ScatterSample == nil || in.ScatterOpenBeam == nil {
		return nil, fmt.Errorf("normalize: %w: scatter correction needs sample, open beam, black-body images and scatter surfaces", imaging.ErrEmptyImage)
	}
	if err := imaging.CheckShape(in.Sample, in.OpenBeam, in.DarkCurrent, in.BBSample, in.BBOpenBeam,
		in.ScatterSample, in.ScatterOpenBeam); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if opts.DoseROI == nil {
		return nil, fmt.Errorf("normalize: %w: scatter correction requires a dose ROI", imaging.ErrInvalidROI)
	}
	if !(in.Tau > 0) {
		return nil, fmt.Errorf("normalize: %w: tau must be positive, got %g", imaging.ErrInvalidParameter, in.Tau)
	}

	sample := RemoveDark(in.Sample, in.DarkCurrent)
	open := RemoveDark(in.OpenBeam, in.DarkCurrent)
	bbSample := RemoveDark(in.BBSample, in.DarkCurrent)
	bbOpen := RemoveDark(in.BBOpenBeam, in.DarkCurrent)

	ds, err := scatterDose(sample, bbSample, in.ScatterSample, in.Tau, *opts.DoseROI, opts.DoseMode)
	if err != nil {
		return nil, fmt.Errorf("normalize: sample: %w", err)
	}
	do, err := scatterDose(open, bbOpen, in.ScatterOpenBeam, in.Tau, *opts.DoseROI, opts.DoseMode)
	if err != nil {
		return nil, fmt.Errorf("normalize: open beam: %w", err)
	}

	// Remove the scaled scatter from both terms
	var scaled mat.Dense
	scaled.Scale(ds, in.ScatterSample)
	sample.Sub(sample, &scaled)
	imaging.ClampMin(sample, MinIntensity)

	scaled.Scale(do, in.ScatterOpenBeam)
	open.Sub(open, &scaled)
	imaging.ClampMin(open, MinIntensity)

	out := sample
	out.DivElem(sample, open)
	out.Scale(do/ds, out)
	if !opts.Transmission {
		negLog(out)
	}
	return out, nil
}

// scatterDose computes the dose factor that scales a scatter surface to the
// exposure of the image it is subtracted from.
func scatterDose(img, bb, scatter *mat.Dense, tau float64, roi imaging.ROI, mode DoseMode) (float64, error) {
	dImg, err := Dose(img, roi, mode)
	if err != nil {
		return 0, err
	}
	dBB, err := Dose(bb, roi, mode)
	if err != nil {
		return 0, err
	}
	dScatter, err := Dose(scatter, roi, mode)
	if err != nil {
		return 0, err
	}

	den := tau * (dBB - (1-1/tau)*dScatter)
	if den <= 0 {
		return 0, fmt.Errorf("%w: non-positive black-body dose %g", imaging.ErrInvalidParameter, den)
	}
	return dImg / den, nil
}
