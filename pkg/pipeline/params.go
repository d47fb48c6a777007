package pipeline

import (
	"fmt"

	"nwquant/pkg/calibration"
	"nwquant/pkg/config"
	"nwquant/pkg/front"
	"nwquant/pkg/imaging"
	"nwquant/pkg/normalize"
	"nwquant/pkg/scatter"
	"nwquant/pkg/stack"
)

// Detection selects how black-body dots are found.
type Detection int

const (
	// ThresholdDetection marks pixels whose open-beam transmission falls
	// below a fixed level.
	ThresholdDetection Detection = iota
	// TemplateDetection correlates the transmission with a dot template.
	TemplateDetection
)

func (d Detection) String() string {
	if d == TemplateDetection {
		return "template"
	}
	return "threshold"
}

// Params holds the processing parameters. Optional stages are disabled by a
// nil section.
type Params struct {
	// Sample, OpenBeam and DarkCurrent list the files averaged into each
	// reference image. Sample and DarkCurrent may be empty.
	Sample      []string
	OpenBeam    []string
	DarkCurrent []string

	// Series is the glob pattern of a time series; empty for none.
	Series string

	// FrameInterval is the time between consecutive series frames.
	FrameInterval float64

	// NumCores bounds the goroutines of the parallel stages.
	NumCores int

	// Normalization holds the dose ROI and dose estimator.
	Normalization normalize.Options

	BlackBody *BlackBodyParams
	Wedge     *WedgeParams
	Front     *FrontParams
}

// BlackBodyParams configures dot detection and scatter estimation.
type BlackBodyParams struct {
	Sample   []string
	OpenBeam []string
	Tau      float64

	Detection Detection

	// Threshold detection
	Threshold float64
	MinArea   int
	MaxArea   int

	// Template detection
	TemplateROI    imaging.ROI
	MedianRadius   int
	MatchThreshold float64

	Radius      float64
	Statistic   scatter.Statistic
	Method      string
	KrigingStep int
	FitPixels   bool
}

// WedgeStep is one step-wedge region with its known water thickness.
type WedgeStep struct {
	ROI       imaging.ROI
	Thickness float64
}

// WedgeParams configures the attenuation-coefficient calibration.
type WedgeParams struct {
	Image         []string
	Steps         []WedgeStep
	Axis          calibration.Axis
	ThroughOrigin bool
}

// FrontParams configures front tracking over the series.
type FrontParams struct {
	Profile stack.Profile

	// BandStart and BandEnd bound the averaged band across the profile.
	BandStart, BandEnd int

	Tracker front.Tracker
}

// ParamsFromConfig validates cfg and converts it to processing parameters.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	doseMode, _ := normalize.ParseDoseMode(cfg.Processing.DoseMode)
	params := &Params{
		Sample:        cfg.Input.Sample,
		OpenBeam:      cfg.Input.OpenBeam,
		DarkCurrent:   cfg.Input.DarkCurrent,
		Series:        cfg.Input.Series,
		FrameInterval: cfg.Input.FrameInterval,
		NumCores:      cfg.Processing.NumCores,
		Normalization: normalize.Options{DoseMode: doseMode},
	}
	if len(cfg.Processing.DoseROI) == 4 {
		roi := roiFrom(cfg.Processing.DoseROI)
		params.Normalization.DoseROI = &roi
	}

	if bb := cfg.BlackBody; bb.Enabled {
		statistic, _ := scatter.ParseStatistic(bb.Statistic)
		p := &BlackBodyParams{
			Sample:         bb.Sample,
			OpenBeam:       bb.OpenBeam,
			Tau:            bb.Tau,
			Threshold:      bb.Threshold,
			MinArea:        bb.MinArea,
			MaxArea:        bb.MaxArea,
			MedianRadius:   bb.MedianRadius,
			MatchThreshold: bb.MatchThreshold,
			Radius:         bb.Radius,
			Statistic:      statistic,
			Method:         bb.Method,
			KrigingStep:    bb.KrigingStep,
			FitPixels:      bb.FitPixels,
		}
		if bb.Detection == "template" {
			p.Detection = TemplateDetection
			p.TemplateROI = roiFrom(bb.TemplateROI)
		}
		params.BlackBody = p
	}

	if w := cfg.Wedge; w.Enabled {
		axis, _ := calibration.ParseAxis(w.Axis)
		p := &WedgeParams{
			Image:         w.Image,
			Axis:          axis,
			ThroughOrigin: w.ThroughOrigin,
		}
		for _, s := range w.Steps {
			p.Steps = append(p.Steps, WedgeStep{ROI: roiFrom(s.ROI), Thickness: s.Thickness})
		}
		params.Wedge = p
	}

	if f := cfg.Front; f.Enabled {
		profile, _ := stack.ParseProfile(f.Profile)
		direction, _ := front.ParseDirection(f.Direction)
		origin, _ := front.ParseOrigin(f.Origin)
		params.Front = &FrontParams{
			Profile:   profile,
			BandStart: f.Band[0],
			BandEnd:   f.Band[1],
			Tracker: front.Tracker{
				Threshold:  f.Threshold,
				Direction:  direction,
				Origin:     origin,
				PixelSize:  f.PixelSize,
				TimeOffset: f.TimeOffset,
			},
		}
	}

	return params, nil
}

func roiFrom(v []int) imaging.ROI {
	return imaging.NewROI([4]int{v[0], v[1], v[2], v[3]})
}
