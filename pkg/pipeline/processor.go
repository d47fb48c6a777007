// Package pipeline runs the water-quantification stages over a set of
// radiographs.
//
// The processing consists of several steps:
// 1. Loading the reference images and the optional time series
// 2. Dose-corrected normalization of the sample and every frame
// 3. Black-body dot detection
// 4. Scatter-surface estimation from the dot samples
// 5. Scatter-corrected normalization of the sample
// 6. Step-wedge calibration of the attenuation coefficient
// 7. Conversion of attenuation to water thickness
// 8. Front tracking and Washburn fit on a space-time slice
//
// Steps 3 to 8 run only when their parameter section is set.
package pipeline

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"nwquant/internal/logger"
	"nwquant/internal/models"
	"nwquant/pkg/blackbody"
	"nwquant/pkg/calibration"
	"nwquant/pkg/front"
	"nwquant/pkg/imaging"
	"nwquant/pkg/matching"
	"nwquant/pkg/normalize"
	"nwquant/pkg/scatter"
	"nwquant/pkg/stack"
)

// Results collects everything the stages produce. Fields of stages that did
// not run are nil.
type Results struct {
	// Attenuation is the projected attenuation of the sample, scatter
	// corrected when the black-body stages ran.
	Attenuation *mat.Dense

	// Uncorrected is the plain normalization kept when scatter correction
	// replaced Attenuation.
	Uncorrected *mat.Dense

	// Black-body dots sampled on the sample and open-beam BB images
	SampleDots   []blackbody.Dot
	OpenBeamDots []blackbody.Dot
	DotMask      *mat.Dense
	DotLabels    *mat.Dense
	Correlation  *mat.Dense

	ScatterSample   *mat.Dense
	ScatterOpenBeam *mat.Dense
	Residuals       []scatter.Residual

	WedgeAttenuation *mat.Dense
	Steps            []calibration.Step
	Calibration      *calibration.Line
	Thickness        *mat.Dense

	Frames    []models.Frame
	SpaceTime *mat.Dense
	Front     *front.Result
}

// Images lists the result images that were produced.
func (r *Results) Images() []models.Output {
	candidates := []models.Output{
		{Name: "attenuation", Stage: models.Normalization, Image: r.Attenuation},
		{Name: "attenuation_uncorrected", Stage: models.Normalization, Image: r.Uncorrected},
		{Name: "dot_mask", Stage: models.Scatter, Image: r.DotMask},
		{Name: "dot_labels", Stage: models.Scatter, Image: r.DotLabels},
		{Name: "correlation", Stage: models.Scatter, Image: r.Correlation},
		{Name: "scatter_sample", Stage: models.Scatter, Image: r.ScatterSample},
		{Name: "scatter_openbeam", Stage: models.Scatter, Image: r.ScatterOpenBeam},
		{Name: "wedge_attenuation", Stage: models.Calibration, Image: r.WedgeAttenuation},
		{Name: "water_thickness", Stage: models.Calibration, Image: r.Thickness},
		{Name: "space_time", Stage: models.Tracking, Image: r.SpaceTime},
	}
	var out []models.Output
	for _, c := range candidates {
		if c.Image != nil {
			out = append(out, c)
		}
	}
	return out
}

// Processor runs the pipeline for one parameter set.
type Processor struct {
	// params stores the processing configuration
	params *Params

	loader Loader
	log    logger.Logger

	// Reference images with raw counts
	openBeam *mat.Dense
	dark     *mat.Dense
	sample   *mat.Dense

	// Black-body images with raw counts
	bbSample   *mat.Dense
	bbOpenBeam *mat.Dense

	// series holds the normalized frames
	series *stack.Series

	rows, cols int
	results    *Results
}

// NewProcessor creates a processor. A nil loader reads TIFF files and a nil
// log discards all records.
func NewProcessor(params *Params, loader Loader, log logger.Logger) *Processor {
	if loader == nil {
		loader = FileLoader{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{params: params, loader: loader, log: log}
}

type stage struct {
	name    string
	enabled bool
	run     func() error
}

// Process runs every enabled stage in order. On failure the error names the
// stage and the results gathered so far are returned with it.
func (p *Processor) Process() (*Results, error) {
	p.results = &Results{}
	bb := p.params.BlackBody != nil

	stages := []stage{
		{"load", true, p.loadReferences},
		{"normalize", true, p.normalize},
		{"blackbody", bb, p.detectDots},
		{"scatter", bb, p.estimateScatter},
		{"correct", bb && len(p.params.Sample) > 0, p.correctScatter},
		{"wedge", p.params.Wedge != nil, p.calibrate},
		{"thickness", p.params.Wedge != nil && len(p.params.Sample) > 0, p.waterThickness},
		{"front", p.params.Front != nil, p.trackFront},
	}

	for _, s := range stages {
		if !s.enabled {
			p.log.Debug("pipeline", "stage skipped", map[string]interface{}{"stage": s.name})
			continue
		}
		start := time.Now()
		p.log.Info("pipeline", "stage started", map[string]interface{}{"stage": s.name})
		if err := s.run(); err != nil {
			p.log.Error("pipeline", err, map[string]interface{}{"stage": s.name})
			return p.results, fmt.Errorf("%s: %w", s.name, err)
		}
		p.log.Info("pipeline", "stage finished", map[string]interface{}{
			"stage":   s.name,
			"elapsed": time.Since(start).String(),
		})
	}
	return p.results, nil
}

// loadReferences loads the open beam, dark current, sample and series.
func (p *Processor) loadReferences() error {
	var err error
	if p.openBeam, err = p.loader.LoadAverage(p.params.OpenBeam); err != nil {
		return fmt.Errorf("open beam: %w", err)
	}
	p.rows, p.cols = p.openBeam.Dims()

	if len(p.params.DarkCurrent) > 0 {
		if p.dark, err = p.loader.LoadAverage(p.params.DarkCurrent); err != nil {
			return fmt.Errorf("dark current: %w", err)
		}
	}
	if len(p.params.Sample) > 0 {
		if p.sample, err = p.loader.LoadAverage(p.params.Sample); err != nil {
			return fmt.Errorf("sample: %w", err)
		}
	}
	if err := imaging.CheckShape(p.openBeam, p.dark, p.sample); err != nil {
		return err
	}

	if p.params.Series != "" {
		images, names, err := p.loader.LoadSeries(p.params.Series)
		if err != nil {
			return fmt.Errorf("series: %w", err)
		}
		p.results.Frames = models.NewFrames(images, names, p.params.FrameInterval, 0)
	}

	p.log.Debug("load", "references loaded", map[string]interface{}{
		"rows":   p.rows,
		"cols":   p.cols,
		"dark":   p.dark != nil,
		"sample": p.sample != nil,
		"frames": len(p.results.Frames),
	})
	return nil
}

// normalize computes the plain attenuation of the sample and of every frame.
func (p *Processor) normalize() error {
	opts := p.params.Normalization
	if p.sample != nil {
		att, err := normalize.Normalize(p.sample, p.openBeam, p.dark, opts)
		if err != nil {
			return err
		}
		p.results.Attenuation = att
	}

	if len(p.results.Frames) > 0 {
		raw, err := stack.NewSeries(models.Images(p.results.Frames), models.Times(p.results.Frames))
		if err != nil {
			return err
		}
		if p.series, err = raw.Normalize(p.openBeam, p.dark, opts, p.params.NumCores); err != nil {
			return err
		}
	}
	return nil
}

// detectDots finds the black-body grid on the open-beam transmission and
// samples both black-body images at the dots.
func (p *Processor) detectDots() error {
	bb := p.params.BlackBody
	var err error
	if p.bbSample, err = p.loader.LoadAverage(bb.Sample); err != nil {
		return fmt.Errorf("black-body sample: %w", err)
	}
	if p.bbOpenBeam, err = p.loader.LoadAverage(bb.OpenBeam); err != nil {
		return fmt.Errorf("black-body open beam: %w", err)
	}
	if err := imaging.CheckShape(p.openBeam, p.bbSample, p.bbOpenBeam); err != nil {
		return err
	}

	// The dots are opaque, so they stand out in the transmission of the
	// black-body open beam
	trans := normalize.RemoveDark(p.bbOpenBeam, p.dark)
	trans.DivElem(trans, normalize.RemoveDark(p.openBeam, p.dark))

	var comps []blackbody.Component
	switch bb.Detection {
	case TemplateDetection:
		tmpl, err := matching.Template(trans, bb.TemplateROI, bb.MedianRadius)
		if err != nil {
			return err
		}
		det, err := matching.FindDots(trans, tmpl, matching.Options{
			Threshold: bb.MatchThreshold,
			Radius:    bb.Radius,
		})
		if err != nil {
			return err
		}
		comps = det.Components
		p.results.Correlation = det.Correlation
	default:
		mask := mat.NewDense(p.rows, p.cols, nil)
		mask.Apply(func(r, c int, _ float64) float64 {
			if trans.At(r, c) < bb.Threshold {
				return 1
			}
			return 0
		}, mask)
		comps = blackbody.FilterByArea(blackbody.Components(mask), bb.MinArea, bb.MaxArea)
	}

	if p.results.SampleDots, err = blackbody.SampleDots(comps, normalize.RemoveDark(p.bbSample, p.dark), bb.Radius); err != nil {
		return err
	}
	if p.results.OpenBeamDots, err = blackbody.SampleDots(comps, normalize.RemoveDark(p.bbOpenBeam, p.dark), bb.Radius); err != nil {
		return err
	}
	p.results.DotMask = blackbody.DiskMask(p.rows, p.cols, p.results.OpenBeamDots, bb.Radius)
	p.results.DotLabels = blackbody.LabelImage(p.rows, p.cols, comps)

	p.log.Info("blackbody", "dots located", map[string]interface{}{
		"dots":      len(comps),
		"detection": bb.Detection.String(),
	})
	return nil
}

// estimator builds the configured scatter estimator for the dark-subtracted
// black-body image img.
func (p *Processor) estimator(img *mat.Dense) scatter.Estimator {
	bb := p.params.BlackBody
	if bb.Method == "kriging" {
		return scatter.KrigingEstimator{
			Statistic: bb.Statistic,
			Step:      bb.KrigingStep,
			Workers:   p.params.NumCores,
			Progress: func(completed, total int, message string) {
				p.log.Debug("scatter", message, map[string]interface{}{
					"completed": completed,
					"total":     total,
				})
			},
		}
	}
	if bb.FitPixels {
		return scatter.PolynomialEstimator{Pixels: img, Radius: bb.Radius}
	}
	return scatter.PolynomialEstimator{Statistic: bb.Statistic}
}

// estimateScatter fits the scatter surfaces and checks the open-beam fit
// against the dots.
func (p *Processor) estimateScatter() error {
	bbSample := normalize.RemoveDark(p.bbSample, p.dark)
	bbOpenBeam := normalize.RemoveDark(p.bbOpenBeam, p.dark)

	var err error
	if p.results.ScatterSample, err = p.estimator(bbSample).Estimate(p.results.SampleDots, p.rows, p.cols); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if p.results.ScatterOpenBeam, err = p.estimator(bbOpenBeam).Estimate(p.results.OpenBeamDots, p.rows, p.cols); err != nil {
		return fmt.Errorf("open beam: %w", err)
	}

	residuals, err := scatter.Residuals(bbOpenBeam, p.results.ScatterOpenBeam, p.results.DotMask, 1, 0)
	if err != nil {
		return err
	}
	p.results.Residuals = residuals

	worst := 0.0
	for _, r := range residuals {
		worst = max(worst, r.RMSE)
	}
	p.log.Info("scatter", "surfaces estimated", map[string]interface{}{
		"method":    p.params.BlackBody.Method,
		"fitPixels": p.params.BlackBody.FitPixels,
		"maxRMSE":   worst,
		"dots":      len(residuals),
	})
	return nil
}

// correctScatter replaces the sample attenuation with the scatter-corrected
// one.
func (p *Processor) correctScatter() error {
	att, err := normalize.NormalizeWithScatter(normalize.ScatterInputs{
		Sample:          p.sample,
		OpenBeam:        p.openBeam,
		DarkCurrent:     p.dark,
		BBSample:        p.bbSample,
		BBOpenBeam:      p.bbOpenBeam,
		ScatterSample:   p.results.ScatterSample,
		ScatterOpenBeam: p.results.ScatterOpenBeam,
		Tau:             p.params.BlackBody.Tau,
	}, p.params.Normalization)
	if err != nil {
		return err
	}
	p.results.Uncorrected = p.results.Attenuation
	p.results.Attenuation = att
	return nil
}

// calibrate normalizes the wedge image and fits attenuation against the
// step thicknesses.
func (p *Processor) calibrate() error {
	w := p.params.Wedge
	img, err := p.loader.LoadAverage(w.Image)
	if err != nil {
		return fmt.Errorf("wedge image: %w", err)
	}
	att, err := normalize.Normalize(img, p.openBeam, p.dark, p.params.Normalization)
	if err != nil {
		return err
	}
	p.results.WedgeAttenuation = att

	steps := make([]calibration.Step, 0, len(w.Steps))
	for i, s := range w.Steps {
		step, err := calibration.MeasureStep(att, s.ROI, s.Thickness, w.Axis)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	p.results.Steps = steps

	line, err := calibration.FitAttenuation(steps, w.ThroughOrigin)
	if err != nil {
		return err
	}
	p.results.Calibration = &line

	p.log.Info("wedge", "attenuation coefficient fitted", map[string]interface{}{
		"mu":        line.Slope,
		"muErr":     line.SlopeErr,
		"intercept": line.Intercept,
		"r2":        line.RSquared,
	})
	return nil
}

// waterThickness converts the sample attenuation with the calibration line.
func (p *Processor) waterThickness() error {
	thickness, err := calibration.WaterThickness(p.results.Attenuation, *p.results.Calibration)
	if err != nil {
		return err
	}
	p.results.Thickness = thickness
	return nil
}

// trackFront builds the space-time slice of the normalized series and fits
// Washburn's equation to the front positions.
func (p *Processor) trackFront() error {
	if p.series == nil {
		return fmt.Errorf("%w: front tracking needs a time series", imaging.ErrEmptyImage)
	}
	f := p.params.Front
	st, err := p.series.SpaceTimeSlice(f.Profile, f.BandStart, f.BandEnd)
	if err != nil {
		return err
	}
	p.results.SpaceTime = st

	res, err := f.Tracker.Track(st, p.series.Times())
	if err != nil {
		return err
	}
	p.results.Front = &res

	p.log.Info("front", "washburn fit", map[string]interface{}{
		"k":      res.Fit.K,
		"kErr":   res.Fit.KStdErr,
		"start":  res.Start,
		"end":    res.End,
		"frames": len(res.Positions),
	})
	return nil
}
