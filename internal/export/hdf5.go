// Package export writes pipeline results to an HDF5 file. Images become
// float64 datasets grouped by stage; dots, residuals, wedge steps and fits
// become compound tables.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	hdf5 "github.com/jmbenlloch/go-hdf5"
	"gonum.org/v1/gonum/mat"

	"nwquant/pkg/blackbody"
	"nwquant/pkg/calibration"
	"nwquant/pkg/front"
	"nwquant/pkg/pipeline"
	"nwquant/pkg/scatter"
)

type DotHDF5 struct {
	label  int32
	row    float64
	col    float64
	area   int32
	mean   float64
	median float64
}

type ResidualHDF5 struct {
	label  int32
	row    float64
	col    float64
	median float64
	mean   float64
	mse    float64
	rmse   float64
}

type StepHDF5 struct {
	thickness float64
	mean      float64
	std       float64
}

type LineHDF5 struct {
	slope            float64
	intercept        float64
	slopeErr         float64
	interceptErr     float64
	residualVariance float64
	rSquared         float64
	throughOrigin    int32
}

type FrontHDF5 struct {
	time     float64
	position int32
	length   float64
}

type WashburnHDF5 struct {
	k                float64
	kVariance        float64
	kStdErr          float64
	residualVariance float64
	start            int32
	end              int32
}

// Writer holds an open result file and the groups created so far.
type Writer struct {
	File   *hdf5.File
	groups map[string]*hdf5.Group
}

// Create truncates or creates the file at path.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("export: creating output directory: %w", err)
	}
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("export: creating %s: %w", path, err)
	}
	return &Writer{File: f, groups: make(map[string]*hdf5.Group)}, nil
}

// Group returns the top-level group name, creating it on first use.
func (w *Writer) Group(name string) (*hdf5.Group, error) {
	if g, ok := w.groups[name]; ok {
		return g, nil
	}
	g, err := w.File.CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("export: group %s: %w", name, err)
	}
	w.groups[name] = g
	return g, nil
}

// WriteImage stores img as a rows x cols float64 dataset.
func (w *Writer) WriteImage(group, name string, img *mat.Dense) error {
	rows, cols := img.Dims()
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		data = append(data, img.RawRowView(r)[:cols]...)
	}
	return w.writeFloats(group, name, []uint{uint(rows), uint(cols)}, data)
}

// WriteVector stores v as a one-dimensional float64 dataset.
func (w *Writer) WriteVector(group, name string, v []float64) error {
	return w.writeFloats(group, name, []uint{uint(len(v))}, v)
}

func (w *Writer) writeFloats(group, name string, dims []uint, data []float64) error {
	g, err := w.Group(group)
	if err != nil {
		return err
	}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("export: dataspace %s/%s: %w", group, name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("export: dataset %s/%s: %w", group, name, err)
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return fmt.Errorf("export: writing %s/%s: %w", group, name, err)
	}
	return nil
}

// WriteTable stores rows as a table whose columns are the fields of T.
// Empty tables are skipped.
func WriteTable[T any](w *Writer, group, name string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	g, err := w.Group(group)
	if err != nil {
		return err
	}
	// The array MUST be allocated at creation, HDF5 reads it in place
	data := make([]T, len(rows))
	copy(data, rows)

	dtype, err := hdf5.NewDatatypeFromValue(data[0])
	if err != nil {
		return fmt.Errorf("export: datatype %s/%s: %w", group, name, err)
	}
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return fmt.Errorf("export: dataspace %s/%s: %w", group, name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("export: dataset %s/%s: %w", group, name, err)
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return fmt.Errorf("export: writing %s/%s: %w", group, name, err)
	}
	return nil
}

// Close closes every group and the file.
func (w *Writer) Close() error {
	for name, g := range w.groups {
		if err := g.Close(); err != nil {
			return fmt.Errorf("export: closing group %s: %w", name, err)
		}
	}
	return w.File.Close()
}

// Write stores every result of res in a new file at path.
func Write(path string, res *pipeline.Results) (err error) {
	w, err := Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	for _, out := range res.Images() {
		if err := w.WriteImage(out.Stage.String(), out.Name, out.Image); err != nil {
			return err
		}
	}

	if err := WriteTable(w, "scatter", "sampleDots", dotRows(res.SampleDots)); err != nil {
		return err
	}
	if err := WriteTable(w, "scatter", "openBeamDots", dotRows(res.OpenBeamDots)); err != nil {
		return err
	}
	if err := WriteTable(w, "scatter", "residuals", residualRows(res.Residuals)); err != nil {
		return err
	}

	if err := WriteTable(w, "calibration", "steps", stepRows(res.Steps)); err != nil {
		return err
	}
	if res.Calibration != nil {
		if err := WriteTable(w, "calibration", "fit", []LineHDF5{lineRow(*res.Calibration)}); err != nil {
			return err
		}
		if err := w.WriteVector("calibration", "residuals", res.Calibration.Residuals); err != nil {
			return err
		}
	}

	if res.Front != nil {
		times := make([]float64, len(res.Frames))
		for i, f := range res.Frames {
			times[i] = f.Time
		}
		if err := WriteTable(w, "front", "positions", frontRows(times, *res.Front)); err != nil {
			return err
		}
		fit := res.Front.Fit
		row := WashburnHDF5{
			k:                fit.K,
			kVariance:        fit.KVariance,
			kStdErr:          fit.KStdErr,
			residualVariance: fit.ResidualVariance,
			start:            int32(res.Front.Start),
			end:              int32(res.Front.End),
		}
		if err := WriteTable(w, "front", "washburn", []WashburnHDF5{row}); err != nil {
			return err
		}
		if len(fit.Residuals) > 0 {
			if err := w.WriteVector("front", "residuals", fit.Residuals); err != nil {
				return err
			}
		}
	}
	return nil
}

func dotRows(dots []blackbody.Dot) []DotHDF5 {
	rows := make([]DotHDF5, len(dots))
	for i, d := range dots {
		rows[i] = DotHDF5{
			label:  int32(d.Label),
			row:    d.Row,
			col:    d.Col,
			area:   int32(d.Area),
			mean:   d.Mean,
			median: d.Median,
		}
	}
	return rows
}

func residualRows(residuals []scatter.Residual) []ResidualHDF5 {
	rows := make([]ResidualHDF5, len(residuals))
	for i, r := range residuals {
		rows[i] = ResidualHDF5{
			label:  int32(r.Label),
			row:    r.Row,
			col:    r.Col,
			median: r.Median,
			mean:   r.Mean,
			mse:    r.MSE,
			rmse:   r.RMSE,
		}
	}
	return rows
}

func stepRows(steps []calibration.Step) []StepHDF5 {
	rows := make([]StepHDF5, len(steps))
	for i, s := range steps {
		rows[i] = StepHDF5{thickness: s.Thickness, mean: s.Mean, std: s.Std}
	}
	return rows
}

func lineRow(l calibration.Line) LineHDF5 {
	row := LineHDF5{
		slope:            l.Slope,
		intercept:        l.Intercept,
		slopeErr:         l.SlopeErr,
		interceptErr:     l.InterceptErr,
		residualVariance: l.ResidualVariance,
		rSquared:         l.RSquared,
	}
	if l.ThroughOrigin {
		row.throughOrigin = 1
	}
	return row
}

func frontRows(times []float64, res front.Result) []FrontHDF5 {
	rows := make([]FrontHDF5, len(res.Positions))
	for i, p := range res.Positions {
		rows[i] = FrontHDF5{position: int32(p), length: res.Lengths[i]}
		if i < len(times) {
			rows[i].time = times[i]
		}
	}
	return rows
}
