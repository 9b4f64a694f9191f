package scan

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/astrogo/fitsio"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

// ErrNoData is generated when an export is requested before any sweep has completed
var ErrNoData = errors.New("scan: no data")

// Matrix is the repeat-indexed result of a scan session.  Row r holds the
// counts measured during sweep r.  SetRow is the only mutation; the column
// count is fixed by the first row written.  Reading is only well defined
// once the session that owns the matrix has returned to idle.
type Matrix struct {
	mu     sync.Mutex
	rows   int
	cols   int
	data   []float64
	filled int
}

// NewMatrix returns a matrix with capacity for rows sweeps.  The column
// count is deferred until the first SetRow call.
func NewMatrix(rows int) *Matrix {
	return &Matrix{rows: rows}
}

// SetRow writes the counts from one completed sweep into row r
func (m *Matrix) SetRow(r int, counts []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r < 0 || r >= m.rows {
		return errors.Errorf("scan: row %d out of range [0,%d)", r, m.rows)
	}
	if m.data == nil {
		m.cols = len(counts)
		m.data = make([]float64, m.rows*m.cols)
	}
	if len(counts) != m.cols {
		return errors.Errorf("scan: row length %d does not match matrix width %d", len(counts), m.cols)
	}
	copy(m.data[r*m.cols:], counts)
	if r+1 > m.filled {
		m.filled = r + 1
	}
	return nil
}

// Rows returns the capacity of the matrix in sweeps
func (m *Matrix) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

// Cols returns the samples per sweep, zero before the first row is written
func (m *Matrix) Cols() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cols
}

// Filled returns the number of populated rows
func (m *Matrix) Filled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filled
}

// Row returns a copy of row r, or nil if it has not been written
func (m *Matrix) Row(r int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r < 0 || r >= m.filled {
		return nil
	}
	out := make([]float64, m.cols)
	copy(out, m.data[r*m.cols:(r+1)*m.cols])
	return out
}

// snapshot copies the populated region under the lock so the encoders can
// work without holding it
func (m *Matrix) snapshot() (int, int, []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, m.filled*m.cols)
	copy(out, m.data[:len(out)])
	return m.filled, m.cols, out
}

// EncodeCSV writes the populated rows to a CSV in streaming fashion,
// one record per sweep
func (m *Matrix) EncodeCSV(w io.Writer) error {
	filled, cols, data := m.snapshot()
	if filled == 0 {
		return ErrNoData
	}
	w2 := bufio.NewWriter(w)
	writer := csv.NewWriter(w2)
	record := make([]string, cols)
	for r := 0; r < filled; r++ {
		for c := 0; c < cols; c++ {
			record[c] = strconv.FormatFloat(data[r*cols+c], 'G', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return w2.Flush()
}

// WriteFits streams the populated rows to w as a single float64 FITS image,
// sweeps along the slow axis
func (m *Matrix) WriteFits(w io.Writer) error {
	filled, cols, data := m.snapshot()
	if filled == 0 {
		return ErrNoData
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{cols, filled})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "NSWEEPS", Value: filled, Comment: "populated sweeps"},
		fitsio.Card{Name: "NSAMPLES", Value: cols, Comment: "samples per sweep"},
	)
	if err != nil {
		return err
	}
	if err := im.Write(data); err != nil {
		return err
	}
	return fits.Write(im)
}

// EncodePNG writes the populated rows to w as a grayscale heatmap PNG,
// one pixel per sample, normalized to the data's own min/max
func (m *Matrix) EncodePNG(w io.Writer) error {
	filled, cols, data := m.snapshot()
	if filled == 0 {
		return ErrNoData
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	c := gg.NewContext(cols, filled)
	for r := 0; r < filled; r++ {
		for col := 0; col < cols; col++ {
			v := (data[r*cols+col] - lo) / span
			c.SetRGB(v, v, v)
			c.SetPixel(col, r)
		}
	}
	return c.EncodePNG(w)
}
