// Package scan exposes a scan.Controller over HTTP
package scan

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/nasa-jpl/voltscan/generichttp"
	"github.com/nasa-jpl/voltscan/scan"
	"github.com/nasa-jpl/voltscan/scanrec"
)

// RangeT is a min/max pair for JSON de/serialization
type RangeT struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// HTTPScanController wraps a scan controller in an HTTP route table
type HTTPScanController struct {
	// Ctl is the underlying session controller
	Ctl *scan.Controller

	// Rec, if non-nil and enabled, saves each completed session to disk
	Rec *scanrec.Recorder

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPScanController returns a new HTTP wrapper around an existing
// controller.  rec may be nil to disable auto-saving.
func NewHTTPScanController(ctl *scan.Controller, rec *scanrec.Recorder) HTTPScanController {
	h := HTTPScanController{Ctl: ctl, Rec: rec}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/start"}: h.Start,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/scan/stop"}:  h.Stop,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/state"}:  generichttp.GetString(h.stateString),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/scan/err"}:    generichttp.GetString(h.errString),

		generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}:  generichttp.GetFloat(ctl.CurrentVoltage),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage"}: generichttp.SetFloat(ctl.GotoVoltage),

		generichttp.MethodPath{Method: http.MethodGet, Path: "/scan-range"}:  h.GetScanRange,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/scan-range"}: h.SetScanRange,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/range"}:       h.GetPositionRange,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/clock-frequency"}:  generichttp.GetFloat(noErr(ctl.ClockFrequency)),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/clock-frequency"}: generichttp.SetFloat(ctl.SetClockFrequency),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/scan-speed"}:       generichttp.GetFloat(noErr(ctl.ScanSpeed)),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/scan-speed"}:      generichttp.SetFloat(ctl.SetScanSpeed),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/goto-speed"}:       generichttp.GetFloat(noErr(ctl.GotoSpeed)),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/goto-speed"}:      generichttp.SetFloat(ctl.SetGotoSpeed),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/smoothing-steps"}:  generichttp.GetInt(noErrI(ctl.SmoothingSteps)),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/smoothing-steps"}: generichttp.SetInt(ctl.SetSmoothingSteps),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/repeats"}:          generichttp.GetInt(noErrI(ctl.Repeats)),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/repeats"}:         generichttp.SetInt(ctl.SetRepeats),

		generichttp.MethodPath{Method: http.MethodGet, Path: "/data/csv"}:  h.DataCSV,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/data/fits"}: h.DataFits,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/data/png"}:  h.DataPNG,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPScanController) RT() generichttp.RouteTable {
	return h.RouteTable
}

func noErr(fcn func() float64) func() (float64, error) {
	return func() (float64, error) { return fcn(), nil }
}

func noErrI(fcn func() int) func() (int, error) {
	return func() (int, error) { return fcn(), nil }
}

func (h HTTPScanController) stateString() (string, error) {
	return h.Ctl.State().String(), nil
}

func (h HTTPScanController) errString() (string, error) {
	err := h.Ctl.Err()
	if err == nil {
		return "", nil
	}
	return err.Error(), nil
}

// Start begins a scan session.  The body may carry a {min, max} pair; if it
// is empty the configured scan range is used.
func (h HTTPScanController) Start(w http.ResponseWriter, r *http.Request) {
	rng := RangeT{Min: h.Ctl.ScanRange()[0], Max: h.Ctl.ScanRange()[1]}
	err := json.NewDecoder(r.Body).Decode(&rng)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Ctl.StartScan(rng.Min, rng.Max)
	if err == scan.ErrBusy {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.Rec != nil {
		go h.autosave()
	}
	w.WriteHeader(http.StatusOK)
}

// autosave waits out the running session and records its matrix if the
// recorder is enabled and the session produced data
func (h HTTPScanController) autosave() {
	if err := h.Ctl.Wait(); err != nil {
		return
	}
	if !h.Rec.Enabled {
		return
	}
	m := h.Ctl.Data()
	if m == nil || m.Filled() == 0 {
		return
	}
	if err := h.Rec.Save(m); err != nil {
		log.Println("scan: error auto-saving session:", err)
	}
}

// Stop requests the running session end at the next sweep boundary
func (h HTTPScanController) Stop(w http.ResponseWriter, r *http.Request) {
	h.Ctl.Stop()
	w.WriteHeader(http.StatusOK)
}

// GetScanRange returns the configured sweep bounds as JSON
func (h HTTPScanController) GetScanRange(w http.ResponseWriter, r *http.Request) {
	rng := h.Ctl.ScanRange()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(RangeT{Min: rng[0], Max: rng[1]})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetScanRange updates the configured sweep bounds from a JSON {min, max}
func (h HTTPScanController) SetScanRange(w http.ResponseWriter, r *http.Request) {
	rng := RangeT{}
	err := json.NewDecoder(r.Body).Decode(&rng)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Ctl.SetScanRange(rng.Min, rng.Max)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetPositionRange returns the device's output bounds as JSON
func (h HTTPScanController) GetPositionRange(w http.ResponseWriter, r *http.Request) {
	rng := h.Ctl.PositionRange()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(RangeT{Min: rng[0], Max: rng[1]})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h HTTPScanController) export(w http.ResponseWriter, contentType string, enc func(io.Writer) error) {
	m := h.Ctl.Data()
	if m == nil {
		http.Error(w, scan.ErrNoData.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	err := enc(w)
	if err == scan.ErrNoData {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// DataCSV streams the result matrix as CSV, one record per sweep
func (h HTTPScanController) DataCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, "text/csv", func(wr io.Writer) error {
		return h.Ctl.Data().EncodeCSV(wr)
	})
}

// DataFits streams the result matrix as a float64 FITS image
func (h HTTPScanController) DataFits(w http.ResponseWriter, r *http.Request) {
	h.export(w, "image/fits", func(wr io.Writer) error {
		return h.Ctl.Data().WriteFits(wr)
	})
}

// DataPNG streams the result matrix as a grayscale heatmap
func (h HTTPScanController) DataPNG(w http.ResponseWriter, r *http.Request) {
	h.export(w, "image/png", func(wr io.Writer) error {
		return h.Ctl.Data().EncodePNG(wr)
	})
}
