package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"autoquote-backend/internal/pricecache"
	"autoquote-backend/internal/quote"
	"autoquote-backend/internal/vehiclekey"
)

// Outcome is the result of one service within a run.
type Outcome struct {
	ServiceID string          `json:"service_id"`
	Name      string          `json:"name"`
	Success   bool            `json:"success"`
	Price     float64         `json:"price,omitempty"`
	Cached    bool            `json:"cached"`
	Error     string          `json:"error,omitempty"`
	Kind      quote.ErrorKind `json:"error_kind,omitempty"`
	Seconds   float64         `json:"duration_s"`
}

type Report struct {
	Plate      string    `json:"plate"`
	VehicleKey string    `json:"vehicle_key"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Seconds    float64   `json:"duration_s"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`

	Results []Outcome `json:"results"`
}

func (r *Report) tally() {
	r.Seconds = r.FinishedAt.Sub(r.StartedAt).Seconds()
	r.Total = len(r.Results)
	r.Succeeded, r.Failed, r.Cached = 0, 0, 0
	for _, o := range r.Results {
		switch {
		case !o.Success:
			r.Failed++
		case o.Cached:
			r.Succeeded++
			r.Cached++
		default:
			r.Succeeded++
		}
	}
}

// FileName is scraping_results_<plate>_<YYYY-MM-DD>.json, dated by the start
// of the run.
func (r Report) FileName() string {
	plate := vehiclekey.NormalizeToken(r.Plate)
	if plate == "" {
		plate = "UNKNOWN"
	}
	return fmt.Sprintf("scraping_results_%s_%s.json", plate, r.StartedAt.Format(time.DateOnly))
}

func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary renders the report as plain text.
func (r Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plate %s (%s), %s\n", r.Plate, r.VehicleKey, r.StartedAt.Format(time.DateTime))
	fmt.Fprintf(&sb, "%d/%d services priced (%d from cache), %d failed, %.0fs\n\n",
		r.Succeeded, r.Total, r.Cached, r.Failed, r.Seconds)
	for _, o := range r.Results {
		if o.Success {
			fmt.Fprintf(&sb, "  %-40s %10.2f €\n", o.Name, pricecache.RoundCents(o.Price))
			continue
		}
		fmt.Fprintf(&sb, "  %-40s %s\n", o.Name, o.Error)
	}
	return sb.String()
}
