package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// FIRMS parses NASA FIRMS active-fire CSV exports (MODIS or VIIRS).
type FIRMS struct{}

func (FIRMS) Name() string { return models.FeedNASAFIRMS }

// ErrFIRMSHeader is returned when the CSV header lacks coordinate columns.
var ErrFIRMSHeader = errors.New("firms csv: missing latitude/longitude columns")

type bbox struct {
	iso                            string
	minLat, maxLat, minLng, maxLng float64
}

// Checked in order; the first match wins where boxes overlap.
var firmsCountryBoxes = []bbox{
	{"US", 24.5, 49.5, -125, -66.9},
	{"CA", 41.7, 83.1, -141, -52.6},
	{"MX", 14.5, 32.7, -118.4, -86.7},
	{"AU", -43.7, -10.7, 113.3, 153.6},
	{"BR", -33.8, 5.3, -73.99, -34.8},
	{"RU", 41.2, 81.9, 27.3, 180},
	{"CN", 18.2, 53.6, 73.5, 134.8},
	{"IN", 6.7, 35.5, 68.1, 97.4},
}

func (FIRMS) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("error reading firms header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["latitude"]; !ok {
		return nil, ErrFIRMSHeader
	}
	if _, ok := cols["longitude"]; !ok {
		return nil, ErrFIRMSHeader
	}

	var events []models.CanonicalEvent
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skip(models.FeedNASAFIRMS, "unreadable row", "line", line, "error", err)
			continue
		}
		row := firmsRow{rec: rec, cols: cols}
		if e, ok := row.event(); ok {
			events = append(events, e)
		} else {
			skip(models.FeedNASAFIRMS, "bad coordinates or acquisition time", "line", line)
		}
	}
	return events, nil
}

type firmsRow struct {
	rec  []string
	cols map[string]int
}

func (r firmsRow) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r firmsRow) float(name string) float64 {
	f, err := strconv.ParseFloat(r.get(name), 64)
	if err != nil || !finite(f) {
		return 0
	}
	return f
}

func (r firmsRow) event() (models.CanonicalEvent, bool) {
	lat, err1 := strconv.ParseFloat(r.get("latitude"), 64)
	lng, err2 := strconv.ParseFloat(r.get("longitude"), 64)
	if err1 != nil || err2 != nil || !finite(lat) || !finite(lng) {
		return models.CanonicalEvent{}, false
	}
	date := r.get("acq_date")
	hhmm := r.get("acq_time")
	if len(hhmm) < 4 {
		hhmm = strings.Repeat("0", 4-len(hhmm)) + hhmm
	}
	ts, err := time.ParseInLocation("2006-01-02 1504", date+" "+hhmm, time.UTC)
	if err != nil {
		return models.CanonicalEvent{}, false
	}

	confidence := classify.FIRMSConfidence(r.get("confidence"))
	frp := r.float("frp")
	brightness := r.float("brightness")
	if brightness == 0 {
		brightness = r.float("bright_ti4")
	}
	instrument := firstNonEmpty(r.get("instrument"), "VIIRS")

	return models.CanonicalEvent{
		ExternalID:  fmt.Sprintf("firms-%.4f-%.4f-%s-%s", truncate4(lat), truncate4(lng), date, hhmm),
		Type:        models.DisasterTypeWildfire,
		Severity:    classify.FIRMSSeverity(confidence, frp),
		Title:       fmt.Sprintf("Active fire detection (%s) at %.3f, %.3f", instrument, lat, lng),
		Country:     firmsCountry(lat, lng),
		Coordinates: &models.Coordinates{Latitude: lat, Longitude: lng},
		EventTime:   ts,
		Metadata: map[string]any{
			"confidence": confidence,
			"frp":        frp,
			"brightness": brightness,
			"satellite":  r.get("satellite"),
			"instrument": instrument,
		},
	}, true
}

// truncate4 drops digits past the fourth decimal, nudged so binary
// representation error does not flip the last kept digit.
func truncate4(v float64) float64 {
	return math.Trunc(v*1e4+math.Copysign(1e-6, v)) / 1e4
}

func firmsCountry(lat, lng float64) string {
	for _, b := range firmsCountryBoxes {
		if lat >= b.minLat && lat <= b.maxLat && lng >= b.minLng && lng <= b.maxLng {
			return b.iso
		}
	}
	return ""
}
