package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// NHC parses the National Hurricane Center CurrentStorms.json document. Each
// active storm yields a canonical event and a cyclone advisory row.
type NHC struct{}

func (NHC) Name() string { return models.FeedCyclones }

// AdvisoryParser is implemented by parsers that also produce cyclone
// advisories alongside canonical events.
type AdvisoryParser interface {
	ParseAdvisories(raw []byte) ([]models.CycloneAdvisory, error)
}

type nhcDocument struct {
	ActiveStorms []nhcStorm `json:"activeStorms"`
}

type nhcStorm struct {
	ID               string          `json:"id"`
	BinNumber        string          `json:"binNumber"`
	Name             string          `json:"name"`
	Classification   string          `json:"classification"`
	Intensity        flexFloat       `json:"intensity"`
	Pressure         flexFloat       `json:"pressure"`
	LatitudeNumeric  flexFloat       `json:"latitudeNumeric"`
	LongitudeNumeric flexFloat       `json:"longitudeNumeric"`
	MovementDir      flexFloat       `json:"movementDir"`
	MovementSpeed    flexFloat       `json:"movementSpeed"`
	LastUpdate       string          `json:"lastUpdate"`
	ForecastTrack    json.RawMessage `json:"forecastTrack"`
}

// flexFloat accepts 75, 75.0, "75" and "" (zero).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexFloat %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

var nhcClassifications = map[string]string{
	"HU":  "Hurricane",
	"TS":  "Tropical Storm",
	"TD":  "Tropical Depression",
	"STS": "Subtropical Storm",
	"SD":  "Subtropical Depression",
	"PTC": "Potential Tropical Cyclone",
	"PC":  "Post-Tropical Cyclone",
	"TY":  "Typhoon",
}

func decodeNHC(raw []byte) ([]nhcStorm, error) {
	var doc nhcDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error decoding nhc storms: %w", err)
	}
	return doc.ActiveStorms, nil
}

func (NHC) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	storms, err := decodeNHC(raw)
	if err != nil {
		return nil, err
	}

	events := make([]models.CanonicalEvent, 0, len(storms))
	for _, s := range storms {
		if s.ID == "" {
			skip(models.FeedCyclones, "storm without id", "name", s.Name)
			continue
		}
		adv := s.advisory()
		label := firstNonEmpty(nhcClassifications[strings.ToUpper(s.Classification)], "Tropical Cyclone")
		e := models.CanonicalEvent{
			ExternalID: "nhc:" + strings.ToLower(s.ID),
			Type:       models.DisasterTypeCyclone,
			Severity:   classify.CycloneCategorySeverity(adv.Category),
			Title:      strings.TrimSpace(label + " " + s.Name),
			EventTime:  adv.AdvisoryTime,
			Description: fmt.Sprintf("%s %s, max wind %.0f kt, min pressure %.0f mb",
				label, s.Name, adv.MaxWindKt, adv.MinPressureMb),
			Metadata: map[string]any{
				"basin":     adv.Basin,
				"category":  adv.Category,
				"wind_kt":   adv.MaxWindKt,
				"pressure":  adv.MinPressureMb,
				"direction": adv.MovementDir,
			},
		}
		if s.LatitudeNumeric != 0 || s.LongitudeNumeric != 0 {
			e.Coordinates = &models.Coordinates{Latitude: adv.Latitude, Longitude: adv.Longitude}
		}
		events = append(events, e)
	}
	return events, nil
}

func (NHC) ParseAdvisories(raw []byte) ([]models.CycloneAdvisory, error) {
	storms, err := decodeNHC(raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.CycloneAdvisory, 0, len(storms))
	for _, s := range storms {
		if s.ID != "" {
			out = append(out, s.advisory())
		}
	}
	return out, nil
}

func (s nhcStorm) advisory() models.CycloneAdvisory {
	ts, err := time.Parse(time.RFC3339, s.LastUpdate)
	if err != nil {
		ts = clock.Now()
	}
	forecast := "{}"
	if len(bytes.TrimSpace(s.ForecastTrack)) > 0 {
		forecast = string(s.ForecastTrack)
	}
	return models.CycloneAdvisory{
		ExternalID:      "nhc:" + strings.ToLower(s.ID),
		Name:            s.Name,
		Basin:           nhcBasin(s.BinNumber),
		Category:        classify.SaffirSimpson(float64(s.Intensity)),
		Latitude:        float64(s.LatitudeNumeric),
		Longitude:       float64(s.LongitudeNumeric),
		MaxWindKt:       float64(s.Intensity),
		MinPressureMb:   float64(s.Pressure),
		MovementDir:     float64(s.MovementDir),
		MovementSpeedKt: float64(s.MovementSpeed),
		AdvisoryTime:    ts.UTC().Truncate(time.Second),
		ForecastJSON:    forecast,
	}
}

func nhcBasin(bin string) string {
	bin = strings.ToUpper(bin)
	switch {
	case strings.HasPrefix(bin, "AT"):
		return "AT"
	case strings.HasPrefix(bin, "EP"):
		return "EP"
	case strings.HasPrefix(bin, "CP"):
		return "CP"
	default:
		return ""
	}
}
