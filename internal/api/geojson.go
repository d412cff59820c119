package api

import (
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON emits a null geometry for disasters without coordinates rather
// than dropping them.
func toGeoJSON(disasters []models.Disaster) FeatureCollection {
	features := make([]Feature, 0, len(disasters))

	for _, d := range disasters {
		f := Feature{
			Type: "Feature",
			Properties: map[string]any{
				"id":              d.ExternalID,
				"disaster_type":   d.Type,
				"severity":        d.Severity,
				"title":           d.Title,
				"event_timestamp": d.EventTime,
				"updated_at":      d.UpdatedAt,
			},
		}
		if d.Coordinates != nil {
			f.Geometry = &Geometry{
				Type:        "Point",
				Coordinates: []float64{d.Coordinates.Longitude, d.Coordinates.Latitude},
			}
		}
		if d.Country != "" {
			f.Properties["country"] = d.Country
		}
		if d.Description != "" {
			f.Properties["description"] = d.Description
		}
		if d.AffectedPopulation != nil {
			f.Properties["affected_population"] = *d.AffectedPopulation
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
