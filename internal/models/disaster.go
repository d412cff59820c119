package models

import (
	"strings"
	"time"
)

type DisasterType string

const (
	DisasterTypeEarthquake DisasterType = "earthquake"
	DisasterTypeCyclone    DisasterType = "cyclone"
	DisasterTypeFlood      DisasterType = "flood"
	DisasterTypeWildfire   DisasterType = "wildfire"
	DisasterTypeLandslide  DisasterType = "landslide"
	DisasterTypeDrought    DisasterType = "drought"
	DisasterTypeOther      DisasterType = "other"
)

// ParseDisasterType maps a stored or user-supplied value back to the enum.
// Anything unrecognised becomes DisasterTypeOther.
func ParseDisasterType(s string) DisasterType {
	switch DisasterType(strings.ToLower(strings.TrimSpace(s))) {
	case DisasterTypeEarthquake:
		return DisasterTypeEarthquake
	case DisasterTypeCyclone:
		return DisasterTypeCyclone
	case DisasterTypeFlood:
		return DisasterTypeFlood
	case DisasterTypeWildfire:
		return DisasterTypeWildfire
	case DisasterTypeLandslide:
		return DisasterTypeLandslide
	case DisasterTypeDrought:
		return DisasterTypeDrought
	default:
		return DisasterTypeOther
	}
}

type Severity string

const (
	SeverityGreen  Severity = "GREEN"
	SeverityOrange Severity = "ORANGE"
	SeverityRed    Severity = "RED"
)

// Rank orders severities GREEN < ORANGE < RED.
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 2
	case SeverityOrange:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of s and o.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// ParseSeverity accepts any casing and defaults to GREEN.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RED":
		return SeverityRed
	case "ORANGE":
		return SeverityOrange
	default:
		return SeverityGreen
	}
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// CanonicalEvent is what every source parser produces.
//
// ExternalID is namespaced by source ("gdacs:", "usgs:", "firms-", ...) and is
// deterministic for a given upstream record, with one exception: free-text
// emails without an "ID:" line get a random id, so callers that need
// idempotent re-ingestion must supply one.
type CanonicalEvent struct {
	ExternalID         string         `json:"external_id"`
	Type               DisasterType   `json:"disaster_type"`
	Severity           Severity       `json:"severity"`
	Title              string         `json:"title"`
	Country            string         `json:"country,omitempty"`
	Coordinates        *Coordinates   `json:"coordinates,omitempty"`
	EventTime          time.Time      `json:"event_timestamp"`
	Description        string         `json:"description,omitempty"`
	AffectedPopulation *int64         `json:"affected_population,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Disaster is a persisted CanonicalEvent.
type Disaster struct {
	ID                 string // surrogate key; equals ExternalID on legacy schemas
	ExternalID         string
	Type               DisasterType
	Severity           Severity
	Title              string
	Country            string
	Coordinates        *Coordinates
	EventTime          time.Time
	Description        string
	AffectedPopulation *int64
	IsActive           bool
	UpdatedAt          time.Time
}

// SameContent reports whether the mutable fields of d already match e.
func (d *Disaster) SameContent(e *CanonicalEvent) bool {
	if d.Type != e.Type || d.Severity != e.Severity || d.Title != e.Title ||
		d.Country != e.Country || d.Description != e.Description || !d.IsActive {
		return false
	}
	if !d.EventTime.Equal(e.EventTime.UTC().Truncate(time.Second)) {
		return false
	}
	if (d.Coordinates == nil) != (e.Coordinates == nil) {
		return false
	}
	if d.Coordinates != nil && *d.Coordinates != *e.Coordinates {
		return false
	}
	if (d.AffectedPopulation == nil) != (e.AffectedPopulation == nil) {
		return false
	}
	return d.AffectedPopulation == nil || *d.AffectedPopulation == *e.AffectedPopulation
}

type HistoryEntry struct {
	DisasterID  string    `json:"disaster_id"`
	Title       string    `json:"title,omitempty"`
	SeverityOld Severity  `json:"severity_old"`
	SeverityNew Severity  `json:"severity_new"`
	Reason      string    `json:"change_reason"`
	ChangedAt   time.Time `json:"changed_at"`
}

type UpsertOutcome struct {
	DisasterID      string
	IsNew           bool
	Changed         bool
	SeverityChanged bool
	PreviousSev     Severity
}

// Int64 is a small helper for optional counts.
func Int64(v int64) *int64 { return &v }
