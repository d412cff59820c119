package models

import "time"

type FeedStatus string

const (
	FeedStatusOK       FeedStatus = "OK"
	FeedStatusDegraded FeedStatus = "DEGRADED"
	FeedStatusFailing  FeedStatus = "FAILING"
)

type FeedHealth struct {
	FeedName            string     `json:"feed_name"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           *time.Time `json:"last_error,omitempty"`
	ErrorCount          int64      `json:"error_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AvgLatencyMs        *float64   `json:"avg_latency_ms,omitempty"`
	Status              FeedStatus `json:"status"`
	Notes               string     `json:"notes,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type WildfireCluster struct {
	ClusterKey      string      `json:"cluster_key"`
	Centroid        Coordinates `json:"centroid"`
	Detections6h    int         `json:"detections_6h"`
	Detections24h   int         `json:"detections_24h"`
	GrowthRate      float64     `json:"growth_rate"`
	AreaEstimateKm2 float64     `json:"area_estimate_km2"`
	IntensityScore  float64     `json:"intensity_score"`
	FirstDetected   time.Time   `json:"first_detected"`
	LastDetected    time.Time   `json:"last_detected"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type CycloneAdvisory struct {
	ExternalID      string    `json:"external_id"`
	Name            string    `json:"name"`
	Basin           string    `json:"basin"`
	Category        int       `json:"category"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	MaxWindKt       float64   `json:"max_wind_kt"`
	MinPressureMb   float64   `json:"min_pressure_mb"`
	MovementDir     float64   `json:"movement_dir"`
	MovementSpeedKt float64   `json:"movement_speed_kt"`
	AdvisoryTime    time.Time `json:"advisory_time"`
	ForecastJSON    string    `json:"forecast_json"`
}

type ProcessingStatus string

const (
	ProcessingSuccess  ProcessingStatus = "SUCCESS"
	ProcessingPartial  ProcessingStatus = "PARTIAL"
	ProcessingError    ProcessingStatus = "ERROR"
	ProcessingRejected ProcessingStatus = "REJECTED"
)

type ProcessingLog struct {
	EmailDate          time.Time
	DisastersProcessed int
	NewDisasters       int
	UpdatedDisasters   int
	Status             ProcessingStatus
	ProcessingTimeMs   int64
	EmailSizeBytes     int
}

type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult summarises one ingestion invocation.
type BatchResult struct {
	Processed int         `json:"processed"`
	New       int         `json:"newDisasters"`
	Updated   int         `json:"updatedDisasters"`
	Errors    []ItemError `json:"-"`
}

func (r *BatchResult) Status() ProcessingStatus {
	switch {
	case len(r.Errors) == 0:
		return ProcessingSuccess
	case len(r.Errors) < r.Processed:
		return ProcessingPartial
	default:
		return ProcessingError
	}
}

// Feed names accepted by the manual trigger and used as feed_health keys.
const (
	FeedGDACS            = "gdacs"
	FeedReliefWeb        = "reliefweb"
	FeedUSGS             = "usgs"
	FeedNOAACAP          = "noaa-cap"
	FeedNASAFIRMS        = "nasa-firms"
	FeedCyclones         = "cyclones"
	FeedWildfireClusters = "wildfire-clusters"
	FeedEmail            = "email"
)
