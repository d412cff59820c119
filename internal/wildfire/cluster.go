// Package wildfire groups recent fire detections into clusters.
//
// Detections are first binned on a coarse grid, then bins whose centroids lie
// within MergeRadiusKm are merged, which keeps the pairwise step at
// O(bins^2) rather than O(points^2).
package wildfire

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

const (
	BinSizeDeg    = 0.5
	MergeRadiusKm = 100.0
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.0
	decayWindow   = 7 * 24 * time.Hour
)

type Source interface {
	ActiveWildfires(ctx context.Context, since time.Time) ([]models.Disaster, error)
}

type Result struct {
	Clusters int `json:"clusters"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}

type Engine struct {
	src      Source
	dst      repository.ClusterRepository
	clock    clockwork.Clock
	lookback time.Duration
	logger   *slog.Logger
}

func NewEngine(src Source, dst repository.ClusterRepository, clock clockwork.Clock, lookback time.Duration, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if lookback <= 0 {
		lookback = decayWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{src: src, dst: dst, clock: clock, lookback: lookback, logger: logger}
}

// Recompute rebuilds every cluster from the detections inside the lookback
// window, upserts them by key and removes keys this run did not produce.
// Keys follow the centroid, so a growing fire can leave its old key behind.
func (e *Engine) Recompute(ctx context.Context) (Result, error) {
	now := e.clock.Now().UTC()
	fires, err := e.src.ActiveWildfires(ctx, now.Add(-e.lookback))
	if err != nil {
		return Result{}, fmt.Errorf("error loading wildfires: %w", err)
	}

	clusters := Compute(fires, now)
	res := Result{Clusters: len(clusters)}
	keys := make([]string, 0, len(clusters))
	for i := range clusters {
		keys = append(keys, clusters[i].ClusterKey)
		inserted, err := e.dst.UpsertCluster(ctx, &clusters[i])
		if err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	removed, err := e.dst.DeleteClustersExcept(ctx, keys)
	if err != nil {
		return res, err
	}
	res.Removed = int(removed)
	e.logger.Info("wildfire clusters recomputed", "detections", len(fires), "clusters", res.Clusters,
		"inserted", res.Inserted, "updated", res.Updated, "removed", res.Removed)
	return res, nil
}

type bin struct {
	key      [2]int
	members  []models.Disaster
	centroid models.Coordinates
}

// Compute is the pure clustering step. Detections without coordinates are
// ignored.
func Compute(fires []models.Disaster, now time.Time) []models.WildfireCluster {
	byKey := make(map[[2]int]*bin)
	for _, f := range fires {
		if f.Coordinates == nil {
			continue
		}
		k := [2]int{
			int(math.Floor(f.Coordinates.Latitude / BinSizeDeg)),
			int(math.Floor(f.Coordinates.Longitude / BinSizeDeg)),
		}
		b, ok := byKey[k]
		if !ok {
			b = &bin{key: k}
			byKey[k] = b
		}
		b.members = append(b.members, f)
	}

	bins := make([]*bin, 0, len(byKey))
	for _, b := range byKey {
		b.centroid = centroid(b.members)
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool {
		if bins[i].key[0] != bins[j].key[0] {
			return bins[i].key[0] < bins[j].key[0]
		}
		return bins[i].key[1] < bins[j].key[1]
	})

	uf := newUnionFind(len(bins))
	for i := range bins {
		for j := i + 1; j < len(bins); j++ {
			if Haversine(bins[i].centroid, bins[j].centroid) <= MergeRadiusKm {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]models.Disaster)
	var order []int
	for i, b := range bins {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], b.members...)
	}

	var out []models.WildfireCluster
	for _, root := range order {
		members := groups[root]
		if len(members) == 1 && members[0].Severity != models.SeverityRed {
			continue
		}
		out = append(out, summarize(members, now))
	}
	return out
}

func summarize(members []models.Disaster, now time.Time) models.WildfireCluster {
	c := models.WildfireCluster{
		Centroid:      centroid(members),
		FirstDetected: members[0].EventTime,
		LastDetected:  members[0].EventTime,
		UpdatedAt:     now,
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	var prior6h int
	var ageSum time.Duration
	mult := 1.0
	for _, m := range members {
		t := m.EventTime
		if t.Before(c.FirstDetected) {
			c.FirstDetected = t
		}
		if t.After(c.LastDetected) {
			c.LastDetected = t
		}
		age := now.Sub(t)
		switch {
		case age <= 6*time.Hour:
			c.Detections6h++
		case age <= 12*time.Hour:
			prior6h++
		}
		if age <= 24*time.Hour {
			c.Detections24h++
		}
		ageSum += max(age, 0)

		switch m.Severity {
		case models.SeverityRed:
			mult = 2.0
		case models.SeverityOrange:
			mult = math.Max(mult, 1.5)
		}

		minLat = math.Min(minLat, m.Coordinates.Latitude)
		maxLat = math.Max(maxLat, m.Coordinates.Latitude)
		minLng = math.Min(minLng, m.Coordinates.Longitude)
		maxLng = math.Max(maxLng, m.Coordinates.Longitude)
	}

	if prior6h > 0 {
		c.GrowthRate = float64(c.Detections6h)/float64(prior6h) - 1
	}
	c.AreaEstimateKm2 = (maxLat - minLat) * (maxLng - minLng) * kmPerDegree * kmPerDegree

	avgAge := ageSum / time.Duration(len(members))
	decay := math.Max(0.1, 1-float64(avgAge)/float64(decayWindow))
	c.IntensityScore = float64(len(members)) * 10 * mult * decay

	c.ClusterKey = fmt.Sprintf("%.1f_%.1f_%s", c.Centroid.Latitude, c.Centroid.Longitude,
		c.FirstDetected.UTC().Format("2006-01-02"))
	return c
}

func centroid(ds []models.Disaster) models.Coordinates {
	var lat, lng float64
	for _, d := range ds {
		lat += d.Coordinates.Latitude
		lng += d.Coordinates.Longitude
	}
	n := float64(len(ds))
	return models.Coordinates{Latitude: lat / n, Longitude: lng / n}
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b models.Coordinates) float64 {
	rad := math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * rad
	dLng := (b.Longitude - a.Longitude) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*rad)*math.Cos(b.Latitude*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
