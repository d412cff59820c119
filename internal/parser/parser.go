// Package parser turns raw upstream feed payloads into canonical events.
//
// Every parser is tolerant of bad records: a malformed item is logged and
// skipped, and only a payload that cannot be read at all returns an error.
package parser

import (
	"fmt"
	"html"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// Parser is implemented once per upstream format.
type Parser interface {
	Name() string
	Parse(raw []byte) ([]models.CanonicalEvent, error)
}

// clock backs the "now" fallback for records without a usable timestamp.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

var registry = map[string]Parser{
	models.FeedGDACS:     GDACS{},
	models.FeedReliefWeb: ReliefWeb{},
	models.FeedUSGS:      USGS{},
	models.FeedNOAACAP:   NOAACAP{},
	models.FeedNASAFIRMS: FIRMS{},
	models.FeedCyclones:  NHC{},
}

// ForFeed returns the parser registered for a feed name.
func ForFeed(name string) (Parser, bool) {
	p, ok := registry[name]
	return p, ok
}

func parseFeed(raw []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().ParseString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("error parsing feed: %w", err)
	}
	return feed, nil
}

func extValue(e ext.Extensions, prefix, name string) string {
	if vals := e[prefix][name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func extAttr(e ext.Extensions, prefix, name, attr string) string {
	if vals := e[prefix][name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Attrs[attr])
	}
	return ""
}

// parsePoint reads a "lat lng" pair. Both halves must be finite numbers or the
// whole point is dropped.
func parsePoint(s string) *models.Coordinates {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) != 2 {
		return nil
	}
	lat, err1 := strconv.ParseFloat(fields[0], 64)
	lng, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || !finite(lat) || !finite(lng) {
		return nil
	}
	return &models.Coordinates{Latitude: lat, Longitude: lng}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// geoRSSPoint looks at georss:point first and the W3C geo:lat/geo:long pair
// second.
func geoRSSPoint(e ext.Extensions) *models.Coordinates {
	if c := parsePoint(extValue(e, "georss", "point")); c != nil {
		return c
	}
	lat := extValue(e, "geo", "lat")
	lng := extValue(e, "geo", "long")
	if pts := e["geo"]["Point"]; len(pts) > 0 {
		if v := pts[0].Children["lat"]; len(v) > 0 {
			lat = v[0].Value
		}
		if v := pts[0].Children["long"]; len(v) > 0 {
			lng = v[0].Value
		}
	}
	if lat == "" || lng == "" {
		return nil
	}
	return parsePoint(lat + " " + lng)
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// plainText strips markup and entities from an HTML fragment.
func plainText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func skip(source, reason string, attrs ...any) {
	slog.Warn("skipping feed record", append([]any{"source", source, "reason", reason}, attrs...)...)
}
