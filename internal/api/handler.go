package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-ingest/internal/cache"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 1000
	recentHistoryLimit  = 50
	defaultClusterLimit = 200
)

// Ingestor is the pipeline behind the manual trigger routes.
type Ingestor interface {
	KnownFeed(name string) bool
	RunFeed(ctx context.Context, name string) (models.BatchResult, error)
	IngestEmail(ctx context.Context, subject, body string, sent time.Time, size int) (models.BatchResult, error)
	IngestMIME(ctx context.Context, raw []byte) (models.BatchResult, error)
}

type Handler struct {
	repo   repository.Store
	cache  cache.Cache
	ingest Ingestor
	token  string
	stream Stream
}

func NewHandler(repo repository.Store, c cache.Cache, ingest Ingestor, token string) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	return &Handler{
		repo:   repo,
		cache:  c,
		ingest: ingest,
		token:  token,
	}
}

// SetStream enables GET /api/stream. Call before RegisterRoutes.
func (h *Handler) SetStream(s Stream) {
	h.stream = s
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	read := r.Group("/api")
	read.GET("/disasters", h.getDisasters)
	read.GET("/disasters/:id", h.getDisaster)
	read.GET("/summary", h.getSummary)
	read.GET("/history/recent", h.getRecentHistory)
	read.GET("/countries", h.getCountries)
	read.GET("/feeds/health", h.getFeedHealth)
	read.GET("/wildfire-clusters", h.getClusters)
	read.GET("/cyclones", h.getCyclones)
	if h.stream != nil {
		read.GET("/stream", h.streamChanges)
	}

	ingest := r.Group("/api/ingest", BearerAuth(h.token))
	ingest.POST("/email", h.ingestEmail)
	ingest.POST("/email/raw", h.ingestRawEmail)
	ingest.POST("/:feed", h.ingestFeed)
}

func (h *Handler) getDisasters(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("INVALID_REQUEST", err.Error(), nil))
		return
	}

	load := func(ctx context.Context) (FeatureCollection, error) {
		disasters, err := h.repo.ListDisasters(ctx, filter)
		if err != nil {
			return FeatureCollection{}, err
		}
		return toGeoJSON(disasters), nil
	}

	var fc FeatureCollection
	if filter.IsDefault() && filter.Limit == defaultListLimit {
		fc, err = cache.GetOrLoad(c.Request.Context(), h.cache, cache.KeyDefaultList, cache.TTLDefaultList, load)
	} else {
		fc, err = load(c.Request.Context())
	}
	if err != nil {
		h.internalError(c, "failed to fetch disasters", err)
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func parseFilter(c *gin.Context) (repository.Filter, error) {
	filter := repository.Filter{Limit: defaultListLimit}

	if t := c.Query("type"); t != "" {
		dt := models.ParseDisasterType(t)
		if dt == models.DisasterTypeOther && !strings.EqualFold(t, string(models.DisasterTypeOther)) {
			return filter, errors.New("unknown disaster type: " + t)
		}
		filter.Type = &dt
	}
	if s := c.Query("min_severity"); s != "" {
		sev := models.ParseSeverity(s)
		filter.MinSeverity = &sev
	}
	if cc := c.Query("country"); cc != "" {
		filter.Country = strings.ToUpper(cc)
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			if t, err = time.Parse("2006-01-02", s); err != nil {
				return filter, errors.New("since must be RFC 3339 or YYYY-MM-DD")
			}
		}
		filter.Since = &t
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxListLimit {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}
	return filter, nil
}

func (h *Handler) getDisaster(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := h.repo.GetByExternalID(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorEnvelope("NOT_FOUND", "disaster not found", nil))
		return
	}
	if err != nil {
		h.internalError(c, "failed to fetch disaster", err)
		return
	}

	history, err := h.repo.HistoryFor(ctx, d.ID)
	if err != nil {
		h.internalError(c, "failed to fetch history", err)
		return
	}

	fc := toGeoJSON([]models.Disaster{*d})
	c.JSON(http.StatusOK, gin.H{"disaster": fc.Features[0], "history": history})
}

func (h *Handler) getSummary(c *gin.Context) {
	s, err := cache.GetOrLoad(c.Request.Context(), h.cache, cache.KeySummary, cache.TTLSummary, h.repo.Summary)
	if err != nil {
		h.internalError(c, "failed to build summary", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) getRecentHistory(c *gin.Context) {
	entries, err := cache.GetOrLoad(c.Request.Context(), h.cache, cache.KeyRecentHistory, cache.TTLRecentHistory,
		func(ctx context.Context) ([]models.HistoryEntry, error) {
			return h.repo.RecentHistory(ctx, recentHistoryLimit)
		})
	if err != nil {
		h.internalError(c, "failed to fetch history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) getCountries(c *gin.Context) {
	countries, err := cache.GetOrLoad(c.Request.Context(), h.cache, cache.KeyCountries, cache.TTLCountries, h.repo.Countries)
	if err != nil {
		h.internalError(c, "failed to fetch countries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries})
}

func (h *Handler) getFeedHealth(c *gin.Context) {
	feeds, err := h.repo.ListFeedHealth(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to fetch feed health", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeds": feeds})
}

func (h *Handler) getClusters(c *gin.Context) {
	clusters, err := h.repo.ListClusters(c.Request.Context(), defaultClusterLimit)
	if err != nil {
		h.internalError(c, "failed to fetch clusters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

func (h *Handler) getCyclones(c *gin.Context) {
	cyclones, err := h.repo.ListCyclones(c.Request.Context(), defaultListLimit)
	if err != nil {
		h.internalError(c, "failed to fetch cyclones", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cyclones": cyclones})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
