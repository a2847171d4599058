package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rlacerda/vigia/internal/geofence"
	"github.com/rlacerda/vigia/internal/realtime"
	"github.com/rlacerda/vigia/internal/storage"
	"github.com/rlacerda/vigia/internal/track"
)

// store is the slice of the storage layer the HTTP surface needs.
type store interface {
	InsertLocation(userID string, s track.Sample) error
	LatestLocations() ([]storage.LocationRecord, error)
	UpsertZone(z geofence.Zone) error
	ListZones() ([]geofence.Zone, error)
	DeleteZone(id string) error
	InsertAlert(a storage.AlertRecord) error
	ListAlerts(limit int) ([]storage.AlertRecord, error)
}

// publisher pushes realtime events out to connected family members.
type publisher interface {
	Send(topic string, payload any) error
}

// resolver turns coordinates into a display address.
type resolver interface {
	Resolve(ctx context.Context, lat, lon float64) (string, error)
}

// Handler serves the family tracking HTTP API.
type Handler struct {
	store        store
	pub          publisher
	geo          resolver
	lowBatteryAt int
}

// NewHandler builds the HTTP surface. geo may be nil, which disables the
// geocode route. lowBatteryAt is the battery percentage at or below which a
// location update also raises a battery alert; 0 disables the check.
func NewHandler(st store, pub publisher, geo resolver, lowBatteryAt int) *Handler {
	return &Handler{store: st, pub: pub, geo: geo, lowBatteryAt: lowBatteryAt}
}

// Register mounts all routes on the given group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/location/update", h.UpdateLocation)
	r.GET("/location/family", h.FamilyLocations)
	r.GET("/safe-zones", h.ListZones)
	r.POST("/safe-zones", h.CreateZone)
	r.DELETE("/safe-zones/:id", h.DeleteZone)
	r.POST("/geofence-event", h.GeofenceEvent)
	r.GET("/alerts", h.ListAlerts)
	if h.geo != nil {
		r.GET("/geocode", h.Geocode)
	}
}

type locationUpdateRequest struct {
	UserID     string  `json:"user_id" binding:"required"`
	UserName   string  `json:"user_name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	Altitude   float64 `json:"altitude"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
	Battery    int     `json:"battery"`
	IsCharging bool    `json:"is_charging"`
	CapturedAt int64   `json:"captured_at"`
}

func (h *Handler) UpdateLocation(c *gin.Context) {
	var req locationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location payload"})
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	captured := time.Now()
	if req.CapturedAt > 0 {
		captured = time.Unix(req.CapturedAt, 0)
	}
	sample := track.Sample{
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Accuracy:     req.Accuracy,
		Altitude:     req.Altitude,
		Speed:        req.Speed,
		Heading:      req.Heading,
		BatteryLevel: req.Battery,
		IsCharging:   req.IsCharging,
		CapturedAt:   captured,
	}
	if err := h.store.InsertLocation(req.UserID, sample); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store location"})
		return
	}

	if h.pub != nil {
		h.pub.Send(realtime.TopicLocationUpdate, realtime.LocationUpdatePayload{
			UserID:       req.UserID,
			UserName:     req.UserName,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
			Accuracy:     req.Accuracy,
			Altitude:     req.Altitude,
			Speed:        req.Speed,
			Heading:      req.Heading,
			BatteryLevel: req.Battery,
			IsCharging:   req.IsCharging,
			CapturedAt:   captured.UnixMilli(),
		})
	}

	if h.lowBatteryAt > 0 && req.Battery >= 0 && req.Battery <= h.lowBatteryAt && !req.IsCharging {
		h.store.InsertAlert(storage.AlertRecord{
			Kind:     realtime.TopicBatteryAlert,
			UserID:   req.UserID,
			UserName: req.UserName,
		})
		if h.pub != nil {
			h.pub.Send(realtime.TopicBatteryAlert, realtime.BatteryAlertPayload{
				UserID:   req.UserID,
				UserName: req.UserName,
				Level:    req.Battery,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type familyLocationResponse struct {
	UserID     string  `json:"user_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
	Battery    int     `json:"battery"`
	IsCharging bool    `json:"is_charging"`
	CapturedAt int64   `json:"captured_at"`
}

func (h *Handler) FamilyLocations(c *gin.Context) {
	recs, err := h.store.LatestLocations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch locations"})
		return
	}
	out := make([]familyLocationResponse, len(recs))
	for i, r := range recs {
		out[i] = familyLocationResponse{
			UserID:     r.UserID,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			Accuracy:   r.Accuracy,
			Speed:      r.Speed,
			Heading:    r.Heading,
			Battery:    r.Battery,
			IsCharging: r.IsCharging,
			CapturedAt: r.CapturedAt.Unix(),
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListZones(c *gin.Context) {
	zones, err := h.store.ListZones()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch zones"})
		return
	}
	if zones == nil {
		zones = []geofence.Zone{}
	}
	c.JSON(http.StatusOK, zones)
}

func (h *Handler) CreateZone(c *gin.Context) {
	var z geofence.Zone
	if err := c.ShouldBindJSON(&z); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zone payload"})
		return
	}
	if z.RadiusMeters <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be positive"})
		return
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	if err := h.store.UpsertZone(z); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store zone"})
		return
	}
	c.JSON(http.StatusCreated, z)
}

func (h *Handler) DeleteZone(c *gin.Context) {
	if err := h.store.DeleteZone(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete zone"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type geofenceEventRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	UserName  string  `json:"user_name"`
	ZoneID    string  `json:"zone_id"`
	ZoneName  string  `json:"zone_name"`
	Action    string  `json:"action" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) GeofenceEvent(c *gin.Context) {
	var req geofenceEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid geofence event"})
		return
	}
	if req.Action != realtime.ActionEnter && req.Action != realtime.ActionExit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be enter or exit"})
		return
	}
	if err := h.store.InsertAlert(storage.AlertRecord{
		Kind:     realtime.TopicGeofenceAlert,
		UserID:   req.UserID,
		UserName: req.UserName,
		ZoneID:   req.ZoneID,
		ZoneName: req.ZoneName,
		Action:   req.Action,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store alert"})
		return
	}
	if h.pub != nil {
		h.pub.Send(realtime.TopicGeofenceAlert, realtime.GeofenceAlertPayload{
			UserID:    req.UserID,
			UserName:  req.UserName,
			ZoneID:    req.ZoneID,
			ZoneName:  req.ZoneName,
			Action:    req.Action,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Timestamp: time.Now().Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type alertResponse struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ZoneID    string `json:"zone_id,omitempty"`
	ZoneName  string `json:"zone_name,omitempty"`
	Action    string `json:"action,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func (h *Handler) ListAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, ok := parsePositive(raw); ok {
			limit = n
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
	}
	alerts, err := h.store.ListAlerts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	out := make([]alertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = alertResponse{
			ID:        a.ID,
			Kind:      a.Kind,
			UserID:    a.UserID,
			UserName:  a.UserName,
			ZoneID:    a.ZoneID,
			ZoneName:  a.ZoneName,
			Action:    a.Action,
			Detail:    a.Detail,
			CreatedAt: a.CreatedAt.Unix(),
		}
	}
	c.JSON(http.StatusOK, out)
}

// Geocode resolves ?lat=&lon= to a display address. Resolve degrades to a
// fallback string on upstream trouble, so the response is 200 either way.
func (h *Handler) Geocode(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coordinates"})
		return
	}
	addr, err := h.geo.Resolve(c.Request.Context(), lat, lon)
	if err != nil {
		log.Printf("API: geocode %.5f,%.5f: %v", lat, lon, err)
	}
	c.JSON(http.StatusOK, gin.H{"address": addr})
}

func parsePositive(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 10000 {
			return 0, false
		}
	}
	return n, n > 0
}

// NewRouter builds a gin engine with the API mounted under /api.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r.Group("/api"))
	return r
}
