package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/visite/visite-admin/internal/mapview"
	"github.com/visite/visite-admin/internal/services"
)

// userPoint reads the optional lat/lng query pair
func userPoint(c *gin.Context) (*mapview.Point, bool) {
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" && lngStr == "" {
		return nil, true
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	p := &mapview.Point{Lat: lat, Lng: lng}
	return p, validPoint(*p)
}

// validPoint reports whether p is a finite WGS84 coordinate
func validPoint(p mapview.Point) bool {
	for _, v := range []float64{p.Lat, p.Lng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func bindMapQuery(c *gin.Context) (services.MapFilter, *mapview.Point, bool) {
	var filter services.MapFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "Invalid filter: "+err.Error())
		return filter, nil, false
	}
	user, ok := userPoint(c)
	if !ok {
		badRequest(c, "lat and lng must both be valid coordinates")
		return filter, nil, false
	}
	return filter, user, true
}

func (s *Server) getMarkers(c *gin.Context) {
	filter, user, ok := bindMapQuery(c)
	if !ok {
		return
	}

	result := s.mapService.View(c.Request.Context(), filter, user)
	c.JSON(http.StatusOK, gin.H{
		"success": result.Error == "",
		"map":     result,
	})
}

func (s *Server) selectMarker(c *gin.Context) {
	filter, user, ok := bindMapQuery(c)
	if !ok {
		return
	}

	var req struct {
		ID   *int64         `json:"id"`
		User *mapview.Point `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	if req.ID == nil {
		badRequest(c, "id is required")
		return
	}
	if req.User != nil {
		if !validPoint(*req.User) {
			badRequest(c, "user must be a valid coordinate")
			return
		}
		user = req.User
	}

	sel, err := s.mapService.Select(c.Request.Context(), filter, *req.ID, user)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"selection": sel,
	})
}

func (s *Server) refreshMarkers(c *gin.Context) {
	snap := s.mapService.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success":    snap.Err == "",
		"total":      len(snap.Records),
		"fetched_at": snap.FetchedAt,
		"error":      snap.Err,
	})
}
