package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visite/visite-admin/internal/models"
	"github.com/visite/visite-admin/internal/services"
)

// adminSessions holds issued bearer tokens and their expiry
type adminSessions struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]time.Time
}

func newAdminSessions(ttl time.Duration) *adminSessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &adminSessions{ttl: ttl, tokens: make(map[string]time.Time)}
}

func (a *adminSessions) issue() (string, time.Time, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiry := time.Now().Add(a.ttl)

	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for t, exp := range a.tokens {
		if now.After(exp) {
			delete(a.tokens, t)
		}
	}
	a.tokens[token] = expiry
	return token, expiry, nil
}

func (a *adminSessions) valid(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, exists := a.tokens[token]
	if !exists {
		return false
	}
	if time.Now().After(expiry) {
		delete(a.tokens, token)
		return false
	}
	return true
}

func (a *adminSessions) revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

func generateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Success: false,
		Error:   msg,
		Code:    http.StatusUnauthorized,
	})
}

// Admin authentication
func (s *Server) adminLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	// Check credentials
	if s.config.Admin.Username == "" || s.config.Admin.Password == "" {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Success: false,
			Error:   "Admin credentials not configured",
			Code:    http.StatusServiceUnavailable,
		})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.config.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.config.Admin.Password)) == 1
	if !userOK || !passOK {
		s.logger.Warn().Str("client_ip", c.ClientIP()).Msg("failed admin login")
		unauthorized(c, "Invalid credentials")
		return
	}

	token, expiry, err := s.admin.issue()
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"expires_at": expiry.UTC().Format(time.RFC3339),
		"message":    "Login successful",
	})
}

func (s *Server) adminLogout(c *gin.Context) {
	token, _ := bearerToken(c)
	s.admin.revoke(token)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out",
	})
}

func (s *Server) requireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "Invalid authorization format")
			return
		}

		if !s.admin.valid(token) {
			unauthorized(c, "Invalid or expired session")
			return
		}

		c.Next()
	}
}

// registerCatalog mounts list/get/create/update/delete routes for one
// backend collection
func registerCatalog[T any](group *gin.RouterGroup, path string, catalog *services.Catalog[T]) {
	routes := group.Group("/" + path)

	routes.GET("", func(c *gin.Context) {
		records, err := catalog.List(c.Request.Context())
		if err != nil {
			c.JSON(errorStatus(c, err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "count": len(records)})
	})

	routes.GET("/:uuid", func(c *gin.Context) {
		record, err := catalog.Get(c.Request.Context(), c.Param("uuid"))
		if err != nil {
			c.JSON(errorStatus(c, err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
	})

	routes.POST("", func(c *gin.Context) {
		var v T
		if err := c.ShouldBindJSON(&v); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
		created, err := catalog.Create(c.Request.Context(), &v)
		if err != nil {
			c.JSON(errorStatus(c, err))
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": created})
	})

	routes.PUT("/:uuid", func(c *gin.Context) {
		var v T
		if err := c.ShouldBindJSON(&v); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
		updated, err := catalog.Update(c.Request.Context(), c.Param("uuid"), &v)
		if err != nil {
			c.JSON(errorStatus(c, err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": updated})
	})

	routes.DELETE("/:uuid", func(c *gin.Context) {
		if err := catalog.Delete(c.Request.Context(), c.Param("uuid")); err != nil {
			c.JSON(errorStatus(c, err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": catalog.Name() + " record deleted"})
	})
}

func errorStatus(c *gin.Context, err error) (int, models.ErrorResponse) {
	resp := errorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	return resp.Code, resp
}
