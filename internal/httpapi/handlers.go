package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blood-broadcast/internal/auth"
	"blood-broadcast/internal/broadcast"
	"blood-broadcast/internal/rbac"
	"blood-broadcast/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Broadcasts *broadcast.Service
	Reports    *reporting.Service

	// Ping reports storage health for /healthz; nil means always healthy.
	Ping func(ctx context.Context) error
}

func (h Handlers) Health(c *gin.Context) {
	if h.Ping != nil {
		if err := h.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT pair without checking credentials. Only mounted outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Role == "" {
		req.Role = rbac.RoleDonor
	}
	if req.UserID == "" || (req.Role != rbac.RoleDonor && req.Role != rbac.RoleAdmin) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a role of donor or admin required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Broadcasts ---

func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

func (h Handlers) CreateBroadcast(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req broadcast.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	v, err := h.Broadcasts.CreateCall(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"call_id":        v.CallID,
		"notified_count": v.Counts.Notified,
		"call":           v,
	})
}

type respondRequest struct {
	Decision string `json:"decision"`
}

func (h Handlers) Respond(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	d, err := broadcast.ParseDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
	if err != nil {
		writeError(c, err)
		return
	}
	v, err := h.Broadcasts.Respond(c.Request.Context(), c.Param("call_id"), uid, d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) ListActive(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	calls, err := h.Broadcasts.ListActive(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

// History lists the caller's broadcasts in any status, newest first.
// Optional ?limit caps the page.
func (h Handlers) History(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	calls, err := h.Broadcasts.History(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h Handlers) GetBroadcast(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	v, err := h.Broadcasts.GetCall(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) AcceptedDonors(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.Broadcasts.AcceptedDonors(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted_donors": list})
}

func (h Handlers) EndBroadcast(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	v, err := h.Broadcasts.EndCall(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h Handlers) CancelBroadcast(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	v, err := h.Broadcasts.CancelCall(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// --- Admin ---

// AdminSummary aggregates broadcasts started in [from, to). Both default to the last 24h.
func (h Handlers) AdminSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC3339"})
			return
		}
		*p.dst = t
	}

	out, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
		Kind:  c.Query("kind"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
