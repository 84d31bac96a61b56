package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/calls"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var errRateLimited = errors.New("too many call attempts")

type handlers struct {
	registry *app.Registry
	calls    *calls.Manager
	limiter  *WindowRateLimiter
}

// errorStatus maps service errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, calls.ErrUserNotFound),
		errors.Is(err, calls.ErrCallNotFound),
		errors.Is(err, app.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, calls.ErrNotAvailable),
		errors.Is(err, calls.ErrInsufficientTokens),
		errors.Is(err, calls.ErrSelfCall),
		errors.Is(err, calls.ErrAlreadyAccepted),
		errors.Is(err, domain.ErrInvalidPresence),
		errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

// login stores an identity in the session cookie for clients that cannot set
// headers.
func (h *handlers) login(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	uid := domain.UserID(req.UserID)
	if err := domain.ValidateUserID(uid); err != nil {
		fail(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(sessionUIDKey, string(uid))
	if err := s.Save(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.registry.GetOrCreateUser(uid))
}

func (h *handlers) me(c *gin.Context) {
	u, ok := h.registry.User(currentUser(c))
	if !ok {
		fail(c, app.ErrUnknownUser)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handlers) presence(c *gin.Context) {
	id := domain.UserID(c.Param("id"))
	u, ok := h.registry.User(id)
	if !ok {
		fail(c, calls.ErrUserNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": u.ID, "status": u.Status})
}

func (h *handlers) professionals(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Professionals())
}

func (h *handlers) setStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	p, err := domain.ParsePresence(req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.registry.SetPresence(currentUser(c), p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": p})
}

func (h *handlers) initiate(c *gin.Context) {
	var req struct {
		ProfessionalID string `json:"professional_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProfessionalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "professional_id required"})
		return
	}
	uid := currentUser(c)
	if !h.limiter.Allow(uid) {
		fail(c, errRateLimited)
		return
	}
	id, err := h.calls.Initiate(uid, domain.UserID(req.ProfessionalID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": id, "status": calls.StatusPending})
}

func (h *handlers) accept(c *gin.Context) {
	if err := h.calls.Accept(currentUser(c), domain.CallID(c.Param("id"))); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Call accepted"})
}

func (h *handlers) end(c *gin.Context) {
	res, err := h.calls.End(currentUser(c), domain.CallID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Call ended", "duration": res.Duration, "cost": res.Cost})
}
