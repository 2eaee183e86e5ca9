// Package auth exposes account registration and login over HTTP.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/gin-gonic/gin"
)

// Credentials verifies and records username/secret pairs.
type Credentials interface {
	Register(ctx context.Context, username, secret string) error
	Verify(ctx context.Context, username, secret string) (string, error)
}

// CredentialsRequest is the JSON body for POST /register and POST /login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Handler handles register and login.
type Handler struct {
	creds Credentials
	log   logging.Logger
}

func NewHandler(creds Credentials, log logging.Logger) *Handler {
	return &Handler{creds: creds, log: log.With("component", "auth")}
}

// RegisterRoutes mounts the handlers on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
}

func (h *Handler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	err := h.creds.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		h.log.Info(c.Request.Context(), "user registered", "username", req.Username)
		c.JSON(http.StatusOK, gin.H{"message": "registered"})
	case errors.Is(err, common.ErrMalformedInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
	case errors.Is(err, common.ErrDuplicateUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": "username already taken"})
	default:
		h.log.Error(c.Request.Context(), "registration failed", "username", req.Username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	username, err := h.creds.Verify(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "username": username})
	case errors.Is(err, common.ErrUserNotFound), errors.Is(err, common.ErrInvalidCredential):
		// Same answer for both so usernames cannot be probed.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
	case errors.Is(err, common.ErrMalformedInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
	default:
		h.log.Error(c.Request.Context(), "login failed", "username", req.Username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
	}
}
