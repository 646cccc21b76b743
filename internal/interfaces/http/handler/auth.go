package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/integration"
	"github.com/qbsync/backend/internal/infrastructure/auth"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/interfaces/http/dto"
)

// OAuthFlow is the authorization-code half of the QuickBooks token source
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code, realmID string) error
}

// StateVerifier issues and redeems OAuth state values
type StateVerifier interface {
	Issue() (string, error)
	Verify(ctx context.Context, state string) (*auth.StateClaims, error)
}

// AuthHandler drives the /login and /callback consent round trip
type AuthHandler struct {
	BaseHandler
	flow   OAuthFlow
	states StateVerifier
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. A nil flow means QuickBooks
// credentials are not configured and both endpoints answer 503.
func NewAuthHandler(flow OAuthFlow, states StateVerifier, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{flow: flow, states: states, logger: logger}
}

// Login redirects the browser to the Intuit consent page
func (h *AuthHandler) Login(c *gin.Context) {
	if h.flow == nil {
		h.HandleError(c, integration.ErrPlatformNotConfigured)
		return
	}

	state, err := h.states.Issue()
	if err != nil {
		logger.FromContext(c.Request.Context(), h.logger).Error("Failed to issue OAuth state", zap.Error(err))
		h.InternalError(c, "Failed to start authorization")
		return
	}
	c.Redirect(http.StatusFound, h.flow.AuthCodeURL(state))
}

// Callback verifies the state, trades the code for tokens and stores them
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, h.logger)

	if h.flow == nil {
		h.HandleError(c, integration.ErrPlatformNotConfigured)
		return
	}

	// Intuit reports a denied consent as ?error=access_denied
	if reason := c.Query("error"); reason != "" {
		log.Warn("Authorization was not granted", zap.String("error", reason))
		h.BadRequest(c, "Authorization was not granted: "+reason)
		return
	}

	var req dto.CallbackRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	if _, err := h.states.Verify(ctx, req.State); err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredState):
			h.ErrorWithCode(c, dto.ErrCodeStateInvalid, "Authorization state has expired, start again from /login")
		case errors.Is(err, auth.ErrInvalidState), errors.Is(err, auth.ErrStateReused):
			h.ErrorWithCode(c, dto.ErrCodeStateInvalid, "Authorization state is invalid")
		default:
			log.Error("Failed to verify OAuth state", zap.Error(err))
			h.InternalError(c, "Failed to verify authorization state")
		}
		return
	}

	if err := h.flow.Exchange(ctx, req.Code, req.RealmID); err != nil {
		log.Error("Authorization code exchange failed", zap.String("realm_id", req.RealmID), zap.Error(err))
		if errors.Is(err, integration.ErrPlatformAuthFailed) {
			h.BadRequest(c, "Authorization code was rejected")
			return
		}
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CallbackResponse{Success: true, RealmID: req.RealmID})
}
