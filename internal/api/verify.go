package api

import (
	"net/http"
	"regexp"

	"billing-verify/internal/response"
	"billing-verify/internal/services"

	"github.com/gin-gonic/gin"
)

var (
	appIDPattern       = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)
	userIDPattern      = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// Handler serves the billing verification endpoints.
type Handler struct {
	verify *services.VerifyService
}

// NewHandler creates a handler around the verification service.
func NewHandler(verify *services.VerifyService) *Handler {
	return &Handler{verify: verify}
}

// VerifyRequest represents the android verify request body
type VerifyRequest struct {
	AppID          string `json:"app_id" binding:"required,min=2,max=64"`
	PackageName    string `json:"package_name" binding:"required,min=3,max=255"`
	SubscriptionID string `json:"subscription_id" binding:"required,min=1,max=255"`
	PurchaseToken  string `json:"purchase_token" binding:"required,min=21,max=2048"`
	UserID         string `json:"user_id" binding:"required,min=8,max=128"`
	Force          bool   `json:"force"`
}

// VerifyAndroid handles POST /v1/billing/android/verify
func (h *Handler) VerifyAndroid(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format: "+err.Error())
		return
	}
	if msg := validateRequestFields(&req); msg != "" {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}

	input := &services.VerifyInput{
		AppID:          req.AppID,
		PackageName:    req.PackageName,
		SubscriptionID: req.SubscriptionID,
		PurchaseToken:  req.PurchaseToken,
		UserID:         req.UserID,
		Force:          req.Force,
		ClientKey:      c.GetHeader("X-Client-Key"),
		CallerIP:       callerIP(c),
		RequestID:      RequestID(c),
	}

	result, verr := h.verify.Verify(c.Request.Context(), input)
	if verr != nil {
		response.Error(c, verr.Status, verr.Code, verr.Message)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetEntitlement handles GET /v1/billing/android/entitlement
func (h *Handler) GetEntitlement(c *gin.Context) {
	appID := c.Query("app_id")
	userID := c.Query("user_id")
	if appID == "" || userID == "" {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "app_id and user_id are required")
		return
	}

	entitlement, verr := h.verify.Entitlement(c.Request.Context(), appID, userID, c.GetHeader("X-Client-Key"))
	if verr != nil {
		response.Error(c, verr.Status, verr.Code, verr.Message)
		return
	}
	if entitlement == nil {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "No entitlement for user_id")
		return
	}

	c.JSON(http.StatusOK, entitlement)
}

func validateRequestFields(req *VerifyRequest) string {
	if !appIDPattern.MatchString(req.AppID) {
		return "app_id has invalid characters"
	}
	if !packageNamePattern.MatchString(req.PackageName) {
		return "package_name has invalid characters"
	}
	if !userIDPattern.MatchString(req.UserID) {
		return "user_id has invalid characters"
	}
	return ""
}

func callerIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
