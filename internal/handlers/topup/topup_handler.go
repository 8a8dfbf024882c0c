// internal/handlers/topup/topup_handler.go
package topup

import (
	"net/http"
	"strings"

	"settlement-service/internal/domain/topup"
	"settlement-service/internal/handlers/httperr"
	"settlement-service/internal/middleware"
	"settlement-service/internal/pkg/refcode"
	"settlement-service/internal/pkg/response"
	service "settlement-service/internal/service/topup"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TopupHandler struct {
	topupService *service.TopupService
	logger       *zap.Logger
}

func NewTopupHandler(topupService *service.TopupService, logger *zap.Logger) *TopupHandler {
	return &TopupHandler{
		topupService: topupService,
		logger:       logger,
	}
}

// ========== Gateway Endpoints ==========

// CreateRequest opens a topup request for an account
func (h *TopupHandler) CreateRequest(c *gin.Context) {
	var req topup.CreateRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.topupService.CreateRequest(c.Request.Context(), &req)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.create", err)
		return
	}

	response.Success(c, http.StatusCreated, "topup request created", result)
}

// GetRequest retrieves a request by reference
func (h *TopupHandler) GetRequest(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindTopupRequest)
	if !ok {
		return
	}

	result, err := h.topupService.GetRequest(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.get", err)
		return
	}

	response.Success(c, http.StatusOK, "topup request retrieved", result)
}

// AttachProof records the customer's proof of transfer
func (h *TopupHandler) AttachProof(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindTopupRequest)
	if !ok {
		return
	}

	var req topup.AttachProofInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.topupService.AttachProof(c.Request.Context(), id, req.ProofRef)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.attach_proof", err)
		return
	}

	response.Success(c, http.StatusOK, "proof of payment attached", result)
}

// Cancel cancels a pending request
func (h *TopupHandler) Cancel(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindTopupRequest)
	if !ok {
		return
	}

	result, err := h.topupService.Cancel(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.cancel", err)
		return
	}

	response.Success(c, http.StatusOK, "topup request cancelled", result)
}

// GetActiveForAccount returns the account's open request, if any
func (h *TopupHandler) GetActiveForAccount(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	result, err := h.topupService.FindActiveForAccount(c.Request.Context(), accountID)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.active", err)
		return
	}
	if result == nil {
		response.NotFound(c, "no active topup request")
		return
	}

	response.Success(c, http.StatusOK, "active topup request retrieved", result)
}

// ListForAccount lists the newest requests of an account
func (h *TopupHandler) ListForAccount(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	result, err := h.topupService.ListForAccount(c.Request.Context(), accountID, httperr.Limit(c, 10, 50))
	if err != nil {
		httperr.Respond(c, h.logger, "topup.list", err)
		return
	}

	response.Success(c, http.StatusOK, "topup requests retrieved", gin.H{
		"requests": result,
		"count":    len(result),
	})
}

// ========== Staff Endpoints ==========

// ListAwaiting is the verification queue, oldest first
func (h *TopupHandler) ListAwaiting(c *gin.Context) {
	result, err := h.topupService.ListAwaitingVerification(c.Request.Context(), httperr.Limit(c, 20, 100))
	if err != nil {
		httperr.Respond(c, h.logger, "topup.awaiting", err)
		return
	}

	response.Success(c, http.StatusOK, "awaiting requests retrieved", gin.H{
		"requests": result,
		"count":    len(result),
	})
}

// Verify approves or rejects a request as the calling staff member
func (h *TopupHandler) Verify(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindTopupRequest)
	if !ok {
		return
	}

	var req topup.VerifyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.topupService.Verify(c.Request.Context(), id, middleware.MustGetSubject(c), *req.Approve, req.Notes)
	if err != nil {
		httperr.Respond(c, h.logger, "topup.verify", err)
		return
	}

	message := "topup request rejected"
	if result.Status == topup.StatusVerified {
		message = "topup request approved"
	}
	response.Success(c, http.StatusOK, message, result)
}
