// internal/handlers/agent/agent_handler.go
package agent

import (
	"net/http"
	"strings"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/handlers/httperr"
	"settlement-service/internal/middleware"
	"settlement-service/internal/pkg/refcode"
	"settlement-service/internal/pkg/response"
	agenttxsvc "settlement-service/internal/service/agenttx"
	credentialsvc "settlement-service/internal/service/credential"
	settlementsvc "settlement-service/internal/service/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AgentHandler struct {
	credentialService *credentialsvc.CredentialService
	txService         *agenttxsvc.AgentTxService
	settlementService *settlementsvc.SettlementService
	logger            *zap.Logger
}

func NewAgentHandler(
	credentialService *credentialsvc.CredentialService,
	txService *agenttxsvc.AgentTxService,
	settlementService *settlementsvc.SettlementService,
	logger *zap.Logger,
) *AgentHandler {
	return &AgentHandler{
		credentialService: credentialService,
		txService:         txService,
		settlementService: settlementService,
		logger:            logger,
	}
}

// ========== Gateway Endpoints ==========

// ConfirmTransaction checks the agent's identity and PIN, confirms the cash and settles it
func (h *AgentHandler) ConfirmTransaction(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindAgentTransaction)
	if !ok {
		return
	}

	var req agent.ConfirmInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.settlementService.ConfirmAndSettle(c.Request.Context(), id, req.BoundIdentity, req.Pin)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.confirm", err)
		return
	}

	if result.Pending {
		response.Success(c, http.StatusAccepted, "cash confirmed, settlement in progress", result)
		return
	}
	response.Success(c, http.StatusOK, "cash confirmed and settled", result)
}

// GetTransaction retrieves an agent transaction by reference
func (h *AgentHandler) GetTransaction(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindAgentTransaction)
	if !ok {
		return
	}

	result, err := h.txService.Get(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.get", err)
		return
	}

	response.Success(c, http.StatusOK, "agent transaction retrieved", result)
}

// LookupAgent finds the agent bound to a contact identity
func (h *AgentHandler) LookupAgent(c *gin.Context) {
	identity := strings.TrimSpace(c.Query("identity"))
	if identity == "" {
		response.ValidationError(c, "identity is required", nil)
		return
	}

	cred, err := h.credentialService.LookupByIdentity(c.Request.Context(), identity)
	if err != nil {
		httperr.Respond(c, h.logger, "agent.lookup", err)
		return
	}
	if cred == nil {
		response.NotFound(c, "no agent bound to this identity")
		return
	}

	response.Success(c, http.StatusOK, "agent retrieved", cred)
}

// TodayTransactions lists the agent's transactions since local midnight
func (h *AgentHandler) TodayTransactions(c *gin.Context) {
	agentID := strings.TrimSpace(c.Param("agent_id"))

	result, err := h.txService.TodayFor(c.Request.Context(), agentID)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.today", err)
		return
	}

	response.Success(c, http.StatusOK, "transactions retrieved", gin.H{
		"transactions": result,
		"count":        len(result),
	})
}

// Statistics aggregates the agent's transactions over ?period=today|week|month|all
func (h *AgentHandler) Statistics(c *gin.Context) {
	agentID := strings.TrimSpace(c.Param("agent_id"))
	period := agent.Period(c.DefaultQuery("period", string(agent.PeriodToday)))

	result, err := h.txService.StatisticsFor(c.Request.Context(), agentID, period)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.statistics", err)
		return
	}

	response.Success(c, http.StatusOK, "statistics retrieved", result)
}

// RotatePin replaces the agent's PIN
func (h *AgentHandler) RotatePin(c *gin.Context) {
	agentID := strings.TrimSpace(c.Param("agent_id"))

	var req agent.RotatePinInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	if err := h.credentialService.RotatePin(c.Request.Context(), agentID, req.BoundIdentity, req.OldPin, req.NewPin); err != nil {
		httperr.Respond(c, h.logger, "agent.rotate_pin", err)
		return
	}

	response.Success(c, http.StatusOK, "pin updated", nil)
}

// ========== Staff Endpoints ==========

// RegisterCredential binds an identity and PIN to an agent
func (h *AgentHandler) RegisterCredential(c *gin.Context) {
	var req agent.RegisterCredentialInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	cred, err := h.credentialService.RegisterCredential(c.Request.Context(), req.AgentID, req.BoundIdentity, req.Pin)
	if err != nil {
		httperr.Respond(c, h.logger, "agent.register", err)
		return
	}

	response.Success(c, http.StatusCreated, "agent credential registered", cred)
}

func (h *AgentHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *AgentHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

func (h *AgentHandler) setActive(c *gin.Context, active bool) {
	agentID := strings.TrimSpace(c.Param("agent_id"))

	var err error
	if active {
		err = h.credentialService.Activate(c.Request.Context(), agentID)
	} else {
		err = h.credentialService.Deactivate(c.Request.Context(), agentID)
	}
	if err != nil {
		httperr.Respond(c, h.logger, "agent.set_active", err)
		return
	}

	h.logger.Info("agent credential status changed",
		zap.String("agent_id", agentID),
		zap.Bool("active", active),
		zap.String("staff", middleware.MustGetSubject(c)),
	)
	response.Success(c, http.StatusOK, "agent status updated", gin.H{
		"agent_id": agentID,
		"active":   active,
	})
}

// CreateTransaction records cash an agent is about to collect
func (h *AgentHandler) CreateTransaction(c *gin.Context) {
	var req agent.CreateTransactionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.txService.Create(c.Request.Context(), &req)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.create", err)
		return
	}

	response.Success(c, http.StatusCreated, "agent transaction created", result)
}

// ListUnsettled lists confirmed transactions still waiting for settlement
func (h *AgentHandler) ListUnsettled(c *gin.Context) {
	result, err := h.txService.ListConfirmedUnsettled(c.Request.Context(), httperr.Limit(c, 50, 200))
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.unsettled", err)
		return
	}

	response.Success(c, http.StatusOK, "unsettled transactions retrieved", gin.H{
		"transactions": result,
		"count":        len(result),
	})
}

// CancelTransaction voids a pending transaction
func (h *AgentHandler) CancelTransaction(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindAgentTransaction)
	if !ok {
		return
	}

	var req agent.CancelInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BindError(c, err)
			return
		}
	}

	result, err := h.txService.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.cancel", err)
		return
	}

	response.Success(c, http.StatusOK, "agent transaction cancelled", result)
}

// SettleTransaction settles a confirmed transaction linked to a topup request
func (h *AgentHandler) SettleTransaction(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindAgentTransaction)
	if !ok {
		return
	}

	result, err := h.settlementService.Settle(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.settle", err)
		return
	}

	message := "agent transaction settled"
	if result.AlreadySettled {
		message = "agent transaction already settled"
	}
	response.Success(c, http.StatusOK, message, result)
}

// CompleteTransaction finalises a confirmed transaction without a linked request
func (h *AgentHandler) CompleteTransaction(c *gin.Context) {
	id, ok := httperr.Reference(c, "id", refcode.KindAgentTransaction)
	if !ok {
		return
	}

	tx, err := h.txService.Get(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.complete", err)
		return
	}
	if tx.LinkedTopupRequestID != nil {
		response.Error(c, http.StatusConflict, "linked transactions are completed by settlement", nil)
		return
	}

	result, err := h.txService.Complete(c.Request.Context(), id)
	if err != nil {
		httperr.Respond(c, h.logger, "agenttx.complete", err)
		return
	}

	response.Success(c, http.StatusOK, "agent transaction completed", result)
}
