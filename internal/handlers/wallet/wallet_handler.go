// internal/handlers/wallet/wallet_handler.go
package wallet

import (
	"net/http"
	"strings"

	"settlement-service/internal/domain/wallet"
	"settlement-service/internal/handlers/httperr"
	"settlement-service/internal/middleware"
	"settlement-service/internal/pkg/response"
	service "settlement-service/internal/service/wallet"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService *service.WalletService
	logger        *zap.Logger
}

func NewWalletHandler(walletService *service.WalletService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

// GetBalance returns the balance of an account
func (h *WalletHandler) GetBalance(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	balance, err := h.walletService.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		httperr.Respond(c, h.logger, "wallet.balance", err)
		return
	}

	response.Success(c, http.StatusOK, "balance retrieved", wallet.BalanceResponse{
		AccountID: accountID,
		Balance:   balance,
	})
}

// GetHistory returns the newest ledger entries of an account
func (h *WalletHandler) GetHistory(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))
	limit := httperr.Limit(c, 20, 100)

	entries, err := h.walletService.History(c.Request.Context(), accountID, limit)
	if err != nil {
		httperr.Respond(c, h.logger, "wallet.history", err)
		return
	}

	response.Success(c, http.StatusOK, "history retrieved", gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// ========== Staff Endpoints ==========

// Transfer moves funds between two accounts
func (h *WalletHandler) Transfer(c *gin.Context) {
	var req wallet.TransferInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	result, err := h.walletService.Transfer(c.Request.Context(), &req)
	if err != nil {
		httperr.Respond(c, h.logger, "wallet.transfer", err)
		return
	}

	h.logger.Info("staff transfer",
		zap.String("staff", middleware.MustGetSubject(c)),
		zap.String("from_account_id", req.FromAccountID),
		zap.String("to_account_id", req.ToAccountID),
	)
	response.Success(c, http.StatusOK, "transfer completed", result)
}

// Debit takes funds out of an account
func (h *WalletHandler) Debit(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	var req wallet.DebitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BindError(c, err)
		return
	}

	entry, err := h.walletService.Debit(c.Request.Context(), accountID, req.Amount, req.Reason)
	if err != nil {
		httperr.Respond(c, h.logger, "wallet.debit", err)
		return
	}

	h.logger.Info("staff debit",
		zap.String("staff", middleware.MustGetSubject(c)),
		zap.String("account_id", accountID),
		zap.Int64("amount", req.Amount),
	)
	response.Success(c, http.StatusOK, "debit recorded", entry)
}
