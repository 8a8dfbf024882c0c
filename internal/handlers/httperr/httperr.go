// internal/handlers/httperr/httperr.go
package httperr

import (
	"errors"
	"net/http"
	"strconv"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/topup"
	"settlement-service/internal/domain/wallet"
	xerrors "settlement-service/internal/pkg/errors"
	"settlement-service/internal/pkg/refcode"
	"settlement-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type outcome struct {
	err    error
	status int
}

// Business outcomes and their status codes. The sentinel text is shown to the caller.
var outcomes = []outcome{
	{xerrors.ErrNotFound, http.StatusNotFound},
	{agent.ErrCredentialNotFound, http.StatusNotFound},

	{refcode.ErrInvalidReference, http.StatusBadRequest},
	{xerrors.ErrInvalidInput, http.StatusBadRequest},
	{wallet.ErrInvalidAmount, http.StatusBadRequest},
	{wallet.ErrInvalidAccount, http.StatusBadRequest},
	{wallet.ErrSameAccount, http.StatusBadRequest},
	{topup.ErrAmountOutOfRange, http.StatusBadRequest},
	{topup.ErrInvalidPaymentPath, http.StatusBadRequest},
	{topup.ErrInvalidProof, http.StatusBadRequest},
	{agent.ErrInvalidPinFormat, http.StatusBadRequest},
	{agent.ErrInvalidKind, http.StatusBadRequest},

	{agent.ErrInvalidPin, http.StatusForbidden},
	{agent.ErrInvalidOldPin, http.StatusForbidden},

	{wallet.ErrInsufficientFunds, http.StatusUnprocessableEntity},

	{topup.ErrNotPending, http.StatusConflict},
	{topup.ErrWrongPath, http.StatusConflict},
	{topup.ErrActiveRequestExists, http.StatusConflict},
	{topup.ErrCashConfirmed, http.StatusConflict},
	{agent.ErrWrongState, http.StatusConflict},
	{agent.ErrRequestClosed, http.StatusConflict},
	{agent.ErrOpenTransactionExists, http.StatusConflict},
	{agent.ErrNoLinkedRequest, http.StatusConflict},
	{agent.ErrAlreadyRegistered, http.StatusConflict},
	{agent.ErrIdentityTaken, http.StatusConflict},
	{wallet.ErrDuplicateCredit, http.StatusConflict},
	{xerrors.ErrDuplicateEntry, http.StatusConflict},

	{agent.ErrTooManyAttempts, http.StatusTooManyRequests},
}

// Status returns the status code for a business outcome, or false when err is
// not one.
func Status(err error) (int, string, bool) {
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.status, o.err.Error(), true
		}
	}
	return 0, "", false
}

// Respond writes err as a business failure, or as the generic 500 after
// logging it with the operation name.
func Respond(c *gin.Context, logger *zap.Logger, op string, err error) {
	if status, message, ok := Status(err); ok {
		response.Error(c, status, message, nil)
		return
	}

	logger.Error("request failed",
		zap.String("op", op),
		zap.String("request_id", c.GetString(response.RequestIDKey)),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	response.Internal(c)
}

// BindError answers a request whose body or query failed binding.
func BindError(c *gin.Context, err error) {
	response.ValidationError(c, "invalid request", err)
}

// Reference reads a path reference of the given kind. On a malformed value it
// answers 400 and returns false.
func Reference(c *gin.Context, param string, kind refcode.Kind) (string, bool) {
	id := refcode.Normalize(c.Param(param))
	if err := refcode.Validate(kind, id); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid reference: "+param, nil)
		return "", false
	}
	return id, true
}

// Limit parses the limit query parameter, falling back to def when it is
// missing or outside 1..max.
func Limit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > max {
		return def
	}
	return limit
}
