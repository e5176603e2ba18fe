package handler

import (
	"errors"
	"net/http"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/store"
	"github.com/gin-gonic/gin"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// FailWithError 按业务错误映射HTTP状态码
func FailWithError(c *gin.Context, err error) {
	ErrorResponse(c, statusForError(err), err.Error())
}

// statusForError 生命周期错误到HTTP状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, logic.ErrPaymentNotFound),
		errors.Is(err, logic.ErrClaimLinkNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, logic.ErrAlreadyCompleted),
		errors.Is(err, logic.ErrDuplicateContribution),
		errors.Is(err, logic.ErrAlreadyClaimed),
		errors.Is(err, logic.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, logic.ErrPaymentExpired),
		errors.Is(err, logic.ErrLinkExpired),
		errors.Is(err, logic.ErrLinkNotActive):
		return http.StatusGone
	case errors.Is(err, logic.ErrReceiverMismatch),
		errors.Is(err, logic.ErrSelfClaimForbidden),
		errors.Is(err, logic.ErrNotSender):
		return http.StatusForbidden
	case errors.Is(err, logic.ErrAmountMismatch),
		errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, chain.ErrSignedTxMismatch),
		errors.Is(err, chain.ErrTransactionNotSigned),
		errors.Is(err, chain.ErrSignerUnavailable),
		errors.Is(err, escrow.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
