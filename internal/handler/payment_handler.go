package handler

import (
	"net/http"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
)

// PaymentHandler 分摊支付接口
type PaymentHandler struct {
	paymentLogic *logic.PaymentLogic
	decimals     int32
	baseUrl      string
}

// NewPaymentHandler 创建分摊支付接口
func NewPaymentHandler(paymentLogic *logic.PaymentLogic, decimals int32, baseUrl string) *PaymentHandler {
	return &PaymentHandler{paymentLogic: paymentLogic, decimals: decimals, baseUrl: baseUrl}
}

func (h *PaymentHandler) shareUrl(id string) string {
	return h.baseUrl + "/pay/" + id
}

// CreatePayment 创建支付请求
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	total, err := parseAmount(req.TotalAmount, h.decimals)
	if err != nil {
		FailWithError(c, err)
		return
	}

	currency := model.Currency(req.Currency)
	if currency == "" {
		currency = model.CurrencyNative
	}

	payment := &model.PaymentModel{
		Title:           req.Title,
		Description:     req.Description,
		TotalAmount:     total,
		Currency:        currency,
		Participants:    req.Participants,
		ReceiverAddress: req.ReceiverAddress,
		ExpiryDate:      req.ExpiryDate,
	}

	if err := h.paymentLogic.CreatePayment(c.Request.Context(), payment); err != nil {
		FailWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "支付请求创建成功", toPaymentResponse(payment, h.decimals, h.shareUrl(payment.Id)))
}

// GetPayments 获取支付请求列表
func (h *PaymentHandler) GetPayments(c *gin.Context) {
	payments, err := h.paymentLogic.GetPayments(c.Request.Context())
	if err != nil {
		FailWithError(c, err)
		return
	}

	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i], h.decimals, h.shareUrl(payments[i].Id)))
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"payments": out, "total": len(out)})
}

// GetPayment 获取支付请求详情及贡献记录
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, contributors, err := h.paymentLogic.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		FailWithError(c, err)
		return
	}

	outContributors := make([]ContributorResponse, 0, len(contributors))
	for i := range contributors {
		outContributors = append(outContributors, toContributorResponse(&contributors[i], h.decimals))
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{
		"payment":      toPaymentResponse(payment, h.decimals, h.shareUrl(payment.Id)),
		"contributors": outContributors,
	})
}

// PrepareContribution 贡献预处理：返回应付份额与待签名交易
func (h *PaymentHandler) PrepareContribution(c *gin.Context) {
	var req PrepareContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tx, share, err := h.paymentLogic.PrepareContribution(c.Request.Context(), c.Param("id"), req.Address)
	if err != nil {
		FailWithError(c, err)
		return
	}

	resp := PrepareResponse{ExpectedAmount: formatAmount(share, h.decimals)}
	if tx != nil {
		encoded, err := encodeTxns([]*types.Transaction{tx})
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		resp.UnsignedTxns = encoded
		resp.SignIndices = []int{0}
	}
	SuccessResponse(c, http.StatusOK, "", resp)
}

// Contribute 提交贡献（携带客户端签好的交易）
func (h *PaymentHandler) Contribute(c *gin.Context) {
	var req ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := parseAmount(req.Amount, h.decimals)
	if err != nil {
		FailWithError(c, err)
		return
	}

	raw, err := decodeSignedTxns(req.SignedTxns)
	if err != nil {
		FailWithError(c, err)
		return
	}

	contributor, err := h.paymentLogic.Contribute(c.Request.Context(),
		c.Param("id"), amount, req.Address, chain.NewPresignedSigner(raw))
	if err != nil {
		FailWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "贡献成功", toContributorResponse(contributor, h.decimals))
}

// GetPaymentStats 获取支付请求统计信息
func (h *PaymentHandler) GetPaymentStats(c *gin.Context) {
	stats, err := h.paymentLogic.GetPaymentStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		FailWithError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", stats)
}
