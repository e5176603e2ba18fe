package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/spl/internal/logic"
	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

// ShareHandler 分享接口（二维码）
type ShareHandler struct {
	paymentLogic *logic.PaymentLogic
	claimLogic   *logic.ClaimLinkLogic
	baseUrl      string
}

// NewShareHandler 创建分享接口
func NewShareHandler(paymentLogic *logic.PaymentLogic, claimLogic *logic.ClaimLinkLogic, baseUrl string) *ShareHandler {
	return &ShareHandler{paymentLogic: paymentLogic, claimLogic: claimLogic, baseUrl: baseUrl}
}

// GetPaymentQR 生成支付请求分享页的二维码（PNG）
func (h *ShareHandler) GetPaymentQR(c *gin.Context) {
	payment, _, err := h.paymentLogic.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		FailWithError(c, err)
		return
	}
	h.renderQR(c, h.baseUrl+"/pay/"+payment.Id)
}

// GetClaimLinkQR 生成领取链接的二维码（PNG）
func (h *ShareHandler) GetClaimLinkQR(c *gin.Context) {
	link, err := h.claimLogic.GetClaimLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		FailWithError(c, err)
		return
	}
	h.renderQR(c, h.baseUrl+"/claim/"+link.Id)
}

func (h *ShareHandler) renderQR(c *gin.Context, url string) {
	size, err := strconv.Atoi(c.DefaultQuery("size", "256"))
	if err != nil || size < 64 || size > 1024 {
		size = 256
	}

	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
