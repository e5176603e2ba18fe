package handler

import (
	"fmt"
	"net/http"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
)

// ClaimLinkHandler 领取链接接口
type ClaimLinkHandler struct {
	claimLogic *logic.ClaimLinkLogic
	decimals   int32
	baseUrl    string
}

// NewClaimLinkHandler 创建领取链接接口
func NewClaimLinkHandler(claimLogic *logic.ClaimLinkLogic, decimals int32, baseUrl string) *ClaimLinkHandler {
	return &ClaimLinkHandler{claimLogic: claimLogic, decimals: decimals, baseUrl: baseUrl}
}

// shareUrl 链接的分享地址
func (h *ClaimLinkHandler) shareUrl(id string) string {
	if h.baseUrl == "" {
		return ""
	}
	return fmt.Sprintf("%s/claim/%s", h.baseUrl, id)
}

func (h *ClaimLinkHandler) buildLink(req *CreateClaimLinkRequest) (*model.ClaimLinkModel, error) {
	amount, err := parseAmount(req.Amount, h.decimals)
	if err != nil {
		return nil, err
	}

	currency := model.Currency(req.Currency)
	if currency == "" {
		currency = model.CurrencyNative
	}

	return &model.ClaimLinkModel{
		Id:              req.Id,
		SenderAddress:   req.SenderAddress,
		ReceiverAddress: req.ReceiverAddress,
		Amount:          amount,
		Currency:        currency,
		ExpiryDate:      req.ExpiryDate,
	}, nil
}

// PrepareClaimLink 创建预处理：生成链接id并返回待签名的托管交易组
func (h *ClaimLinkHandler) PrepareClaimLink(c *gin.Context) {
	var req CreateClaimLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	link, err := h.buildLink(&req)
	if err != nil {
		FailWithError(c, err)
		return
	}
	link.Id = ""

	txns, err := h.claimLogic.PrepareClaimLink(c.Request.Context(), link)
	if err != nil {
		FailWithError(c, err)
		return
	}

	resp := PrepareResponse{Id: link.Id}
	if len(txns) > 0 {
		encoded, err := encodeTxns(txns)
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, err.Error())
			return
		}
		resp.UnsignedTxns = encoded
		resp.SignIndices = make([]int, len(txns))
		for i := range resp.SignIndices {
			resp.SignIndices[i] = i
		}
	}
	SuccessResponse(c, http.StatusOK, "", resp)
}

// CreateClaimLink 创建领取链接（托管模式需携带prepare返回的id与签好的交易）
func (h *ClaimLinkHandler) CreateClaimLink(c *gin.Context) {
	var req CreateClaimLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	link, err := h.buildLink(&req)
	if err != nil {
		FailWithError(c, err)
		return
	}

	raw, err := decodeSignedTxns(req.SignedTxns)
	if err != nil {
		FailWithError(c, err)
		return
	}

	if err := h.claimLogic.CreateClaimLink(c.Request.Context(), link, chain.NewPresignedSigner(raw)); err != nil {
		FailWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "领取链接创建成功",
		toClaimLinkResponse(link, h.decimals, h.shareUrl(link.Id)))
}

// GetClaimLinks 获取领取链接列表
func (h *ClaimLinkHandler) GetClaimLinks(c *gin.Context) {
	links, err := h.claimLogic.GetClaimLinks(c.Request.Context())
	if err != nil {
		FailWithError(c, err)
		return
	}

	out := make([]ClaimLinkResponse, 0, len(links))
	for i := range links {
		out = append(out, toClaimLinkResponse(&links[i], h.decimals, h.shareUrl(links[i].Id)))
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"claim_links": out, "total": len(out)})
}

// GetClaimLink 获取领取链接详情
func (h *ClaimLinkHandler) GetClaimLink(c *gin.Context) {
	link, err := h.claimLogic.GetClaimLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		FailWithError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", toClaimLinkResponse(link, h.decimals, h.shareUrl(link.Id)))
}

// PrepareClaim 领取预处理：返回待签名交易
func (h *ClaimLinkHandler) PrepareClaim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.claimLogic.PrepareClaim(c.Request.Context(), c.Param("id"), req.Address)
	if err != nil {
		FailWithError(c, err)
		return
	}

	resp := PrepareResponse{}
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

// Claim 领取链接下的资金
func (h *ClaimLinkHandler) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := decodeSignedTxns(req.SignedTxns)
	if err != nil {
		FailWithError(c, err)
		return
	}

	link, err := h.claimLogic.Claim(c.Request.Context(), c.Param("id"), req.Address, chain.NewPresignedSigner(raw))
	if err != nil {
		FailWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "领取成功", toClaimLinkResponse(link, h.decimals, ""))
}

// PrepareCancel 取消预处理：托管链接返回发送方待签名的取消交易
func (h *ClaimLinkHandler) PrepareCancel(c *gin.Context) {
	var req CancelClaimLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.claimLogic.PrepareCancel(c.Request.Context(), c.Param("id"), req.Address)
	if err != nil {
		FailWithError(c, err)
		return
	}

	resp := PrepareResponse{}
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

// Cancel 取消领取链接
func (h *ClaimLinkHandler) Cancel(c *gin.Context) {
	var req CancelClaimLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := decodeSignedTxns(req.SignedTxns)
	if err != nil {
		FailWithError(c, err)
		return
	}

	link, err := h.claimLogic.Cancel(c.Request.Context(), c.Param("id"), req.Address, chain.NewPresignedSigner(raw))
	if err != nil {
		FailWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "领取链接已取消", toClaimLinkResponse(link, h.decimals, ""))
}

// GetClaimLinkStats 获取领取链接统计信息
func (h *ClaimLinkHandler) GetClaimLinkStats(c *gin.Context) {
	stats, err := h.claimLogic.GetClaimLinkStats(c.Request.Context())
	if err != nil {
		FailWithError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", stats)
}
