package controllers

import (
	"io"
	"net/http"

	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// 回调请求体上限
const maxWebhookBody = 64 << 10

// PaymentController 支付控制器
type PaymentController struct {
	paymentService *services.PaymentService
}

// NewPaymentController 创建支付控制器实例
func NewPaymentController(paymentService *services.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// CreatePreference 为出售的书创建支付
// @Summary 创建支付
// @Description 创建待支付记录并返回支付渠道的跳转地址
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param publishedBookId path string true "发布ID"
// @Success 201 {object} utils.Response
// @Failure 502 {object} utils.Response
// @Router /api/payments/preferences/{publishedBookId} [post]
func (pc *PaymentController) CreatePreference(c *gin.Context) {
	pref, err := pc.paymentService.CreatePreference(c.Request.Context(), c.Param("publishedBookId"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, pref)
}

// Webhook 支付渠道回调
// @Summary 支付回调
// @Description 校验 Stripe-Signature 后按渠道状态更新支付
// @Tags payments
// @Accept json
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/payments/webhook [post]
func (pc *PaymentController) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequest(c, "invalid webhook body")
		return
	}

	if err := pc.paymentService.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"received": true})
}

// Return 浏览器从支付页回跳后查询最新状态
// @Summary 支付回跳
// @Tags payments
// @Produce json
// @Param external_reference query string true "外部单号"
// @Success 200 {object} utils.Response
// @Router /api/payments/return [get]
func (pc *PaymentController) Return(c *gin.Context) {
	ref := c.Query("external_reference")
	if ref == "" {
		utils.BadRequest(c, "external_reference is required")
		return
	}

	payment, err := pc.paymentService.HandleReturn(c.Request.Context(), ref)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{
		"payment_id":         payment.ID,
		"status":             payment.Status,
		"ready_for_redirect": payment.IsFinal(),
	})
}

// GetRedirectStatus 查询支付状态与前端跳转路径
// @Summary 支付跳转状态
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param paymentId path string true "支付ID"
// @Success 200 {object} utils.Response
// @Router /api/payments/{paymentId}/redirect-status [get]
func (pc *PaymentController) GetRedirectStatus(c *gin.Context) {
	status, err := pc.paymentService.GetRedirectStatus(c.Request.Context(), c.Param("paymentId"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, status)
}

// ListPayments 我的支付记录
// @Summary 我的支付记录
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/payments [get]
func (pc *PaymentController) ListPayments(c *gin.Context) {
	payments, err := pc.paymentService.GetUserPayments(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, payments)
}
