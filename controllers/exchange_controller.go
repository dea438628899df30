package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// ExchangeController 交换控制器
type ExchangeController struct {
	exchangeService *services.ExchangeService
}

// NewExchangeController 创建交换控制器实例
func NewExchangeController(exchangeService *services.ExchangeService) *ExchangeController {
	return &ExchangeController{exchangeService: exchangeService}
}

// CompleteExchange 完成匹配对应的交换
// @Summary 完成交换
// @Description 参与者确认交换完成，绑定的书籍全部标记为已售出
// @Tags exchanges
// @Security BearerAuth
// @Produce json
// @Param match_id path string true "匹配ID"
// @Success 200 {object} utils.Response
// @Failure 404 {object} utils.Response
// @Failure 409 {object} utils.Response
// @Router /api/exchanges/{match_id}/complete [post]
func (ec *ExchangeController) CompleteExchange(c *gin.Context) {
	summary, err := ec.exchangeService.CompleteExchange(c.Request.Context(), c.Param("match_id"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "交换已完成", summary)
}

// GetExchange 交换详情
// @Summary 交换详情
// @Tags exchanges
// @Security BearerAuth
// @Produce json
// @Param match_id path string true "匹配ID"
// @Success 200 {object} utils.Response
// @Router /api/exchanges/{match_id} [get]
func (ec *ExchangeController) GetExchange(c *gin.Context) {
	info, err := ec.exchangeService.GetExchangeInfo(c.Request.Context(), c.Param("match_id"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, info)
}
