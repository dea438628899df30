package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"bookswap_go/config"
	"bookswap_go/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// CheckoutRequest 创建托管收银台的请求
type CheckoutRequest struct {
	ExternalReference string
	Title             string
	Amount            decimal.Decimal
	Currency          string
	Metadata          map[string]string
}

// CheckoutSession 收银台会话
type CheckoutSession struct {
	SessionID       string
	URL             string
	ProcessorStatus string
}

// GatewayUpdate 支付渠道回传的状态
type GatewayUpdate struct {
	ExternalReference  string
	SessionID          string
	ProcessorPaymentID string
	ProcessorStatus    string
	Raw                []byte
}

// CheckoutGateway 托管收银台渠道
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
	// ParseWebhook 校验签名并解析回调，不关心的事件返回 nil
	ParseWebhook(payload []byte, signature string) (*GatewayUpdate, error)
	FetchCheckout(ctx context.Context, sessionID string) (*GatewayUpdate, error)
}

// processorStatusMap 渠道状态 -> 内部支付状态
var processorStatusMap = map[string]string{
	// 成功
	"paid":                models.PaymentStatusPaid,
	"approved":            models.PaymentStatusPaid,
	"authorized":          models.PaymentStatusPaid,
	"complete":            models.PaymentStatusPaid,
	"succeeded":           models.PaymentStatusPaid,
	"no_payment_required": models.PaymentStatusPaid,
	// 处理中
	"pending":         models.PaymentStatusPending,
	"in_process":      models.PaymentStatusPending,
	"in_mediation":    models.PaymentStatusPending,
	"unpaid":          models.PaymentStatusPending,
	"open":            models.PaymentStatusPending,
	"processing":      models.PaymentStatusPending,
	"requires_action": models.PaymentStatusPending,
	// 失败
	"rejected":                models.PaymentStatusFailed,
	"failed":                  models.PaymentStatusFailed,
	"requires_payment_method": models.PaymentStatusFailed,
	// 取消
	"cancelled": models.PaymentStatusCancelled,
	"canceled":  models.PaymentStatusCancelled,
	"expired":   models.PaymentStatusCancelled,
	// 退款与争议
	"refunded":     models.PaymentStatusRefunded,
	"charged_back": models.PaymentStatusDisputed,
	"disputed":     models.PaymentStatusDisputed,
}

// MapProcessorStatus 把渠道状态映射为内部状态，未知状态返回 false
func MapProcessorStatus(processorStatus string) (string, bool) {
	status, ok := processorStatusMap[strings.ToLower(strings.TrimSpace(processorStatus))]
	return status, ok
}

// StripeGateway 基于 Stripe Checkout 的收银台
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeGateway 创建 Stripe 渠道
func NewStripeGateway(cfg *config.PaymentConfig) *StripeGateway {
	return &StripeGateway{
		client:        stripe.NewClient(cfg.StripeSecretKey),
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

func withReference(base, ref string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("external_reference", ref)
	u.RawQuery = q.Encode()
	return u.String()
}

// CreateCheckout 创建 Checkout Session，金额按最小货币单位提交
func (g *StripeGateway) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withReference(g.successURL, req.ExternalReference)),
		CancelURL:         stripe.String(withReference(g.cancelURL, req.ExternalReference)),
		ClientReferenceID: stripe.String(req.ExternalReference),
		Metadata:          req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: req.Metadata,
		},
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
				UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
			},
			Quantity: stripe.Int64(1),
		}},
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{
		SessionID:       session.ID,
		URL:             session.URL,
		ProcessorStatus: string(session.PaymentStatus),
	}, nil
}

// ParseWebhook 校验 Stripe 签名并解析 checkout.session.* 事件
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*GatewayUpdate, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: verify webhook signature: %v", ErrUnauthorized, err)
	}

	var override string
	switch string(event.Type) {
	case "checkout.session.completed":
	case "checkout.session.async_payment_succeeded":
		override = "paid"
	case "checkout.session.async_payment_failed":
		override = "failed"
	case "checkout.session.expired":
		override = "expired"
	default:
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", ErrInvalidInput, err)
	}
	update := sessionUpdate(&session)
	if override != "" {
		update.ProcessorStatus = override
	}
	update.Raw = payload
	return update, nil
}

// FetchCheckout 主动查询 Checkout Session 状态
func (g *StripeGateway) FetchCheckout(ctx context.Context, sessionID string) (*GatewayUpdate, error) {
	session, err := g.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return sessionUpdate(session), nil
}

func sessionUpdate(session *stripe.CheckoutSession) *GatewayUpdate {
	update := &GatewayUpdate{
		ExternalReference: session.ClientReferenceID,
		SessionID:         session.ID,
		ProcessorStatus:   string(session.PaymentStatus),
	}
	if session.Status == stripe.CheckoutSessionStatusExpired {
		update.ProcessorStatus = "expired"
	}
	if session.PaymentIntent != nil {
		update.ProcessorPaymentID = session.PaymentIntent.ID
	}
	return update
}
