package config

import "time"

// PaymentConfig 支付配置
type PaymentConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	SuccessURL          string
	CancelURL           string
	Timeout             time.Duration
	ReconcileDelay      time.Duration
	ReconcileMaxRetry   int
}

// GetPaymentConfig 获取支付配置
func GetPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		StripeSecretKey:     GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            GetEnv("PAYMENT_CURRENCY", "cny"),
		SuccessURL:          GetEnv("PAYMENT_SUCCESS_URL", "http://localhost:5173/payments/return"),
		CancelURL:           GetEnv("PAYMENT_CANCEL_URL", "http://localhost:5173/payments/cancelled"),
		Timeout:             GetEnvDuration("PAYMENT_TIMEOUT", 5*time.Second),
		ReconcileDelay:      GetEnvDuration("PAYMENT_RECONCILE_DELAY", 10*time.Minute),
		ReconcileMaxRetry:   GetEnvInt("PAYMENT_RECONCILE_MAX_RETRY", 6),
	}
}
