package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookswap_go/config"
	"bookswap_go/logger"
	"bookswap_go/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TaskPaymentReconcile = "payment:reconcile"
	PaymentQueue         = "payments"
)

// TaskEnqueuer 异步任务投递（asynq.Client 实现）
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PaymentPreference 创建收银台后的返回
type PaymentPreference struct {
	PaymentID         string `json:"payment_id"`
	ExternalReference string `json:"external_reference"`
	CheckoutURL       string `json:"checkout_url"`
	SessionID         string `json:"session_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
}

// RedirectStatus 前端轮询使用的支付状态
type RedirectStatus struct {
	PaymentID        string `json:"payment_id"`
	Status           string `json:"status"`
	ReadyForRedirect bool   `json:"ready_for_redirect"`
	RedirectPath     string `json:"redirect_path,omitempty"`
	PublishedBookID  string `json:"published_book_id"`
}

type reconcilePayload struct {
	PaymentID string `json:"payment_id"`
}

// PaymentService 支付流程：创建收银台、处理回调、状态映射、生成交易
type PaymentService struct {
	db       *gorm.DB
	gateway  CheckoutGateway
	enqueuer TaskEnqueuer
	events   *EventPublisher
	cfg      *config.PaymentConfig
	now      func() time.Time
}

// NewPaymentService 创建支付服务实例，enqueuer 可以为 nil
func NewPaymentService(db *gorm.DB, gateway CheckoutGateway, enqueuer TaskEnqueuer, events *EventPublisher, cfg *config.PaymentConfig) *PaymentService {
	if cfg == nil {
		cfg = config.GetPaymentConfig()
	}
	return &PaymentService{
		db:       db,
		gateway:  gateway,
		enqueuer: enqueuer,
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BuildExternalReference 生成外部订单号：发布、买家、时间戳
func BuildExternalReference(publishedBookID, buyerID string, at time.Time) string {
	return fmt.Sprintf("pb_%s.u_%s.t_%d", publishedBookID, buyerID, at.UnixNano())
}

// ParseExternalReference 解析外部订单号
func ParseExternalReference(ref string) (publishedBookID, buyerID string, at time.Time, err error) {
	parts := strings.Split(ref, ".")
	if len(parts) != 3 ||
		!strings.HasPrefix(parts[0], "pb_") ||
		!strings.HasPrefix(parts[1], "u_") ||
		!strings.HasPrefix(parts[2], "t_") {
		return "", "", time.Time{}, fmt.Errorf("%w: malformed external reference %q", ErrInvalidInput, ref)
	}
	nanos, err := strconv.ParseInt(strings.TrimPrefix(parts[2], "t_"), 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: malformed external reference timestamp", ErrInvalidInput)
	}
	return strings.TrimPrefix(parts[0], "pb_"), strings.TrimPrefix(parts[1], "u_"), time.Unix(0, nanos).UTC(), nil
}

// CreatePreference 为出售类发布创建托管收银台，先落库再调用渠道
func (s *PaymentService) CreatePreference(ctx context.Context, publishedBookID, buyerID string) (*PaymentPreference, error) {
	db := s.db.WithContext(ctx)

	// 1. 校验发布
	var listing models.PublishedBook
	if err := db.Preload("Book").First(&listing, "id = ?", publishedBookID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: published book %s", ErrNotFound, publishedBookID)
		}
		return nil, fmt.Errorf("load published book: %w", err)
	}
	if listing.TransactionType != models.TransactionTypeSale {
		return nil, fmt.Errorf("%w: published book is not for sale", ErrInvalidInput)
	}
	if listing.UserID == buyerID {
		return nil, fmt.Errorf("%w: cannot buy your own book", ErrInvalidInput)
	}
	if listing.Status != models.ListingStatusAvailable {
		return nil, fmt.Errorf("%w: published book is %s", ErrConflict, listing.Status)
	}
	if !listing.Price.Valid || !listing.Price.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: published book has no valid price", ErrInvalidInput)
	}

	// 2. 先持久化待支付记录
	payment := &models.Payment{
		PublishedBookID:   listing.ID,
		BuyerID:           buyerID,
		SellerID:          listing.UserID,
		Amount:            listing.Price.Decimal,
		Currency:          s.cfg.Currency,
		ExternalReference: BuildExternalReference(listing.ID, buyerID, s.now()),
		Status:            models.PaymentStatusPending,
	}
	if err := db.Create(payment).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	// 3. 调用渠道，固定超时
	gatewayCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	session, err := s.gateway.CreateCheckout(gatewayCtx, &CheckoutRequest{
		ExternalReference: payment.ExternalReference,
		Title:             listing.Title(),
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Metadata: map[string]string{
			"payment_id":        payment.ID,
			"published_book_id": listing.ID,
			"buyer_id":          buyerID,
		},
	})
	if err != nil {
		logger.L().Error("create checkout failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
		if updErr := db.Model(payment).Update("status", models.PaymentStatusFailed).Error; updErr != nil {
			logger.L().Error("mark payment failed", zap.String("payment_id", payment.ID), zap.Error(updErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	if err := db.Model(payment).Updates(map[string]interface{}{
		"processor_session_id": session.SessionID,
		"checkout_url":         session.URL,
		"processor_status":     session.ProcessorStatus,
	}).Error; err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}

	s.scheduleReconcile(ctx, payment.ID)

	return &PaymentPreference{
		PaymentID:         payment.ID,
		ExternalReference: payment.ExternalReference,
		CheckoutURL:       session.URL,
		SessionID:         session.SessionID,
		Amount:            payment.Amount.StringFixed(2),
		Currency:          payment.Currency,
	}, nil
}

func (s *PaymentService) scheduleReconcile(ctx context.Context, paymentID string) {
	if s.enqueuer == nil {
		return
	}
	payload, _ := json.Marshal(reconcilePayload{PaymentID: paymentID})
	task := asynq.NewTask(TaskPaymentReconcile, payload, asynq.MaxRetry(s.cfg.ReconcileMaxRetry))
	if _, err := s.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(PaymentQueue),
		asynq.ProcessIn(s.cfg.ReconcileDelay),
	); err != nil {
		logger.L().Warn("enqueue payment reconcile failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// HandleWebhook 处理渠道回调
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	update, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if update == nil {
		return nil
	}
	_, err = s.ApplyProcessorStatus(ctx, update)
	if errors.Is(err, ErrNotFound) {
		// 不是本系统创建的会话，确认收到即可
		logger.L().Warn("webhook for unknown payment",
			zap.String("external_reference", update.ExternalReference),
			zap.String("session_id", update.SessionID))
		return nil
	}
	return err
}

// HandleReturn 浏览器回跳时主动查询渠道状态（回调丢失时的兜底）
func (s *PaymentService) HandleReturn(ctx context.Context, externalReference string) (*models.Payment, error) {
	payment, err := s.findPayment(s.db.WithContext(ctx), externalReference, "")
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, payment)
}

func (s *PaymentService) refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.IsFinal() || payment.ProcessorSessionID == "" {
		return payment, nil
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	update, err := s.gateway.FetchCheckout(gatewayCtx, payment.ProcessorSessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if update.ExternalReference == "" {
		update.ExternalReference = payment.ExternalReference
	}
	return s.ApplyProcessorStatus(ctx, update)
}

// paymentTransitions 允许的支付状态流转
var paymentTransitions = map[string][]string{
	models.PaymentStatusPending:   {models.PaymentStatusPaid, models.PaymentStatusFailed, models.PaymentStatusCancelled},
	models.PaymentStatusFailed:    {models.PaymentStatusPaid},
	models.PaymentStatusCancelled: {models.PaymentStatusPaid},
	models.PaymentStatusPaid:      {models.PaymentStatusRefunded, models.PaymentStatusDisputed},
	models.PaymentStatusDisputed:  {models.PaymentStatusPaid, models.PaymentStatusRefunded},
}

func canTransitionPayment(from, to string) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyProcessorStatus 应用渠道状态；首次进入 paid 时生成交易并把书标记为已售，重复回调无副作用
func (s *PaymentService) ApplyProcessorStatus(ctx context.Context, update *GatewayUpdate) (*models.Payment, error) {
	internal, known := MapProcessorStatus(update.ProcessorStatus)

	var (
		payment  *models.Payment
		previous string
		changed  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.findPayment(tx, update.ExternalReference, update.SessionID)
		if err != nil {
			return err
		}
		previous = payment.Status

		fields := map[string]interface{}{"processor_status": update.ProcessorStatus}
		if update.ProcessorPaymentID != "" {
			fields["processor_payment_id"] = update.ProcessorPaymentID
		}
		if len(update.Raw) > 0 && json.Valid(update.Raw) {
			fields["raw_event"] = datatypes.JSON(update.Raw)
		}

		if !known {
			logger.L().Warn("unknown processor status",
				zap.String("payment_id", payment.ID), zap.String("processor_status", update.ProcessorStatus))
		} else if internal != payment.Status && canTransitionPayment(payment.Status, internal) {
			fields["status"] = internal
			changed = true
			if internal == models.PaymentStatusPaid {
				fields["paid_at"] = s.now()
			}
		}

		if err := tx.Model(payment).Updates(fields).Error; err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if !changed {
			return nil
		}
		payment.Status = internal
		if err := s.applySideEffects(tx, payment, previous); err != nil {
			return err
		}
		changed = payment.Status != previous
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.L().Info("payment status changed",
			zap.String("payment_id", payment.ID),
			zap.String("from", previous),
			zap.String("to", payment.Status))
		s.events.Publish(ctx, StreamPaymentEvents, "payment.status_changed", map[string]interface{}{
			"payment_id":        payment.ID,
			"published_book_id": payment.PublishedBookID,
			"from":              previous,
			"to":                payment.Status,
		})
		s.events.Notify(ctx, "payment_status", map[string]interface{}{
			"payment_id": payment.ID,
			"status":     payment.Status,
		}, payment.BuyerID, payment.SellerID)
		if payment.Status == models.PaymentStatusPaid {
			s.events.ListingsChanged(ctx, models.ListingStatusSold, payment.PublishedBookID)
		}
	}
	return payment, nil
}

// applySideEffects 支付状态变化后的交易与发布更新
func (s *PaymentService) applySideEffects(tx *gorm.DB, payment *models.Payment, previous string) error {
	switch payment.Status {
	case models.PaymentStatusPaid:
		if previous == models.PaymentStatusDisputed {
			var existing int64
			if err := tx.Model(&models.Transaction{}).Where("payment_id = ?", payment.ID).Count(&existing).Error; err != nil {
				return fmt.Errorf("check transaction: %w", err)
			}
			if existing > 0 {
				return s.setTransactionStatus(tx, payment.ID, models.TransactionStatusConfirmed)
			}
		}
		return s.settlePaid(tx, payment)
	case models.PaymentStatusRefunded:
		return s.setTransactionStatus(tx, payment.ID, models.TransactionStatusCancelled)
	case models.PaymentStatusDisputed:
		return s.setTransactionStatus(tx, payment.ID, models.TransactionStatusDisputed)
	}
	return nil
}

// settlePaid 把发布从可售改为已售并生成交易；发布已被别的支付买走或已下架时，
// 该支付转为 disputed 等待人工退款，不生成交易
func (s *PaymentService) settlePaid(tx *gorm.DB, payment *models.Payment) error {
	res := tx.Model(&models.PublishedBook{}).
		Where("id = ? AND status IN ?", payment.PublishedBookID,
			[]string{models.ListingStatusAvailable, models.ListingStatusReserved}).
		Update("status", models.ListingStatusSold)
	if res.Error != nil {
		return fmt.Errorf("mark book sold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logger.L().Warn("paid payment for unavailable book, needs refund",
			zap.String("payment_id", payment.ID),
			zap.String("published_book_id", payment.PublishedBookID),
			zap.String("buyer_id", payment.BuyerID))
		if err := tx.Model(payment).Update("status", models.PaymentStatusDisputed).Error; err != nil {
			return fmt.Errorf("mark payment disputed: %w", err)
		}
		payment.Status = models.PaymentStatusDisputed
		return nil
	}

	// 交易双方自动确认
	transaction := &models.Transaction{
		PaymentID:       payment.ID,
		PublishedBookID: payment.PublishedBookID,
		BuyerID:         payment.BuyerID,
		SellerID:        payment.SellerID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          models.TransactionStatusConfirmed,
		BuyerConfirmed:  true,
		SellerConfirmed: true,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(transaction).Error
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (s *PaymentService) setTransactionStatus(tx *gorm.DB, paymentID, status string) error {
	err := tx.Model(&models.Transaction{}).
		Where("payment_id = ? AND status NOT IN ?", paymentID, []string{models.TransactionStatusCompleted, status}).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	return nil
}

func (s *PaymentService) findPayment(db *gorm.DB, externalReference, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	var err error
	switch {
	case externalReference != "":
		err = db.Where("external_reference = ?", externalReference).First(&payment).Error
	case sessionID != "":
		err = db.Where("processor_session_id = ?", sessionID).First(&payment).Error
	default:
		return nil, fmt.Errorf("%w: payment reference missing", ErrInvalidInput)
	}
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: payment", ErrNotFound)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return &payment, nil
}

// GetRedirectStatus 读取持久化的支付状态供前端轮询
func (s *PaymentService) GetRedirectStatus(ctx context.Context, paymentID, userID string) (*RedirectStatus, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if !payment.HasParty(userID) {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}

	status := &RedirectStatus{
		PaymentID:        payment.ID,
		Status:           payment.Status,
		ReadyForRedirect: payment.IsFinal(),
		PublishedBookID:  payment.PublishedBookID,
	}
	switch payment.Status {
	case models.PaymentStatusPaid:
		status.RedirectPath = "/payments/success?payment_id=" + payment.ID
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		status.RedirectPath = "/payments/failure?payment_id=" + payment.ID
	case models.PaymentStatusRefunded, models.PaymentStatusDisputed:
		status.RedirectPath = "/payments/" + payment.ID
	}
	return status, nil
}

// GetUserPayments 用户作为买家或卖家的支付记录
func (s *PaymentService) GetUserPayments(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Preload("PublishedBook.Book").
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// RegisterTasks 注册支付相关的异步任务
func (s *PaymentService) RegisterTasks(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskPaymentReconcile, s.HandleReconcileTask)
}

// HandleReconcileTask 对仍在待支付的记录主动查询渠道；仍未完成时返回错误让 asynq 重试
func (s *PaymentService) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var p reconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", p.PaymentID).Error; err != nil {
		if isNotFound(err) {
			return fmt.Errorf("payment %s not found: %w", p.PaymentID, asynq.SkipRetry)
		}
		return err
	}

	updated, err := s.refresh(ctx, &payment)
	if err != nil {
		return err
	}
	if !updated.IsFinal() {
		return fmt.Errorf("payment %s still pending", payment.ID)
	}
	return nil
}
