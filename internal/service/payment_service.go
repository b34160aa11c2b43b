package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crypto-temple/internal/adapter"
	"github.com/crypto-temple/internal/config"
	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/notify"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

// DonationSuccessMessage is shown when a donation is mined
const DonationSuccessMessage = "功德已入账，愿施主财源广进！"

const nativeDecimals = 18

// PaymentMetrics counts settled donations
type PaymentMetrics interface {
	IncDonations(currency, status string)
}

type noopPaymentMetrics struct{}

func (noopPaymentMetrics) IncDonations(string, string) {}

// PaymentStatus reports whether a donation is in flight
type PaymentStatus struct {
	Paying  bool            `json:"paying"`
	Current *types.Donation `json:"current,omitempty"`
}

// PaymentService sends donations to the temple receiver. Only one
// donation is in flight at a time: from the moment it is requested until
// its receipt is settled. There is no retry; a rejected send returns the
// service to idle.
type PaymentService struct {
	wallet         adapter.Wallet
	receiver       string
	tokens         map[types.Currency]string
	tokenDecimals  int32
	receiptTimeout time.Duration
	publisher      notify.Publisher
	ledger         storage.Ledger
	metrics        PaymentMetrics
	now            func() time.Time
	logger         *logging.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu        sync.Mutex
	paying    bool
	current   string
	donations map[string]*types.Donation
	wg        sync.WaitGroup
}

// PaymentOption customizes a PaymentService
type PaymentOption func(*PaymentService)

// WithPaymentLedger sets the analytics ledger
func WithPaymentLedger(l storage.Ledger) PaymentOption {
	return func(s *PaymentService) { s.ledger = l }
}

// WithPaymentMetrics sets the donation counter
func WithPaymentMetrics(m PaymentMetrics) PaymentOption {
	return func(s *PaymentService) { s.metrics = m }
}

// WithPaymentClock sets the clock used for donation timestamps
func WithPaymentClock(now func() time.Time) PaymentOption {
	return func(s *PaymentService) { s.now = now }
}

// NewPaymentService creates a payment service. wallet may be nil when no
// signer is configured; donations then fail as unavailable.
func NewPaymentService(wallet adapter.Wallet, cfg config.PaymentConfig, publisher notify.Publisher, opts ...PaymentOption) *PaymentService {
	if publisher == nil {
		publisher = notify.NewLogPublisher()
	}
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &PaymentService{
		baseCtx:  baseCtx,
		stop:     stop,
		wallet:   wallet,
		receiver: cfg.Receiver,
		tokens: map[types.Currency]string{
			types.CurrencyUSDT: cfg.USDTAddress,
			types.CurrencyUSDC: cfg.USDCAddress,
		},
		tokenDecimals:  int32(cfg.TokenDecimals), // #nosec G115 - validated config
		receiptTimeout: timeout,
		publisher:      publisher,
		ledger:         storage.NoopLedger{},
		metrics:        noopPaymentMetrics{},
		now:            time.Now,
		donations:      make(map[string]*types.Donation),
		logger:         logging.WithComponent("payments"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseAmount validates a donation amount for currency and returns it in
// base units (wei for ETH).
func (s *PaymentService) ParseAmount(currency types.Currency, amount string) (decimal.Decimal, error) {
	decimals, ok := s.decimalsOf(currency)
	if !ok {
		return decimal.Zero, apperrors.NewInvalidParameterError("currency", "must be ETH, USDT or USDC")
	}

	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, apperrors.NewInvalidAmountError(amount, "not a number")
	}
	if !d.IsPositive() {
		return decimal.Zero, apperrors.NewInvalidAmountError(amount, "must be greater than zero")
	}
	if !d.Equal(d.Truncate(decimals)) {
		return decimal.Zero, apperrors.NewInvalidAmountError(amount, "too many decimal places")
	}
	return d.Shift(decimals), nil
}

func (s *PaymentService) decimalsOf(currency types.Currency) (int32, bool) {
	switch currency {
	case types.CurrencyETH:
		return nativeDecimals, true
	case types.CurrencyUSDT, types.CurrencyUSDC:
		return s.tokenDecimals, true
	default:
		return 0, false
	}
}

// Donate validates the request, sends it through the wallet and starts
// watching for the receipt. The returned donation is pending.
func (s *PaymentService) Donate(ctx context.Context, currency types.Currency, amount string) (*types.Donation, error) {
	currency = types.Currency(strings.ToUpper(strings.TrimSpace(string(currency))))
	base, err := s.ParseAmount(currency, amount)
	if err != nil {
		return nil, err
	}
	if s.wallet == nil {
		return nil, apperrors.NewServiceUnavailableError("wallet")
	}

	s.mu.Lock()
	if s.paying {
		s.mu.Unlock()
		conflict := apperrors.NewConflictError("a donation is already in flight")
		conflict.Code = "PAYMENT_IN_FLIGHT"
		return nil, conflict
	}
	s.paying = true
	s.mu.Unlock()

	var hash string
	if currency == types.CurrencyETH {
		hash, err = s.wallet.SendNative(ctx, s.receiver, base.BigInt())
	} else {
		hash, err = s.wallet.TransferToken(ctx, s.tokens[currency], s.receiver, base.BigInt())
	}
	if err != nil {
		s.mu.Lock()
		s.paying = false
		s.mu.Unlock()
		s.logger.WithError(err).WithField("currency", string(currency)).Warn("Donation rejected")
		return nil, apperrors.NewWalletError("donation", err)
	}

	donation := &types.Donation{
		ID:        uuid.NewString(),
		Currency:  currency,
		Amount:    strings.TrimSpace(amount),
		To:        s.receiver,
		TxHash:    hash,
		Status:    types.DonationPending,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.donations[donation.ID] = donation
	s.current = donation.ID
	snapshot := *donation
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"id":       donation.ID,
		"currency": string(currency),
		"amount":   donation.Amount,
		"tx":       hash,
	}).Info("Donation sent")

	s.wg.Add(1)
	go s.watch(donation.ID, hash)
	return &snapshot, nil
}

func (s *PaymentService) watch(id, hash string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.receiptTimeout)
	defer cancel()

	ok, err := s.wallet.WaitReceipt(ctx, hash)
	if err != nil {
		s.logger.WithError(err).WithField("tx", hash).Warn("Donation receipt not confirmed")
	}

	s.mu.Lock()
	d := s.donations[id]
	if ok && err == nil {
		confirmed := s.now().UTC()
		d.Status = types.DonationConfirmed
		d.ConfirmedAt = &confirmed
	} else {
		d.Status = types.DonationFailed
	}
	settled := *d
	s.paying = false
	s.current = ""
	s.mu.Unlock()

	s.metrics.IncDonations(string(settled.Currency), string(settled.Status))

	if settled.Status == types.DonationConfirmed {
		n := types.Notification{
			Kind:   types.NotificationDonation,
			Title:  "大加密寺",
			Body:   DonationSuccessMessage,
			SentAt: s.now().UTC(),
		}
		if err := s.publisher.Publish(context.Background(), n); err != nil {
			s.logger.WithError(err).Warn("Failed to publish donation notification")
		}
	}

	if err := s.ledger.RecordDonation(context.Background(), settled); err != nil {
		s.logger.WithError(err).WithField("id", id).Warn("Failed to append donation to ledger")
	}
}

// Get returns a donation by id
func (s *PaymentService) Get(id string) (*types.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.donations[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("donation", id)
	}
	c := *d
	return &c, nil
}

// Status reports the in-flight donation, if any
func (s *PaymentService) Status() PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := PaymentStatus{Paying: s.paying}
	if d, ok := s.donations[s.current]; ok {
		c := *d
		status.Current = &c
	}
	return status
}

// Close stops receipt watchers and waits for them. Donations still
// pending are marked failed.
func (s *PaymentService) Close() {
	s.stop()
	s.wg.Wait()
}
