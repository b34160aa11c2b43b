package api

import (
	"context"
	"sync"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/service"
	"github.com/crypto-temple/internal/types"
)

type mockWalletService struct {
	SnapshotFunc func(ctx context.Context, address string) (*types.WalletSnapshot, error)
}

func (m *mockWalletService) Snapshot(ctx context.Context, address string) (*types.WalletSnapshot, error) {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx, address)
	}
	return &types.WalletSnapshot{Address: address}, nil
}

type mockSessionService struct {
	ConnectFunc    func(address string) (service.Session, error)
	SwitchFunc     func(id, address string) (service.Session, error)
	DisconnectFunc func(id string) error
	GetFunc        func(id string) (service.Session, error)
}

func (m *mockSessionService) Connect(address string) (service.Session, error) {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(address)
	}
	return service.Session{ID: "s-1", Address: address, State: service.SessionLoading}, nil
}

func (m *mockSessionService) Switch(id, address string) (service.Session, error) {
	if m.SwitchFunc != nil {
		return m.SwitchFunc(id, address)
	}
	return service.Session{ID: id, Address: address, State: service.SessionLoading}, nil
}

func (m *mockSessionService) Disconnect(id string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(id)
	}
	return nil
}

func (m *mockSessionService) Get(id string) (service.Session, error) {
	if m.GetFunc != nil {
		return m.GetFunc(id)
	}
	return service.Session{}, apperrors.NewNotFoundError("session", id)
}

type mockDivinationService struct {
	DivineFunc func(ctx context.Context, address string, project types.ProjectInfo) (*types.HistoryRecord, error)
}

func (m *mockDivinationService) Divine(ctx context.Context, address string, project types.ProjectInfo) (*types.HistoryRecord, error) {
	if m.DivineFunc != nil {
		return m.DivineFunc(ctx, address, project)
	}
	return &types.HistoryRecord{ID: "1", Project: project, Result: service.PlaceholderResult()}, nil
}

type mockHistoryService struct {
	ListFunc     func(ctx context.Context) ([]types.HistoryRecord, error)
	FeedbackFunc func(ctx context.Context, id string, verdict types.Feedback) (*types.HistoryRecord, error)
}

func (m *mockHistoryService) List(ctx context.Context) ([]types.HistoryRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *mockHistoryService) Feedback(ctx context.Context, id string, verdict types.Feedback) (*types.HistoryRecord, error) {
	if m.FeedbackFunc != nil {
		return m.FeedbackFunc(ctx, id, verdict)
	}
	return &types.HistoryRecord{ID: id, Feedback: verdict}, nil
}

type mockNotificationService struct {
	mu        sync.Mutex
	pending   *types.HistoryRecord
	enabled   bool
	dismissed int
	resolved  []string
}

func (m *mockNotificationService) Pending() (types.HistoryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return types.HistoryRecord{}, false
	}
	return *m.pending, true
}

func (m *mockNotificationService) Dismiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.dismissed++
}

func (m *mockNotificationService) Resolve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, id)
	if m.pending != nil && m.pending.ID == id {
		m.pending = nil
	}
}

func (m *mockNotificationService) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *mockNotificationService) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

type mockPaymentService struct {
	DonateFunc func(ctx context.Context, currency types.Currency, amount string) (*types.Donation, error)
	GetFunc    func(id string) (*types.Donation, error)
	status     service.PaymentStatus
}

func (m *mockPaymentService) Donate(ctx context.Context, currency types.Currency, amount string) (*types.Donation, error) {
	if m.DonateFunc != nil {
		return m.DonateFunc(ctx, currency, amount)
	}
	return &types.Donation{ID: "d-1", Currency: currency, Amount: amount, Status: types.DonationPending}, nil
}

func (m *mockPaymentService) Get(id string) (*types.Donation, error) {
	if m.GetFunc != nil {
		return m.GetFunc(id)
	}
	return nil, apperrors.NewNotFoundError("donation", id)
}

func (m *mockPaymentService) Status() service.PaymentStatus {
	return m.status
}
