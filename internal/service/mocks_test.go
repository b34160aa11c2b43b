package service

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crypto-temple/internal/adapter"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

const (
	testAddress  = "0xe5b8988c90ca60d5f2a913cb3bd35a781ae7f242"
	otherAddress = "0x00000000219ab540356cbb839cbe05303d7705fa"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func etherWei(units int64, exp int32) *big.Int {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18+exp)), nil)
	return wei.Mul(wei, big.NewInt(units))
}

// Mock chain reader

type mockChain struct {
	balance  *big.Int
	nonce    uint64
	err      error
	balances atomic.Int32
}

func (m *mockChain) BalanceAt(_ context.Context, _ string) (*big.Int, error) {
	m.balances.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return new(big.Int).Set(m.balance), nil
}

func (m *mockChain) NonceAt(_ context.Context, _ string) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.nonce, nil
}

// Mock first transaction lookup

type mockFirstTx struct {
	result adapter.FirstTx
	err    error
}

func (m *mockFirstTx) FirstTransaction(_ context.Context, _ string) (adapter.FirstTx, error) {
	return m.result, m.err
}

func firstTxOn(date string) *mockFirstTx {
	ts, _ := time.Parse("2006-01-02", date)
	return &mockFirstTx{result: adapter.FirstTx{Timestamp: ts, Source: "etherscan"}}
}

func fixedPnL(status types.PnLStatus) PnLOracle {
	return PnLOracleFunc(func(context.Context, string) types.PnLStatus { return status })
}

// gatedFetcher blocks every snapshot until its address gate is opened and
// ignores cancellation, so late results can be delivered on purpose.

type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls atomic.Int32
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan struct{})}
}

func (f *gatedFetcher) gate(address string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[address]
	if !ok {
		g = make(chan struct{})
		f.gates[address] = g
	}
	return g
}

func (f *gatedFetcher) Release(address string) {
	close(f.gate(address))
}

func (f *gatedFetcher) Snapshot(_ context.Context, address string) (*types.WalletSnapshot, error) {
	f.calls.Add(1)
	<-f.gate(address)
	return &types.WalletSnapshot{Address: address, Balance: "1.0000 ETH"}, nil
}

// staticFetcher returns the same snapshot for every address

type staticFetcher struct {
	err   error
	calls atomic.Int32
}

func (f *staticFetcher) Snapshot(_ context.Context, address string) (*types.WalletSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.WalletSnapshot{
		Address:          address,
		FirstTxDate:      "2021-05-04",
		WalletAge:        "3年28天",
		Balance:          "1.2345 ETH",
		TransactionCount: 42,
		PnLStatus:        types.PnLProfit,
		CyberBazi:        "辛丑年 · 农历5月 · 链上降世",
		ElementalBase:    types.FiveElements{Gold: 18, Wood: 23, Water: 25, Fire: 20, Earth: 15},
	}, nil
}

// Mock completer

type mockCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (m *mockCompleter) Complete(_ context.Context, system, user string) (string, error) {
	m.calls++
	m.system, m.user = system, user
	return m.reply, m.err
}

func (m *mockCompleter) Name() string { return "mock" }

// Mock history store

type failingHistoryStore struct {
	loadErr error
	saveErr error
}

func (s *failingHistoryStore) Load(context.Context) ([]types.HistoryRecord, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return []types.HistoryRecord{}, nil
}

func (s *failingHistoryStore) Save(context.Context, []types.HistoryRecord) error {
	return s.saveErr
}

// Recording ledger

type recordingLedger struct {
	mu          sync.Mutex
	divinations []storage.DivinationEvent
	donations   []types.Donation
	err         error
}

func (l *recordingLedger) RecordDivination(_ context.Context, e storage.DivinationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.divinations = append(l.divinations, e)
	return l.err
}

func (l *recordingLedger) RecordDonation(_ context.Context, d types.Donation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.donations = append(l.donations, d)
	return l.err
}

func (l *recordingLedger) Donations() []types.Donation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Donation(nil), l.donations...)
}

// Mock wallet

type nativeCall struct {
	to  string
	wei *big.Int
}

type tokenCall struct {
	token  string
	to     string
	amount *big.Int
}

type mockWallet struct {
	mu         sync.Mutex
	native     []nativeCall
	tokens     []tokenCall
	sendErr    error
	receiptOK  bool
	receiptErr error
	gate       chan struct{}
}

func (w *mockWallet) SendNative(_ context.Context, to string, wei *big.Int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.native = append(w.native, nativeCall{to: to, wei: wei})
	return "0x" + strings.Repeat("ab", 32), nil
}

func (w *mockWallet) TransferToken(_ context.Context, token, to string, amount *big.Int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.tokens = append(w.tokens, tokenCall{token: token, to: to, amount: amount})
	return "0x" + strings.Repeat("cd", 32), nil
}

func (w *mockWallet) WaitReceipt(ctx context.Context, _ string) (bool, error) {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return w.receiptOK, w.receiptErr
}

func (w *mockWallet) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.native) + len(w.tokens)
}

// Recording publisher

type recordingPublisher struct {
	mu   sync.Mutex
	sent []types.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n types.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) Sent() []types.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Notification(nil), p.sent...)
}
