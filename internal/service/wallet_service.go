package service

import (
	"context"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/crypto-temple/internal/adapter"
	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/fortune"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

// Wallet tag labels
const (
	TagWhale    = "大户"
	TagBeggar   = "丐帮"
	TagGrinder  = "肝帝"
	TagAncient  = "上古巨鲸"
	TagVeteran  = "DeFi老兵"
	TagNewcomer = "鲜嫩韭菜"
	TagCore     = "Web3中坚"
)

var (
	whaleThreshold  = decimal.NewFromInt(10)
	beggarThreshold = decimal.RequireFromString("0.01")
)

const grinderThreshold = 1000

// PnLOracle decides the profit/loss label of a wallet. No real PnL is
// computed anywhere; the label is decorative.
type PnLOracle interface {
	Status(ctx context.Context, address string) types.PnLStatus
}

// PnLOracleFunc adapts a function to PnLOracle
type PnLOracleFunc func(ctx context.Context, address string) types.PnLStatus

// Status implements PnLOracle
func (f PnLOracleFunc) Status(ctx context.Context, address string) types.PnLStatus {
	return f(ctx, address)
}

// CoinFlipPnL labels a wallet profit or loss with equal odds
var CoinFlipPnL PnLOracle = PnLOracleFunc(func(context.Context, string) types.PnLStatus {
	if rand.Float64() > 0.5 { // #nosec G404 - decorative label
		return types.PnLProfit
	}
	return types.PnLLoss
})

// SnapshotFetcher returns the snapshot of an address
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, address string) (*types.WalletSnapshot, error)
}

// WalletService builds wallet snapshots from chain and explorer data
type WalletService struct {
	chain   adapter.ChainReader
	firstTx adapter.FirstTxLookup
	cache   storage.SnapshotCache
	pnl     PnLOracle
	now     func() time.Time
	logger  *logging.Logger
}

// WalletOption customizes a WalletService
type WalletOption func(*WalletService)

// WithWalletClock sets the clock used for ages and new-account dates
func WithWalletClock(now func() time.Time) WalletOption {
	return func(s *WalletService) { s.now = now }
}

// WithPnLOracle replaces the default coin flip
func WithPnLOracle(o PnLOracle) WalletOption {
	return func(s *WalletService) { s.pnl = o }
}

// NewWalletService creates a wallet service. cache may be nil.
func NewWalletService(chain adapter.ChainReader, firstTx adapter.FirstTxLookup, cache storage.SnapshotCache, opts ...WalletOption) *WalletService {
	s := &WalletService{
		chain:   chain,
		firstTx: firstTx,
		cache:   cache,
		pnl:     CoinFlipPnL,
		now:     time.Now,
		logger:  logging.WithComponent("wallet_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a fresh cached snapshot or fetches a new one. Chain
// failures never surface as errors: they produce the degraded snapshot,
// which is not cached. Only an invalid address or a cancelled context is
// returned as an error.
func (s *WalletService) Snapshot(ctx context.Context, address string) (*types.WalletSnapshot, error) {
	if !adapter.ValidateAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, address)
		if err != nil {
			s.logger.WithError(err).WithField("address", address).Warn("Snapshot cache read failed")
		}
		if ok {
			s.logger.WithField("address", address).Debug("Using cached snapshot")
			return cached, nil
		}
	}

	snapshot, err := s.fetch(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WithError(err).WithField("address", address).Warn("Wallet fetch failed, returning degraded snapshot")
		return DegradedSnapshot(address, s.now()), nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			s.logger.WithError(err).WithField("address", address).Warn("Snapshot cache write failed")
		}
	}
	return snapshot, nil
}

func (s *WalletService) fetch(ctx context.Context, address string) (*types.WalletSnapshot, error) {
	var (
		wei   *big.Int
		nonce uint64
		first adapter.FirstTx
		found bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wei, err = s.chain.BalanceAt(gctx, address)
		return err
	})
	g.Go(func() error {
		var err error
		nonce, err = s.chain.NonceAt(gctx, address)
		return err
	})
	if s.firstTx != nil {
		g.Go(func() error {
			result, err := s.firstTx.FirstTransaction(gctx, address)
			if err != nil {
				// an unknown date is not a failure of the snapshot
				s.logger.WithError(err).WithField("address", address).Debug("First transaction unknown")
				return nil
			}
			first, found = result, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	ether := decimal.NewFromBigInt(wei, -18).Round(4)

	// Age and bazi come from the raw lookup result, so a new account gets
	// sentinels while its displayed date is today.
	rawDate := types.UnknownValue
	displayDate := types.UnknownValue
	switch {
	case found && first.NewAccount:
		rawDate = "新晋账号"
		displayDate = fortune.FormatDate(now)
	case found:
		rawDate = fortune.FormatDate(first.Timestamp)
		displayDate = rawDate
	}

	return &types.WalletSnapshot{
		Address:          address,
		FirstTxDate:      displayDate,
		WalletAge:        fortune.WalletAge(rawDate, now),
		Balance:          ether.StringFixed(4) + " ETH",
		TransactionCount: nonce,
		PnLStatus:        s.pnl.Status(ctx, address),
		Tags:             Tags(ether, nonce, rawDate),
		CyberBazi:        fortune.CyberBazi(rawDate),
		ElementalBase:    fortune.Elements(address),
		FetchedAt:        now,
	}, nil
}

// Tags labels a wallet from its balance (ether, already rounded to four
// places), its nonce and its first transaction date.
func Tags(ether decimal.Decimal, nonce uint64, firstTxDate string) []string {
	tags := []string{}
	switch {
	case ether.GreaterThan(whaleThreshold):
		tags = append(tags, TagWhale)
	case ether.LessThan(beggarThreshold):
		tags = append(tags, TagBeggar)
	}
	if nonce > grinderThreshold {
		tags = append(tags, TagGrinder)
	}

	if fortune.IsKnownDate(firstTxDate) {
		t, err := time.Parse("2006-01-02", firstTxDate[:min(len(firstTxDate), 10)])
		if err == nil {
			switch year := t.Year(); {
			case year <= 2017:
				tags = append(tags, TagAncient)
			case year <= 2020:
				tags = append(tags, TagVeteran)
			case year >= 2024:
				tags = append(tags, TagNewcomer)
			default:
				tags = append(tags, TagCore)
			}
		}
	}
	return tags
}

// DegradedSnapshot is returned when the chain cannot be read. The element
// profile is still derived from the address.
func DegradedSnapshot(address string, now time.Time) *types.WalletSnapshot {
	return &types.WalletSnapshot{
		Address:          address,
		FirstTxDate:      types.UnknownValue,
		WalletAge:        types.UnknownValue,
		Balance:          types.BalanceLoading,
		TransactionCount: 0,
		PnLStatus:        types.PnLChaos,
		Tags:             []string{types.TagUnstable},
		CyberBazi:        types.UndetectableBazi,
		ElementalBase:    fortune.Elements(address),
		FetchedAt:        now,
		Degraded:         true,
	}
}
