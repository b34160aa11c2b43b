package service

import (
	"context"
	"math"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/llm"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

// DefaultDivinationDelay is the pause before a request is sent
const DefaultDivinationDelay = 2 * time.Second

// Divination outcomes reported to metrics
const (
	OutcomeOracle      = "oracle"
	OutcomePlaceholder = "placeholder"
)

// PlaceholderResult is returned whenever the oracle cannot produce a
// usable answer.
func PlaceholderResult() types.DivinationResult {
	return types.DivinationResult{
		HexagramName: "混沌卦",
		Probability:  50,
		Summary:      "天机晦涩，稍后再试",
		Analysis:     "(系统提示) 财神殿信号受到 Web3 波动干扰（JSON解析错误）。贫道建议施主检查网络，或重新点击焚香。此为随机演示结果。",
		Advice:       "静心等待，刷新页面再试。",
		FiveElements: types.FiveElements{Gold: 20, Wood: 20, Water: 20, Fire: 20, Earth: 20},
	}
}

// DivinationMetrics counts issued divinations by outcome
type DivinationMetrics interface {
	IncDivinations(outcome string)
}

type noopDivinationMetrics struct{}

func (noopDivinationMetrics) IncDivinations(string) {}

// DivinationService turns a wallet and a project into a reading, records
// it in history and appends it to the ledger.
type DivinationService struct {
	wallets SnapshotFetcher
	oracle  llm.Completer
	history *HistoryService
	ledger  storage.Ledger
	metrics DivinationMetrics
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *logging.Logger
}

// DivinationOption customizes a DivinationService
type DivinationOption func(*DivinationService)

// WithDivinationDelay overrides the pre-request pause
func WithDivinationDelay(d time.Duration) DivinationOption {
	return func(s *DivinationService) { s.delay = d }
}

// WithDivinationClock sets the clock used to validate target times
func WithDivinationClock(now func() time.Time) DivinationOption {
	return func(s *DivinationService) { s.now = now }
}

// WithSleeper replaces the context-aware sleep used for the delay
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) DivinationOption {
	return func(s *DivinationService) { s.sleep = sleep }
}

// WithLedger sets the analytics ledger
func WithLedger(l storage.Ledger) DivinationOption {
	return func(s *DivinationService) { s.ledger = l }
}

// WithDivinationMetrics sets the outcome counter
func WithDivinationMetrics(m DivinationMetrics) DivinationOption {
	return func(s *DivinationService) { s.metrics = m }
}

// NewDivinationService creates a divination service. oracle may be nil, in
// which case every reading is the placeholder.
func NewDivinationService(wallets SnapshotFetcher, oracle llm.Completer, history *HistoryService, opts ...DivinationOption) *DivinationService {
	s := &DivinationService{
		wallets: wallets,
		oracle:  oracle,
		history: history,
		ledger:  storage.NoopLedger{},
		metrics: noopDivinationMetrics{},
		delay:   DefaultDivinationDelay,
		sleep:   sleepContext,
		now:     time.Now,
		logger:  logging.WithComponent("divination"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateProject checks a project form before anything external is
// called. The target time may not lie before the current minute.
func ValidateProject(project types.ProjectInfo, now time.Time) error {
	if strings.TrimSpace(project.Name) == "" {
		return apperrors.NewInvalidProjectError("name", "must not be blank")
	}
	if !project.Type.IsValid() {
		return apperrors.NewInvalidProjectError("type", "unknown project category")
	}
	if project.TransactionTime.IsZero() {
		return apperrors.NewInvalidProjectError("transactionTime", "is required")
	}
	if project.TransactionTime.Before(now.Truncate(time.Minute)) {
		return apperrors.NewInvalidProjectError("transactionTime", "must not be in the past")
	}
	return nil
}

// Divine validates the project, reads the wallet, consults the oracle and
// persists the reading. Oracle failures never surface: the placeholder is
// recorded instead.
func (s *DivinationService) Divine(ctx context.Context, address string, project types.ProjectInfo) (*types.HistoryRecord, error) {
	if err := ValidateProject(project, s.now()); err != nil {
		return nil, err
	}
	project.Name = strings.TrimSpace(project.Name)

	wallet, err := s.wallets.Snapshot(ctx, address)
	if err != nil {
		return nil, err
	}

	result, placeholder, err := s.Consult(ctx, wallet, project)
	if err != nil {
		return nil, err
	}

	record, err := s.history.Record(ctx, project, result)
	if err != nil {
		return nil, err
	}

	event := storage.DivinationEvent{
		RecordID:    record.ID,
		Address:     wallet.Address,
		Project:     project,
		Result:      result,
		Placeholder: placeholder,
		CreatedAt:   time.UnixMilli(record.Timestamp).UTC(),
	}
	if err := s.ledger.RecordDivination(ctx, event); err != nil {
		s.logger.WithError(err).WithField("id", record.ID).Warn("Failed to append divination to ledger")
	}
	return record, nil
}

// Consult waits the configured delay and asks the oracle. The boolean
// reports whether the placeholder was returned. The only error is a
// cancelled context.
func (s *DivinationService) Consult(ctx context.Context, wallet *types.WalletSnapshot, project types.ProjectInfo) (types.DivinationResult, bool, error) {
	if err := s.sleep(ctx, s.delay); err != nil {
		return types.DivinationResult{}, false, err
	}

	if s.oracle == nil {
		s.logger.Warn("No oracle configured, using placeholder")
		s.metrics.IncDivinations(OutcomePlaceholder)
		return PlaceholderResult(), true, nil
	}

	log := s.logger.WithFields(map[string]interface{}{
		"provider": s.oracle.Name(),
		"project":  project.Name,
	})

	reply, err := s.oracle.Complete(ctx, SystemPrompt, BuildPrompt(wallet, project))
	if err != nil {
		if ctx.Err() != nil {
			return types.DivinationResult{}, false, ctx.Err()
		}
		log.WithError(err).Warn("Oracle request failed, using placeholder")
		s.metrics.IncDivinations(OutcomePlaceholder)
		return PlaceholderResult(), true, nil
	}

	result, err := ParseResult(reply)
	if err != nil {
		log.WithError(err).Warn("Oracle reply unusable, using placeholder")
		s.metrics.IncDivinations(OutcomePlaceholder)
		return PlaceholderResult(), true, nil
	}

	log.WithField("hexagram", result.HexagramName).Info("Divination received")
	s.metrics.IncDivinations(OutcomeOracle)
	return result, false, nil
}

type rawResult struct {
	HexagramName string             `json:"hexagramName"`
	Probability  float64            `json:"probability"`
	Summary      string             `json:"summary"`
	Analysis     string             `json:"analysis"`
	Advice       string             `json:"advice"`
	FiveElements types.FiveElements `json:"fiveElements"`
}

// ParseResult extracts the JSON object from a model reply. Fractional
// probabilities are rounded and the value is clamped to 0..100.
func ParseResult(reply string) (types.DivinationResult, error) {
	content, err := llm.ExtractJSON(reply)
	if err != nil {
		return types.DivinationResult{}, err
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return types.DivinationResult{}, err
	}

	p := int(math.Round(raw.Probability))
	return types.DivinationResult{
		HexagramName: raw.HexagramName,
		Probability:  min(max(p, 0), 100),
		Summary:      raw.Summary,
		Analysis:     raw.Analysis,
		Advice:       raw.Advice,
		FiveElements: raw.FiveElements,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
