package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// Scanner defaults
const (
	DefaultInterval  = 10 * time.Second
	DefaultFreshness = 24 * time.Hour
)

// VerificationTitle is the title of every verification notification
const VerificationTitle = "大加密寺 · 验证之时"

// VerificationBody renders the body of a verification notification
func VerificationBody(projectName string) string {
	return fmt.Sprintf("施主，您关注的项目【%s】交易吉时已过，卦象灵验否？", projectName)
}

// HistoryUpdater applies a read-modify-write to the history collection.
// fn reports whether it changed anything; unchanged collections are not
// saved.
type HistoryUpdater interface {
	Update(ctx context.Context, fn func([]types.HistoryRecord) ([]types.HistoryRecord, bool)) error
}

// ScannerMetrics counts delivered notifications
type ScannerMetrics interface {
	IncNotifications(kind string)
}

type noopScannerMetrics struct{}

func (noopScannerMetrics) IncNotifications(string) {}

// ScannerConfig configures a Scanner
type ScannerConfig struct {
	// Enabled is the notification permission. Records still become
	// notified while it is off; only delivery is skipped.
	Enabled   bool
	Interval  time.Duration
	Freshness time.Duration
	Now       func() time.Time
	Metrics   ScannerMetrics
}

// Scanner periodically looks for records whose trade time has just passed.
// A record is due when it is not yet notified, its trigger time has been
// reached and it is less than the freshness window old. Due records are
// marked notified exactly once; records first seen after the window are
// left alone forever.
type Scanner struct {
	history   HistoryUpdater
	publisher Publisher
	interval  time.Duration
	freshness time.Duration
	now       func() time.Time
	metrics   ScannerMetrics
	enabled   atomic.Bool
	logger    *logging.Logger

	mu      sync.Mutex
	pending *types.HistoryRecord
	cron    *cron.Cron
}

// NewScanner creates a scanner. publisher may be nil.
func NewScanner(history HistoryUpdater, publisher Publisher, cfg ScannerConfig) *Scanner {
	if publisher == nil {
		publisher = NewLogPublisher()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopScannerMetrics{}
	}
	s := &Scanner{
		history:   history,
		publisher: publisher,
		interval:  cfg.Interval,
		freshness: cfg.Freshness,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
		logger:    logging.WithComponent("scanner"),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// SetEnabled grants or revokes the notification permission
func (s *Scanner) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports the notification permission
func (s *Scanner) Enabled() bool {
	return s.enabled.Load()
}

// Due reports whether r should be notified at now
func Due(r types.HistoryRecord, now time.Time, freshness time.Duration) bool {
	if r.IsNotified {
		return false
	}
	trigger := r.TriggerTime()
	return !now.Before(trigger) && now.Sub(trigger) < freshness
}

// Tick runs one scan. It returns the records that became notified.
func (s *Scanner) Tick(ctx context.Context) ([]types.HistoryRecord, error) {
	now := s.now()

	var due []types.HistoryRecord
	err := s.history.Update(ctx, func(records []types.HistoryRecord) ([]types.HistoryRecord, bool) {
		for i := range records {
			if !Due(records[i], now, s.freshness) {
				continue
			}
			records[i].IsNotified = true
			due = append(due, records[i])
		}
		return records, len(due) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.pending == nil {
		first := due[0]
		s.pending = &first
	}
	s.mu.Unlock()

	if !s.Enabled() {
		s.logger.WithField("count", len(due)).Info("Notifications not permitted, marking records without delivery")
		return due, nil
	}

	for _, r := range due {
		n := types.Notification{
			Kind:     types.NotificationVerification,
			Title:    VerificationTitle,
			Body:     VerificationBody(r.Project.Name),
			RecordID: r.ID,
			SentAt:   now,
		}
		if err := s.publisher.Publish(ctx, n); err != nil {
			s.logger.WithError(err).WithField("record", r.ID).Warn("Failed to deliver verification notification")
			continue
		}
		s.metrics.IncNotifications(n.Kind)
	}
	return due, nil
}

// Start runs a scan immediately and then on every interval until Stop.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return fmt.Errorf("scanner already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.WithError(err).Warn("Scan failed")
		}
	}))
	s.cron = c
	s.mu.Unlock()

	if _, err := s.Tick(ctx); err != nil {
		s.logger.WithError(err).Warn("Initial scan failed")
	}
	c.Start()

	s.logger.Infof("Verification scanner started (every %s)", s.interval)
	return nil
}

// Stop halts the schedule and waits for a running scan to finish
func (s *Scanner) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Verification scanner stopped")
}

// Pending returns the record awaiting the user's verdict
func (s *Scanner) Pending() (types.HistoryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return types.HistoryRecord{}, false
	}
	return *s.pending, true
}

// Dismiss closes the pending prompt without a verdict
func (s *Scanner) Dismiss() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Resolve clears the pending prompt if it belongs to id
func (s *Scanner) Resolve(id string) {
	s.mu.Lock()
	if s.pending != nil && s.pending.ID == id {
		s.pending = nil
	}
	s.mu.Unlock()
}

// cronLogger routes cron's own messages to the structured log
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
