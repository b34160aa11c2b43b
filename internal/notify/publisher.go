// Package notify delivers user-facing notifications and runs the scanner
// that raises verification prompts once a divined trade time has passed.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// Publisher delivers a notification to one channel
type Publisher interface {
	Publish(ctx context.Context, n types.Notification) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, n types.Notification) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, n types.Notification) error {
	return f(ctx, n)
}

// LogPublisher writes notifications to the structured log
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a log publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logging.WithComponent("notify")}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, n types.Notification) error {
	p.logger.WithFields(map[string]interface{}{
		"kind":   n.Kind,
		"title":  n.Title,
		"record": n.RecordID,
	}).Info(n.Body)
	return nil
}

// MultiPublisher fans a notification out to every publisher. A failing
// channel does not stop the others; the joined error is returned.
type MultiPublisher struct {
	publishers []Publisher
	logger     *logging.Logger
}

// NewMultiPublisher creates a fan-out publisher. nil entries are skipped.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{logger: logging.WithComponent("notify")}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish implements Publisher
func (m *MultiPublisher) Publish(ctx context.Context, n types.Notification) error {
	var errs []error
	for i, p := range m.publishers {
		if err := p.Publish(ctx, n); err != nil {
			m.logger.WithError(err).WithField("publisher", fmt.Sprintf("%T", p)).Warn("Notification delivery failed")
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of configured publishers
func (m *MultiPublisher) Len() int {
	return len(m.publishers)
}
