package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crypto-temple/internal/types"
)

// DivinationEvent is one issued divination
type DivinationEvent struct {
	RecordID    string
	Address     string
	Project     types.ProjectInfo
	Result      types.DivinationResult
	Placeholder bool
	CreatedAt   time.Time
}

// Ledger is an append-only analytics sink. Writes are best effort; the
// caller logs failures and carries on.
type Ledger interface {
	RecordDivination(ctx context.Context, event DivinationEvent) error
	RecordDonation(ctx context.Context, donation types.Donation) error
}

// NoopLedger discards everything
type NoopLedger struct{}

// RecordDivination implements Ledger
func (NoopLedger) RecordDivination(context.Context, DivinationEvent) error { return nil }

// RecordDonation implements Ledger
func (NoopLedger) RecordDonation(context.Context, types.Donation) error { return nil }

// ClickHouseLedger appends events to the divination_events and
// donation_events tables
type ClickHouseLedger struct {
	db *ClickHouseDB
}

// NewClickHouseLedger creates a ledger over an open connection
func NewClickHouseLedger(db *ClickHouseDB) *ClickHouseLedger {
	return &ClickHouseLedger{db: db}
}

// RecordDivination implements Ledger
func (l *ClickHouseLedger) RecordDivination(ctx context.Context, e DivinationEvent) error {
	batch, err := l.db.Conn().PrepareBatch(ctx, `
		INSERT INTO divination_events (
			record_id, address, project_name, project_type,
			hexagram, probability, placeholder, created_at
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	var placeholder uint8
	if e.Placeholder {
		placeholder = 1
	}
	if err := batch.Append(
		e.RecordID,
		strings.ToLower(e.Address),
		e.Project.Name,
		string(e.Project.Type),
		e.Result.HexagramName,
		uint8(e.Result.Probability), // #nosec G115 - clamped to 0..100
		placeholder,
		e.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append divination: %w", err)
	}
	return batch.Send()
}

// RecordDonation implements Ledger
func (l *ClickHouseLedger) RecordDonation(ctx context.Context, d types.Donation) error {
	batch, err := l.db.Conn().PrepareBatch(ctx, `
		INSERT INTO donation_events (
			donation_id, currency, amount, tx_hash, status, created_at
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	at := d.CreatedAt
	if d.ConfirmedAt != nil {
		at = *d.ConfirmedAt
	}
	if err := batch.Append(d.ID, string(d.Currency), d.Amount, d.TxHash, string(d.Status), at.UTC()); err != nil {
		return fmt.Errorf("failed to append donation: %w", err)
	}
	return batch.Send()
}
