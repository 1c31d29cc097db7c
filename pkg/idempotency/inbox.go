// Package idempotency implements a postgres-backed consumer inbox. A
// redelivered pathway event maps to the key of its first delivery, so the
// handler side effect runs once no matter how often the broker retries.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of one inbox record.
type Status string

const (
	// StatusStarted marks a claim taken by a live handler.
	StatusStarted Status = "STARTED"
	// StatusFinished marks a completed side effect; the stored result is
	// replayed to duplicates.
	StatusFinished Status = "FINISHED"
	// StatusRecoverable marks a claim abandoned by a crashed consumer.
	StatusRecoverable Status = "RECOVERABLE"
	// StatusFailed marks a terminal handler error; never reprocessed.
	StatusFailed Status = "FAILED"
)

// InboxEntry is one processed-message record.
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// InboxConfig tunes retention and crash recovery.
type InboxConfig struct {
	// DefaultTTL bounds how long a record guards against redelivery.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired records are purged.
	CleanupInterval time.Duration
	// RecoveryTimeout is the age at which a STARTED claim counts as stale.
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig covers broker retention of a week.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox coordinates exactly-once handler execution through postgres.
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox. Call StartCleanup to begin purging expired
// records and Stop on shutdown.
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ErrDuplicateMessage reports a key already claimed and finished.
var ErrDuplicateMessage = errors.New("duplicate message: already processed")

// ErrMessageInProgress reports a live claim held by another consumer.
var ErrMessageInProgress = errors.New("message in progress by another handler")

// ProcessResult describes how a message was handled.
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is an idempotent handler body.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn at most once for the given key. A finished key returns
// the stored result without invoking fn; a stale claim is recovered and
// reprocessed; a terminal handler error parks the key as FAILED.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.lookup(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("inbox lookup: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("message previously failed permanently: %s", key)

		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrMessageInProgress
			}
			// The claim holder is presumed dead; take over.
			if err := i.setStatus(ctx, key, StatusRecoverable, nil); err != nil {
				return nil, fmt.Errorf("recover stale claim: %w", err)
			}

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.claim(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if isTerminalError(handlerErr) {
			status = StatusFailed
		}
		detail, _ := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err := i.setStatus(ctx, key, status, detail); err != nil {
			i.logger.Error("record handler failure", zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	// The side effect happened; a failed status write must not undo that.
	if err := i.setStatus(ctx, key, StatusFinished, result); err != nil {
		i.logger.Error("record handler success", zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status != StatusStarted,
		Result:       result,
	}, nil
}

// GenerateKey derives the idempotency key for a consumed record. Topic,
// partition and offset identify a record for the lifetime of the broker,
// so redeliveries collapse onto one key.
func GenerateKey(topic string, partition int32, offset int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", topic, partition, offset)))
	return hex.EncodeToString(sum[:])
}

func (i *Inbox) lookup(ctx context.Context, key string) (*InboxEntry, error) {
	entry := &InboxEntry{}
	err := i.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result,
		       created_at, updated_at, expires_at
		FROM consumer_inbox
		WHERE idempotency_key = $1`, key,
	).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt,
		&entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// claim inserts a STARTED record, or takes over an existing RECOVERABLE
// one. Any other conflict means a concurrent consumer won the race.
func (i *Inbox) claim(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	var returned string
	err := i.pool.QueryRow(ctx, `
		INSERT INTO consumer_inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE consumer_inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key`,
		key, handlerName, StatusStarted, payload, time.Now().Add(i.config.DefaultTTL),
	).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("claim inbox key: %w", err)
	}
	return nil
}

func (i *Inbox) setStatus(ctx context.Context, key string, status Status, result json.RawMessage) error {
	_, err := i.pool.Exec(ctx, `
		UPDATE consumer_inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3`,
		status, result, key)
	return err
}

// StartCleanup launches the retention sweep goroutine.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop halts the cleanup goroutine and waits for it to exit.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.sweepExpired(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) sweepExpired(ctx context.Context) error {
	tag, err := i.pool.Exec(ctx, `
		DELETE FROM consumer_inbox
		WHERE expires_at < NOW()
		   OR (status = 'FINISHED' AND updated_at < NOW() - INTERVAL '7 days')`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", tag.RowsAffected()))
	}
	return nil
}

// RecoverStaleEntries releases claims held by consumers that died without
// reporting. Run once at startup before consuming.
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE consumer_inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - $1::interval`,
		i.config.RecoveryTimeout.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// isTerminalError reports whether retrying could ever succeed. Malformed
// or rejected payloads park as FAILED instead of spinning.
func isTerminalError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"validation", "invalid", "not found", "unauthorized", "forbidden"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// InboxStats summarizes record counts per status.
type InboxStats struct {
	TotalEntries int64
	Started      int64
	Finished     int64
	Recoverable  int64
	Failed       int64
}

// GetStats reports current inbox occupancy.
func (i *Inbox) GetStats(ctx context.Context) (*InboxStats, error) {
	stats := &InboxStats{}
	err := i.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'STARTED'),
		       COUNT(*) FILTER (WHERE status = 'FINISHED'),
		       COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
		       COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM consumer_inbox`,
	).Scan(&stats.TotalEntries, &stats.Started, &stats.Finished,
		&stats.Recoverable, &stats.Failed)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
