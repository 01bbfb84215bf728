// Package poller drives the request pipeline from a mailbox: it fetches
// unseen messages, claims each one in a durable seen-set before processing
// it, and slows down when the mail provider or the pipeline keeps failing.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"inventory-agent/internal/domain"
	"inventory-agent/internal/inquiry"
	"inventory-agent/internal/rate"
	"inventory-agent/internal/usecase"
)

type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error)
	MarkProcessed(ctx context.Context, id string) error
}

// SeenSet records message identities that have been claimed. MarkSeen
// reports false when another caller claimed the id first.
type SeenSet interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) (bool, error)
}

type Processor interface {
	Process(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
}

type Config struct {
	Interval         time.Duration
	MaxInterval      time.Duration
	FailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = 10 * c.Interval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	return c
}

// Stats summarizes one scan of the mailbox.
type Stats struct {
	Fetched     int
	Skipped     int
	Processed   int
	Failed      int
	RateLimited bool
}

type Poller struct {
	mailbox Mailbox
	seen    SeenSet
	proc    Processor
	log     *slog.Logger
	cfg     Config

	backoff  rate.Backoff
	failures int
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(mailbox Mailbox, seen SeenSet, proc Processor, log *slog.Logger, cfg Config) (*Poller, error) {
	if mailbox == nil {
		return nil, errors.New("poller: mailbox must not be nil")
	}
	if seen == nil {
		return nil, errors.New("poller: seen-set must not be nil")
	}
	if proc == nil {
		return nil, errors.New("poller: processor must not be nil")
	}
	if log == nil {
		return nil, errors.New("poller: logger must not be nil")
	}
	cfg = cfg.withDefaults()
	return &Poller{
		mailbox: mailbox,
		seen:    seen,
		proc:    proc,
		log:     log,
		cfg:     cfg,
		backoff: rate.Backoff{Base: cfg.Interval, Max: cfg.MaxInterval},
		sleep:   sleepContext,
	}, nil
}

// Run polls until ctx is canceled. A message already handed to the pipeline
// is allowed to finish; no new scan starts after cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started", "interval", p.cfg.Interval, "max_interval", p.cfg.MaxInterval)
	for {
		if ctx.Err() != nil {
			break
		}
		stats, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error("mailbox scan failed", "err", err)
		}
		delay := p.nextDelay(stats, err)
		if delay > p.cfg.Interval {
			p.log.Warn("backing off", "delay", delay, "consecutive_failures", p.failures, "rate_limited", stats.RateLimited)
		}
		if err := p.sleep(ctx, delay); err != nil {
			break
		}
	}
	p.log.Info("poller stopped")
	return nil
}

// PollOnce scans the mailbox once and processes every new request.
func (p *Poller) PollOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	msgs, err := p.mailbox.FetchUnseen(ctx)
	if err != nil {
		stats.RateLimited = isRateLimited(err)
		return stats, fmt.Errorf("poller: fetch unseen: %w", err)
	}
	stats.Fetched = len(msgs)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		id := Identity(msg)
		log := p.log.With("message_id", id, "subject", msg.Subject)

		claimed, err := p.claim(ctx, id)
		if err != nil {
			log.Error("seen-set unavailable", "err", err)
			return stats, fmt.Errorf("poller: claim %s: %w", id, err)
		}
		// in-flight work survives shutdown
		runCtx := context.WithoutCancel(ctx)
		if !claimed {
			stats.Skipped++
			p.markProcessed(runCtx, log, msg, &stats)
			continue
		}
		if !inquiry.HasRequestPrefix(msg.Subject) {
			log.Debug("ignoring message without request prefix")
			stats.Skipped++
			p.markProcessed(runCtx, log, msg, &stats)
			continue
		}

		_, err = p.proc.Process(runCtx, usecase.ProcessInput{
			MessageID: id,
			Sender:    msg.From,
			Subject:   msg.Subject,
			Body:      msg.Body,
			ThreadID:  msg.ThreadID,
			InReplyTo: msg.MessageID,
		})
		if err != nil {
			stats.Failed++
			if isSystemFailure(err) {
				p.failures++
			}
			if isRateLimited(err) {
				stats.RateLimited = true
			}
			log.Warn("request not answered", "err", err)
		} else {
			stats.Processed++
			p.failures = 0
		}
		p.markProcessed(runCtx, log, msg, &stats)
	}
	return stats, nil
}

// markProcessed takes msg out of the provider's unread query. Messages
// without a transport id have nothing to mark.
func (p *Poller) markProcessed(ctx context.Context, log *slog.Logger, msg domain.InboundMessage, stats *Stats) {
	if msg.ID == "" {
		return
	}
	if err := p.mailbox.MarkProcessed(ctx, msg.ID); err != nil {
		log.Warn("mark processed failed", "err", err)
		if isRateLimited(err) {
			stats.RateLimited = true
		}
	}
}

// claim marks id as seen unless it already is.
func (p *Poller) claim(ctx context.Context, id string) (bool, error) {
	seen, err := p.seen.Seen(ctx, id)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	return p.seen.MarkSeen(ctx, id)
}

func (p *Poller) nextDelay(stats Stats, scanErr error) time.Duration {
	if scanErr != nil && !stats.RateLimited {
		p.failures++
	}
	if stats.RateLimited || p.failures >= p.cfg.FailureThreshold {
		return p.backoff.Next()
	}
	if stats.Processed > 0 {
		p.backoff.Reset()
	}
	return p.backoff.Current()
}

// Identity is the seen-set key for msg: the transport id when present, then
// the Message-ID header, and otherwise a name-based UUID over sender,
// subject and a digest of the body.
func Identity(msg domain.InboundMessage) string {
	if msg.ID != "" {
		return msg.ID
	}
	if msg.MessageID != "" {
		return msg.MessageID
	}
	sum := sha256.Sum256([]byte(msg.Body))
	key := msg.From + "|" + msg.Subject + "|" + hex.EncodeToString(sum[:])
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func isRateLimited(err error) bool {
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		return uerr.Code == usecase.ErrorRateLimited
	}
	var coder interface{ HTTPStatusCode() int }
	return errors.As(err, &coder) && coder.HTTPStatusCode() == http.StatusTooManyRequests
}

// isSystemFailure reports whether err says something about the health of the
// store or the mail provider. A badly written request does not.
func isSystemFailure(err error) bool {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return true
	}
	switch uerr.Code {
	case usecase.ErrorMalformedSubject, usecase.ErrorInvalidInput:
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
