package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inventory-agent/internal/domain"
	"inventory-agent/internal/inquiry"
)

const defaultCallTimeout = 10 * time.Second

// InventoryStore is the read side of the inventory database.
type InventoryStore interface {
	EarliestMovement(ctx context.Context, product string) (time.Time, bool, error)
	Run(ctx context.Context, op domain.RetrievalOp) (domain.Result, error)
}

// Mailer delivers replies.
type Mailer interface {
	Send(ctx context.Context, reply domain.Reply) error
}

// ProjectionInferer asks a generative model for projection SQL. Optional.
type ProjectionInferer interface {
	InferProjectionSQL(ctx context.Context, product string, days int) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ProcessService runs one inventory request from subject line to sent reply.
type ProcessService struct {
	store       InventoryStore
	mailer      Mailer
	log         *slog.Logger
	builder     inquiry.Builder
	clock       func() time.Time
	callTimeout time.Duration
	inferer     ProjectionInferer
}

type ProcessInput struct {
	MessageID string
	Sender    string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

type ProcessOutput struct {
	To            string
	Subject       string
	Body          string
	Kind          domain.Kind
	EffectiveDays int
}

type Option func(*ProcessService)

// WithClock replaces the wall clock used for date cutoffs and ages.
func WithClock(clock func() time.Time) Option {
	return func(s *ProcessService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCallTimeout bounds every store and mail call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *ProcessService) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithProjectionInferer enables model-generated projection queries.
func WithProjectionInferer(inf ProjectionInferer) Option {
	return func(s *ProcessService) {
		s.inferer = inf
	}
}

func NewProcessService(store InventoryStore, mailer Mailer, log *slog.Logger, opts ...Option) (*ProcessService, error) {
	if store == nil {
		return nil, errors.New("usecase: inventory store must not be nil")
	}
	if mailer == nil {
		return nil, errors.New("usecase: mailer must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	s := &ProcessService{
		store:       store,
		mailer:      mailer,
		log:         log,
		clock:       time.Now,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.builder = inquiry.Builder{Clock: s.clock}
	return s, nil
}

// Process parses the subject, queries the store, formats the answer and
// mails it back to the sender. Failures are *Error values.
func (s *ProcessService) Process(ctx context.Context, in ProcessInput) (ProcessOutput, error) {
	out, err := s.process(ctx, in)
	log := s.log.With("message_id", in.MessageID, "subject", in.Subject)
	if err != nil {
		var uerr *Error
		if errors.As(err, &uerr) {
			level := slog.LevelError
			if uerr.Code == ErrorMalformedSubject || uerr.Code == ErrorInvalidInput {
				level = slog.LevelWarn
			}
			log.Log(ctx, level, "inventory request failed",
				"code", uerr.Code, "reason", uerr.Reason, "stage", uerr.Stage, "err", uerr.Err)
		}
		return ProcessOutput{}, err
	}
	log.Info("inventory reply sent", "to", out.To, "kind", out.Kind.String(), "effective_days", out.EffectiveDays)
	return out, nil
}

func (s *ProcessService) process(ctx context.Context, in ProcessInput) (ProcessOutput, error) {
	sender := strings.TrimSpace(in.Sender)
	if sender == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "empty_sender", StageReceived, nil)
	}

	q, err := inquiry.ParseSubject(in.Subject)
	if err != nil {
		uerr := newError(ErrorMalformedSubject, "malformed_subject", StageReceived, err)
		var subjErr *inquiry.SubjectError
		if errors.As(err, &subjErr) {
			uerr.Reason = subjErr.Reason
			uerr.Detail = subjErr.Message
		}
		return ProcessOutput{}, uerr
	}

	avail, err := s.resolveAvailability(ctx, q.Product)
	if err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "store_availability_error", StageParsed, err)
	}

	out := ProcessOutput{
		To:      sender,
		Subject: "Re: " + in.Subject,
		Kind:    q.Kind,
	}
	if !avail.HasRecords {
		out.Body = inquiry.NoRecordsBody(q.Product)
	} else {
		rng := inquiry.AdjustRange(q.RequestedDays, avail.AgeDays)
		out.EffectiveDays = rng.Days

		res, err := s.query(ctx, q, rng.Days)
		if err != nil {
			return ProcessOutput{}, newError(ErrorInternal, "store_query_error", StageRangeChecked, err)
		}
		out.Body, err = inquiry.Format(inquiry.FormatInput{
			Product:       q.Product,
			Result:        res,
			RequestedDays: q.RequestedDays,
			EffectiveDays: rng.Days,
			Advisory:      rng.Advisory,
		})
		if err != nil {
			return ProcessOutput{}, newError(ErrorInternal, "format_error", StageQueried, err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	err = s.mailer.Send(sendCtx, domain.Reply{
		To:        out.To,
		Subject:   out.Subject,
		Body:      out.Body,
		ThreadID:  in.ThreadID,
		InReplyTo: in.InReplyTo,
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return ProcessOutput{}, newError(ErrorRateLimited, "mail_rate_limited", StageFormatted, err)
		}
		return ProcessOutput{}, newError(ErrorDelivery, "mail_send_error", StageFormatted, err)
	}
	return out, nil
}

// resolveAvailability asks the store for the product's oldest movement.
func (s *ProcessService) resolveAvailability(ctx context.Context, product string) (domain.Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	earliest, ok, err := s.store.EarliestMovement(ctx, product)
	if err != nil {
		return domain.Availability{}, err
	}
	if !ok {
		return domain.Availability{}, nil
	}
	return domain.Availability{HasRecords: true, AgeDays: inquiry.AgeInDays(earliest, s.clock())}, nil
}

func (s *ProcessService) query(ctx context.Context, q domain.ParsedQuery, days int) (domain.Result, error) {
	op, err := s.builder.Build(q.Product, q.Kind, days)
	if err != nil {
		return domain.Result{}, err
	}
	if q.Kind == domain.KindProjection && s.inferer != nil {
		if generated, ok := s.inferProjection(ctx, q.Product, days); ok {
			res, err := s.run(ctx, domain.RetrievalOp{Kind: op.Kind, Product: op.Product, Days: op.Days, SQL: generated})
			if err == nil && res.Kind == q.Kind {
				return res, nil
			}
			s.log.Warn("generated projection sql failed, using built-in query", "product", q.Product, "err", err)
		}
	}
	res, err := s.run(ctx, op)
	if err != nil {
		return domain.Result{}, err
	}
	if res.Kind != q.Kind {
		return domain.Result{}, errors.New("usecase: store returned " + res.Kind.String() + " rows for a " + q.Kind.String() + " query")
	}
	return res, nil
}

// run gives every store query its own deadline.
func (s *ProcessService) run(ctx context.Context, op domain.RetrievalOp) (domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.store.Run(ctx, op)
}

// inferProjection returns validated model SQL, or false to fall back to the
// built-in projection query.
func (s *ProcessService) inferProjection(ctx context.Context, product string, days int) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	raw, err := s.inferer.InferProjectionSQL(ctx, product, days)
	if err != nil {
		s.log.Warn("projection inference failed, using built-in query", "product", product, "err", err)
		return "", false
	}
	sql, err := ValidateGeneratedSQL(raw)
	if err != nil {
		s.log.Warn("rejected generated projection sql, using built-in query", "product", product, "err", err)
		return "", false
	}
	return sql, true
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
