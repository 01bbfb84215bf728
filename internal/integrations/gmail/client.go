package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"

	"inventory-agent/internal/domain"
	"inventory-agent/internal/rate"
)

const (
	user                    = "me"
	labelUnread             = "UNREAD"
	defaultQuery            = `is:unread subject:"consulta inventario"`
	defaultPageSize         = 25
	defaultFetchConcurrency = 4
)

// Client is the mail collaborator on the Gmail API. It lists one page of
// unread inventory requests, sends replies and clears the UNREAD label.
type Client struct {
	svc         *gmailapi.Service
	limiter     rate.Limiter
	log         *slog.Logger
	query       string
	pageSize    int64
	concurrency int
	from        string
}

type Option func(*Client)

func WithLimiter(l rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithQuery overrides the Gmail search used to find requests.
func WithQuery(q string) Option {
	return func(c *Client) {
		if q = strings.TrimSpace(q); q != "" {
			c.query = q
		}
	}
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = int64(n)
		}
	}
}

func WithFetchConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithSender sets the From header on outgoing replies. Gmail fills in the
// authenticated address when it is empty.
func WithSender(addr string) Option {
	return func(c *Client) {
		c.from = strings.TrimSpace(addr)
	}
}

func NewClient(svc *gmailapi.Service, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, errors.New("gmail: service must not be nil")
	}
	c := &Client{
		svc:         svc,
		limiter:     rate.Unlimited{},
		log:         slog.Default(),
		query:       defaultQuery,
		pageSize:    defaultPageSize,
		concurrency: defaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchUnseen returns the first page of unread messages matching the query,
// oldest first. Message bodies are fetched concurrently.
func (c *Client) FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	list, err := c.svc.Users.Messages.List(user).Q(c.query).MaxResults(c.pageSize).Context(ctx).Do()
	if err != nil {
		return nil, classify("list messages", err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	out := make([]domain.InboundMessage, len(list.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range list.Messages {
		i, ref := i, ref
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			msg, err := c.svc.Users.Messages.Get(user, ref.Id).Format("full").Context(gctx).Do()
			if err != nil {
				return classify("get message "+ref.Id, err)
			}
			out[i] = toInbound(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// the API lists newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkProcessed removes the UNREAD label so the message leaves the query.
func (c *Client) MarkProcessed(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.svc.Users.Messages.Modify(user, id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{labelUnread},
	}).Context(ctx).Do()
	return classify("mark processed "+id, err)
}

func toInbound(msg *gmailapi.Message) domain.InboundMessage {
	in := domain.InboundMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}
	if msg.InternalDate > 0 {
		in.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return in
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			in.From = senderAddress(h.Value)
		case "subject":
			in.Subject = h.Value
		case "message-id":
			in.MessageID = h.Value
		}
	}
	in.Body = plainText(msg.Payload)
	return in
}

// senderAddress returns the bare address of a From header, or the header
// itself when it does not parse.
func senderAddress(raw string) string {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}

// plainText returns the first text/plain part, depth first.
func plainText(part *gmailapi.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		if text, err := decodeBody(part.Body.Data); err == nil {
			return text
		}
	}
	for _, child := range part.Parts {
		if text := plainText(child); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", fmt.Errorf("gmail: decode body: %w", err)
	}
	return string(raw), nil
}
