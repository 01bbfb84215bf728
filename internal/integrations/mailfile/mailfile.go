// Package mailfile simulates a mailbox on local files: requests are read
// from a JSON array and replies are appended to a JSON-lines log.
package mailfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"inventory-agent/internal/domain"
)

type inboxEntry struct {
	ID         string    `json:"id,omitempty"`
	ThreadID   string    `json:"thread_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

type outboxEntry struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	ThreadID  string    `json:"thread_id,omitempty"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

type Mailbox struct {
	inboxPath  string
	outboxPath string
	log        *slog.Logger
	now        func() time.Time

	mu sync.Mutex
}

func New(inboxPath, outboxPath string, log *slog.Logger) (*Mailbox, error) {
	if inboxPath == "" {
		return nil, errors.New("mailfile: inbox path must not be empty")
	}
	if outboxPath == "" {
		return nil, errors.New("mailfile: outbox path must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mailbox{inboxPath: inboxPath, outboxPath: outboxPath, log: log, now: time.Now}, nil
}

// FetchUnseen returns every message in the inbox file. A missing inbox is an
// empty mailbox. Entries are returned as stored; deduplication is the
// caller's job.
func (m *Mailbox) FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(m.inboxPath)
	if errors.Is(err, fs.ErrNotExist) {
		m.log.Warn("inbox file not found", "path", m.inboxPath)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailfile: read inbox: %w", err)
	}

	var entries []inboxEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("mailfile: decode inbox %s: %w", m.inboxPath, err)
	}
	out := make([]domain.InboundMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.InboundMessage{
			ID:         e.ID,
			ThreadID:   e.ThreadID,
			MessageID:  e.MessageID,
			From:       e.From,
			Subject:    e.Subject,
			Body:       e.Body,
			ReceivedAt: e.ReceivedAt,
		})
	}
	m.log.Info("loaded inbox", "path", m.inboxPath, "count", len(out))
	return out, nil
}

// MarkProcessed is a no-op: the inbox file is never rewritten.
func (m *Mailbox) MarkProcessed(context.Context, string) error {
	return nil
}

// Send appends reply as one JSON line to the outbox.
func (m *Mailbox) Send(ctx context.Context, reply domain.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(outboxEntry{
		To:        reply.To,
		Subject:   reply.Subject,
		Body:      reply.Body,
		ThreadID:  reply.ThreadID,
		InReplyTo: reply.InReplyTo,
		SentAt:    m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("mailfile: encode reply: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.outboxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mailfile: open outbox: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("mailfile: write outbox: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("mailfile: close outbox: %w", err)
	}
	m.log.Info("reply written to outbox", "to", reply.To, "path", m.outboxPath)
	return nil
}
