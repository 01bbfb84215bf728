package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"

	"inventory-agent/internal/domain"
)

// Send delivers reply as a plain text message, threaded onto the request
// when ThreadID and InReplyTo are known.
func (c *Client) Send(ctx context.Context, reply domain.Reply) error {
	raw, err := c.buildRaw(reply)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = c.svc.Users.Messages.Send(user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}).Context(ctx).Do()
	return classify("send", err)
}

func (c *Client) buildRaw(reply domain.Reply) ([]byte, error) {
	to := strings.TrimSpace(reply.To)
	if to == "" {
		return nil, errors.New("gmail: reply recipient must not be empty")
	}
	if strings.ContainsAny(to+reply.Subject+reply.InReplyTo, "\r\n") {
		return nil, errors.New("gmail: header values must not contain line breaks")
	}

	var b bytes.Buffer
	header := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	if c.from != "" {
		header("From", c.from)
	}
	header("To", to)
	header("Subject", mime.BEncoding.Encode("utf-8", reply.Subject))
	if reply.InReplyTo != "" {
		header("In-Reply-To", reply.InReplyTo)
		header("References", reply.InReplyTo)
	}
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(reply.Body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes(), nil
}
