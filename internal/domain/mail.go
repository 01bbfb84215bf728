package domain

import "time"

// InboundMessage is a request message as seen by the mail transport.
// ID may be empty when the transport has no stable identifier.
type InboundMessage struct {
	ID         string
	ThreadID   string
	MessageID  string // RFC 5322 Message-ID header, used for reply threading
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Reply is an outbound answer to an InboundMessage.
type Reply struct {
	To        string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}
