package gmail

import "time"

// Attachment describes one attachment on a provider message: the declared
// filename plus the provider's opaque content id. It carries no bytes; the
// binary fetch is a separate, best-effort operation.
type Attachment struct {
	Filename string
	ID       string
}

// RawMessage is one provider-side message as fetched, immutable afterwards.
type RawMessage struct {
	ID          string
	ThreadID    string
	From        string
	ReplyTo     string // overrides From for sender-union purposes when set
	To          string
	Subject     string
	SentAt      time.Time // zero when the Date header could not be parsed
	Read        bool
	Body        string
	Attachments []Attachment
}

// Sender returns the address this message contributes to a conversation's
// sender set: the Reply-To header when present, the From header otherwise.
func (m RawMessage) Sender() string {
	if m.ReplyTo != "" {
		return m.ReplyTo
	}
	return m.From
}

// ReadFilter selects conversations by aggregate read state.
type ReadFilter string

const (
	FilterAll    ReadFilter = "all"
	FilterRead   ReadFilter = "read"
	FilterUnread ReadFilter = "unread"
)
