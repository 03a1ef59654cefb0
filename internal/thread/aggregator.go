package thread

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/teemow/mailledger/internal/gmail"
	"github.com/teemow/mailledger/internal/logging"
)

// MessageSeparator visibly delimits per-message content in a concatenated
// conversation body.
const MessageSeparator = "\n\n--- New Message in Thread ---\n\n"

// EmptyBodySentinel replaces an empty body after MIME extraction so
// downstream consumers always receive non-empty text.
const EmptyBodySentinel = "No message body available."

// Conversation is the aggregated, deduplicated view of all messages sharing
// a thread id within one fetch window. Its identity is the thread id; the
// representative MessageID is the id of the first message seen.
type Conversation struct {
	ThreadID    string             `json:"thread_id"`
	MessageID   string             `json:"message_id"`
	From        string             `json:"from"` // comma-joined sender union
	To          string             `json:"to"`   // comma-joined recipient union
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Attachments []gmail.Attachment `json:"attachments,omitempty"`
	LatestAt    time.Time          `json:"latest_at"`
	Read        bool               `json:"read"`
	Messages    int                `json:"messages"`
}

// EncodeJSON serializes the conversation verbatim for the audit column.
func (c *Conversation) EncodeJSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Aggregator folds raw messages into conversations.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator returns an Aggregator logging through the given logger.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate merges msgs, in the given fetch order, into one Conversation per
// thread id. The returned map has no defined iteration order; callers
// needing determinism use Sorted.
func (a *Aggregator) Aggregate(msgs []gmail.RawMessage) map[string]*Conversation {
	convs := make(map[string]*Conversation)
	for _, msg := range msgs {
		if err := validate(msg); err != nil {
			a.logger.Warn("skipping malformed message",
				logging.Operation("aggregate"), logging.MessageID(msg.ID), logging.Err(err))
			continue
		}

		body := msg.Body
		if body == "" {
			body = EmptyBodySentinel
		}

		existing, ok := convs[msg.ThreadID]
		if !ok {
			convs[msg.ThreadID] = &Conversation{
				ThreadID:    msg.ThreadID,
				MessageID:   msg.ID,
				From:        msg.Sender(),
				To:          msg.To,
				Subject:     msg.Subject,
				Body:        body,
				Attachments: dedupAttachments(nil, msg.Attachments),
				LatestAt:    msg.SentAt,
				Read:        msg.Read,
				Messages:    1,
			}
			continue
		}

		existing.Body += MessageSeparator + body
		existing.From = unionJoin(existing.From, msg.Sender())
		existing.To = unionJoin(existing.To, msg.To)
		existing.Attachments = dedupAttachments(existing.Attachments, msg.Attachments)
		existing.Read = existing.Read && msg.Read
		if msg.SentAt.After(existing.LatestAt) {
			existing.LatestAt = msg.SentAt
		}
		existing.Messages++
	}
	return convs
}

// Sorted returns the conversations ordered by latest timestamp (oldest
// first), breaking ties by thread id.
func Sorted(convs map[string]*Conversation) []*Conversation {
	out := make([]*Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LatestAt.Equal(out[j].LatestAt) {
			return out[i].LatestAt.Before(out[j].LatestAt)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// Filter returns the conversations matching the read filter.
func Filter(convs []*Conversation, filter gmail.ReadFilter) []*Conversation {
	if filter == "" || filter == gmail.FilterAll {
		return convs
	}
	var out []*Conversation
	for _, c := range convs {
		switch filter {
		case gmail.FilterRead:
			if c.Read {
				out = append(out, c)
			}
		case gmail.FilterUnread:
			if !c.Read {
				out = append(out, c)
			}
		}
	}
	return out
}

func validate(msg gmail.RawMessage) error {
	switch {
	case msg.ID == "":
		return errMissing("message id")
	case msg.ThreadID == "":
		return errMissing("thread id")
	case msg.From == "" && msg.ReplyTo == "":
		return errMissing("sender")
	case msg.SentAt.IsZero():
		return errMissing("send time")
	}
	return nil
}

type errMissing string

func (e errMissing) Error() string { return "missing " + string(e) }

// unionJoin merges addition into the comma-joined set existing, preserving
// first-seen order and dropping duplicates.
func unionJoin(existing, addition string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range append(strings.Split(existing, ", "), strings.Split(addition, ", ")...) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return strings.Join(out, ", ")
}

// dedupAttachments unions incoming into existing by (filename, id) identity.
func dedupAttachments(existing, incoming []gmail.Attachment) []gmail.Attachment {
	seen := make(map[gmail.Attachment]struct{}, len(existing))
	for _, att := range existing {
		seen[att] = struct{}{}
	}
	for _, att := range incoming {
		if _, ok := seen[att]; ok {
			continue
		}
		seen[att] = struct{}{}
		existing = append(existing, att)
	}
	return existing
}
