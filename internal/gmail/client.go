package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/mailledger/internal/instrumentation"
	"github.com/teemow/mailledger/internal/logging"
)

const (
	// MaxAttachmentSize defines the maximum attachment size in bytes (25MB)
	MaxAttachmentSize = 25 * 1024 * 1024

	user = "me"
)

// Options configures a Client.
type Options struct {
	// SecretsDir holds credentials.json and the cached token.json.
	SecretsDir string
	// DownloadAttachments enables the best-effort binary fetch of each
	// attachment descriptor during FetchMessages.
	DownloadAttachments bool
	// AttachmentsDir is where downloaded attachments are written, named
	// <messageID>_<filename>.
	AttachmentsDir string
	Logger         *slog.Logger
	Metrics        *instrumentation.Metrics
}

// Client wraps the Gmail Users service.
type Client struct {
	svc     *gmailapi.UsersService
	opts    Options
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClient creates a Gmail client with OAuth2 authentication.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	httpClient, err := oauthClient(ctx, opts.SecretsDir)
	if err != nil {
		return nil, err
	}
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Client{svc: svc.Users, opts: opts, logger: logger, metrics: metrics}, nil
}

// FetchMessages returns every message involving the given address within
// [start, end), in provider fetch order. Pagination is handled internally.
// When attachment download is enabled each descriptor triggers a best-effort
// binary fetch; a failed fetch leaves the descriptor recorded with content
// missing.
func (c *Client) FetchMessages(ctx context.Context, address string, start, end time.Time) ([]RawMessage, error) {
	query := fmt.Sprintf("(to:%s OR from:%s) after:%d before:%d",
		address, address, start.Unix(), end.Unix())

	listCtx, listSpan := instrumentation.StartMailboxAPISpan(ctx, instrumentation.OperationList)
	var refs []*gmailapi.Message
	pageToken := ""
	for {
		req := c.svc.Messages.List(user).Q(query)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		listStart := time.Now()
		res, err := req.Context(listCtx).Do()
		c.metrics.RecordMailboxAPIOperation(ctx, instrumentation.OperationList, callStatus(err), time.Since(listStart))
		if err != nil {
			instrumentation.SetSpanError(listSpan, err)
			listSpan.End()
			return nil, fmt.Errorf("list messages: %w", err)
		}
		refs = append(refs, res.Messages...)
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	instrumentation.SetSpanSuccess(listSpan)
	listSpan.End()

	var out []RawMessage
	for _, ref := range refs {
		getStart := time.Now()
		full, err := c.svc.Messages.Get(user, ref.Id).Format("full").Context(ctx).Do()
		c.metrics.RecordMailboxAPIOperation(ctx, instrumentation.OperationGet, callStatus(err), time.Since(getStart))
		if err != nil {
			c.logger.Error("failed to fetch full message",
				logging.Operation("fetch_messages"), logging.MessageID(ref.Id), logging.Err(err))
			continue
		}
		msg := parseMessage(full, c.logger)
		if c.opts.DownloadAttachments {
			c.downloadAttachments(ctx, msg)
		}
		out = append(out, msg)
	}
	return out, nil
}

// FetchAttachment retrieves the content of an attachment.
func (c *Client) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	getStart := time.Now()
	attachment, err := c.svc.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
	c.metrics.RecordMailboxAPIOperation(ctx, instrumentation.OperationGet, callStatus(err), time.Since(getStart))
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}
	if attachment.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d exceeds maximum size %d", attachment.Size, MaxAttachmentSize)
	}
	return decodeBase64(attachment.Data)
}

// downloadAttachments is a side effect only: any failure degrades to
// "attachment recorded but content missing" without failing the message.
func (c *Client) downloadAttachments(ctx context.Context, msg RawMessage) {
	for _, att := range msg.Attachments {
		data, err := c.FetchAttachment(ctx, msg.ID, att.ID)
		if err != nil {
			c.logger.Warn("attachment download failed",
				logging.MessageID(msg.ID), slog.String("filename", att.Filename), logging.Err(err))
			continue
		}
		dir := c.opts.AttachmentsDir
		if dir == "" {
			dir = ".attachments"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn("attachment dir unavailable", logging.Err(err))
			return
		}
		path := filepath.Join(dir, msg.ID+"_"+SanitizeFilename(att.Filename))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			c.logger.Warn("attachment write failed",
				logging.MessageID(msg.ID), slog.String("path", path), logging.Err(err))
			continue
		}
		c.logger.Debug("attachment downloaded",
			logging.MessageID(msg.ID), slog.String("path", path))
	}
}

// parseMessage extracts header-derived fields, the body and attachment
// descriptors from a full Gmail message. Parsing is best-effort: a missing
// or unparseable Date header leaves SentAt zero for the aggregator to
// reject.
func parseMessage(msg *gmailapi.Message, logger *slog.Logger) RawMessage {
	m := RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Read:     true,
	}
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			m.Read = false
			break
		}
	}
	if msg.Payload == nil {
		return m
	}

	m.Subject = HeaderValue(msg, "Subject")
	m.From = strings.TrimSpace(HeaderValue(msg, "From"))
	m.ReplyTo = strings.TrimSpace(HeaderValue(msg, "Reply-To"))
	m.To = strings.TrimSpace(HeaderValue(msg, "To"))

	if date := HeaderValue(msg, "Date"); date != "" {
		sentAt, err := ParseDate(date)
		if err != nil {
			logger.Warn("unparseable Date header",
				logging.MessageID(msg.Id), slog.String("date", date), logging.Err(err))
		} else {
			m.SentAt = sentAt
		}
	}

	m.Body = extractBody(msg.Payload)

	walkParts(msg.Payload, func(part *gmailapi.MessagePart) {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			m.Attachments = append(m.Attachments, Attachment{
				Filename: part.Filename,
				ID:       part.Body.AttachmentId,
			})
		}
	})
	return m
}

// HeaderValue extracts a header value from a Gmail message.
func HeaderValue(m *gmailapi.Message, header string) string {
	mpart := m.Payload
	if mpart == nil {
		return ""
	}
	for _, mph := range mpart.Headers {
		if mph.Name == header {
			return mph.Value
		}
	}
	return ""
}

// dateLayouts are tried in order after net/mail parsing fails. Providers
// emit a surprising variety of almost-RFC2822 dates.
var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822Z,
}

// ParseDate parses an RFC2822-style Date header, tolerating the common
// provider deviations.
func ParseDate(value string) (time.Time, error) {
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	// strip a trailing "(TZ)" comment that trips the strict parser
	trimmed := value
	if open := strings.LastIndex(trimmed, " ("); open != -1 {
		if close := strings.LastIndex(trimmed, ")"); close > open {
			trimmed = strings.TrimSpace(trimmed[:open] + trimmed[close+1:])
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", value)
}

// extractBody walks the MIME tree and returns the first text/plain part,
// falling back to raw text/html bytes. Returns "" when no text part exists;
// the aggregator substitutes the sentinel body.
func extractBody(payload *gmailapi.MessagePart) string {
	if body := findBody(payload, "text/plain"); body != "" {
		return body
	}
	return findBody(payload, "text/html")
}

func findBody(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, sub := range part.Parts {
		if body := findBody(sub, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// decodeBase64 decodes Gmail's base64url payloads, falling back to standard
// base64 as some messages arrive with either alphabet.
func decodeBase64(data string) ([]byte, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message data: %w", err)
	}
	return decoded, nil
}

// walkParts recursively walks through message parts.
func walkParts(part *gmailapi.MessagePart, fn func(*gmailapi.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

func callStatus(err error) string {
	if err != nil {
		return instrumentation.ResultError
	}
	return instrumentation.ResultSuccess
}

// SanitizeFilename sanitizes a filename to prevent path traversal attacks.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	return filename
}
