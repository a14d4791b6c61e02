package filters

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/mail"
	"regexp"
	"strings"
)

// ErrNoReplyKey rejects messages whose routing key cannot be recovered.
var ErrNoReplyKey = errors.New("no reply key in message")

var referenceKeyPattern = regexp.MustCompile(`\breply-([A-Za-z0-9_-]+)@`)

// recipientHeaders are scanned in order for a sub-addressed reply key.
var recipientHeaders = []string{"Delivered-To", "X-Envelope-To", "X-Original-To", "To", "Cc"}

// ReplyKeyFilter recovers the routing key that correlates a reply with the
// outbound notification it answers. Sub-addressing reads the key from the
// recipient local-part; when the deployment cannot use sub-addressing the
// key is recovered from the reference headers stamped at send time.
type ReplyKeyFilter struct {
	logger    *log.Logger
	mailbox   string // local-part before the delimiter, e.g. "reply"
	delimiter string
	domain    string
	enabled   bool // sub-addressing configured
}

// NewReplyKeyFilter derives the extraction rules from the outbound reply
// address template (e.g. "reply+%{key}@example.com") and delimiter.
func NewReplyKeyFilter(logger *log.Logger, addressTemplate, delimiter string) *ReplyKeyFilter {
	f := &ReplyKeyFilter{logger: logger, delimiter: delimiter}
	if f.delimiter == "" {
		f.delimiter = "+"
	}
	local, domain, ok := strings.Cut(addressTemplate, "@")
	if !ok {
		return f
	}
	f.domain = strings.ToLower(strings.TrimSpace(domain))
	marker := f.delimiter + "%{key}"
	if mailbox, found := strings.CutSuffix(local, marker); found && mailbox != "" {
		f.mailbox = strings.ToLower(mailbox)
		f.enabled = true
	}
	return f
}

// ID implements Filter.
func (f *ReplyKeyFilter) ID() string { return "reply_key_extractor" }

// Apply stores the extracted key as an annotation, or fails the chain when
// no strategy yields one.
func (f *ReplyKeyFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return ErrNoReplyKey
	}
	reader, err := mail.ReadMessage(bytes.NewReader(m.Message.Raw))
	if err != nil {
		// Pass unreadable input through; the processor parses it
		// next and rejects it as malformed.
		f.logf("reply_key: parse failed: %v", err)
		return nil
	}
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	if msgID := normalizeAddrToken(reader.Header.Get("Message-Id")); msgID != "" {
		m.Annotations[AnnotationMessageID] = msgID
	}

	if f.enabled {
		if key := f.keyFromRecipients(reader.Header); key != "" {
			m.Annotations[AnnotationReplyKey] = key
			m.Annotations[AnnotationKeySource] = KeySourceSubAddress
			return nil
		}
	}
	if key := f.keyFromReferences(reader.Header); key != "" {
		m.Annotations[AnnotationReplyKey] = key
		m.Annotations[AnnotationKeySource] = KeySourceReferences
		return nil
	}
	return ErrNoReplyKey
}

func (f *ReplyKeyFilter) keyFromRecipients(header mail.Header) string {
	for _, name := range recipientHeaders {
		for _, raw := range header[name] {
			addrs, err := mail.ParseAddressList(raw)
			if err != nil {
				// Delivery headers are often bare addresses.
				addrs = []*mail.Address{{Address: normalizeAddrToken(raw)}}
			}
			for _, addr := range addrs {
				if key := f.keyFromAddress(addr.Address); key != "" {
					return key
				}
			}
		}
	}
	return ""
}

func (f *ReplyKeyFilter) keyFromAddress(address string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(address), "@")
	if !ok {
		return ""
	}
	if f.domain != "" && !strings.EqualFold(domain, f.domain) {
		return ""
	}
	mailbox, key, found := strings.Cut(local, f.delimiter)
	if !found || key == "" {
		return ""
	}
	if !strings.EqualFold(mailbox, f.mailbox) {
		return ""
	}
	return key
}

func (f *ReplyKeyFilter) keyFromReferences(header mail.Header) string {
	values := append([]string{}, header["References"]...)
	if inReply := header.Get("In-Reply-To"); inReply != "" {
		values = append(values, inReply)
	}
	for _, value := range values {
		match := referenceKeyPattern.FindStringSubmatch(value)
		if len(match) == 2 {
			return match[1]
		}
	}
	return ""
}

func normalizeAddrToken(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>")
	return strings.TrimSpace(value)
}

func (f *ReplyKeyFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
