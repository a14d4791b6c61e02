package postmaster

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"
)

const (
	defaultBodyLimit       = 128 * 1024
	defaultAttachmentLimit = 25 * 1024 * 1024
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// IncomingMessage is the decoded reply handed to the processor.
type IncomingMessage struct {
	From         string
	Subject      string
	Body         string
	ContentType  string
	Charset      string
	MessageID    string
	ReferenceIDs []string
	Attachments  []AttachmentPart
}

// AttachmentPart is one decoded attachment from a multipart reply.
type AttachmentPart struct {
	Filename    string
	ContentType string
	// ContentID is the normalized Content-Id when the sender referenced
	// the attachment inline (cid: links).
	ContentID string
	Data      []byte
}

// MessageParser decodes raw RFC 5322 bytes into an IncomingMessage. MIME
// trees are walked with the structured reader; messages it cannot handle
// fall back to the stdlib parser so odd-but-deliverable mail still lands.
type MessageParser struct {
	logger          *log.Logger
	decoder         *mime.WordDecoder
	maxBodyBytes    int64
	attachmentLimit int64
	htmlPolicy      *bluemonday.Policy
}

// MessageParserOption customizes a MessageParser.
type MessageParserOption func(*MessageParser)

// NewMessageParser builds a parser with the default size limits.
func NewMessageParser(opts ...MessageParserOption) *MessageParser {
	p := &MessageParser{
		logger:          log.Default(),
		decoder:         &mime.WordDecoder{},
		maxBodyBytes:    defaultBodyLimit,
		attachmentLimit: defaultAttachmentLimit,
		htmlPolicy:      bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithParserLogger overrides the logger used for diagnostics.
func WithParserLogger(logger *log.Logger) MessageParserOption {
	return func(p *MessageParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithParserBodyLimit constrains how much body text is decoded.
func WithParserBodyLimit(limit int64) MessageParserOption {
	return func(p *MessageParser) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// WithParserAttachmentLimit constrains how many attachment bytes are
// buffered per part.
func WithParserAttachmentLimit(limit int64) MessageParserOption {
	return func(p *MessageParser) {
		if limit > 0 {
			p.attachmentLimit = limit
		}
	}
}

// Parse decodes the raw message. It returns ErrMalformedMessage only when
// neither the structured nor the legacy parser can make sense of the input.
func (p *MessageParser) Parse(raw []byte) (*IncomingMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedMessage)
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		p.logf("parser: structured parse failed: %v", err)
		return p.legacyParse(raw)
	}
	msg := &IncomingMessage{
		Subject:   p.subjectFromHeader(&reader.Header),
		From:      p.addressFromHeader(&reader.Header),
		MessageID: normalizeMessageID(reader.Header.Get("Message-Id")),
	}
	msg.ContentType, msg.Charset = p.contentTypeFromHeader(&reader.Header)
	referenceValues := reader.Header.Values("References")
	if inReply := reader.Header.Get("In-Reply-To"); inReply != "" {
		referenceValues = append(referenceValues, inReply)
	}
	msg.ReferenceIDs = uniqueMessageIDs(referenceValues...)

	body, mimeType, charset, attachments := p.readBodyParts(reader)
	msg.Attachments = attachments
	if body != "" {
		msg.Body = body
		if mimeType != "" {
			msg.ContentType = mimeType
		}
		if charset != "" {
			msg.Charset = charset
		}
		return msg, nil
	}

	// The structured walk found headers but no text part. Merge in what
	// the legacy parser sees before giving up.
	legacy, legacyErr := p.legacyParse(raw)
	if legacyErr != nil {
		return msg, nil
	}
	if msg.Subject == "" {
		msg.Subject = legacy.Subject
	}
	if msg.From == "" {
		msg.From = legacy.From
	}
	if msg.Body == "" {
		msg.Body = legacy.Body
	}
	if msg.ContentType == "" {
		msg.ContentType = legacy.ContentType
	}
	if msg.Charset == "" {
		msg.Charset = legacy.Charset
	}
	return msg, nil
}

func (p *MessageParser) legacyParse(raw []byte) (*IncomingMessage, error) {
	reader, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg := &IncomingMessage{
		Subject:   p.decodeHeader(reader.Header.Get("Subject")),
		From:      p.parseAddress(reader.Header.Get("From")),
		MessageID: normalizeMessageID(reader.Header.Get("Message-Id")),
	}
	msg.ContentType, msg.Charset = p.parseContentType(reader.Header.Get("Content-Type"))
	msg.ReferenceIDs = uniqueMessageIDs(reader.Header.Get("References"), reader.Header.Get("In-Reply-To"))
	body, readErr := io.ReadAll(io.LimitReader(reader.Body, p.bodyLimit()))
	if readErr != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMalformedMessage, readErr)
	}
	msg.Body = string(body)
	if strings.HasPrefix(msg.ContentType, "text/html") {
		msg.Body = p.htmlToText(msg.Body)
		msg.ContentType = "text/plain"
	}
	return msg, nil
}

func (p *MessageParser) readBodyParts(reader *gomail.Reader) (string, string, string, []AttachmentPart) {
	if reader == nil {
		return "", "", "", nil
	}
	var plainCandidate, htmlCandidate *bodyCandidate
	var attachments []AttachmentPart
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logf("parser: read part failed: %v", err)
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			body, mimeType, charset := p.extractInlineBody(part, header)
			if body == "" {
				continue
			}
			candidate := &bodyCandidate{body: body, mimeType: mimeType, charset: charset}
			switch {
			case strings.HasPrefix(mimeType, "text/plain"):
				if plainCandidate == nil {
					plainCandidate = candidate
				}
			case strings.HasPrefix(mimeType, "text/html"):
				if htmlCandidate == nil {
					htmlCandidate = candidate
				}
			default:
				if plainCandidate == nil && htmlCandidate == nil {
					plainCandidate = candidate
				}
			}
		case *gomail.AttachmentHeader:
			if att := p.extractAttachment(part, header); att != nil {
				attachments = append(attachments, *att)
			}
		default:
			// Ignore other part types
		}
	}
	if plainCandidate != nil {
		return plainCandidate.body, plainCandidate.mimeType, plainCandidate.charset, attachments
	}
	if htmlCandidate != nil {
		text := p.htmlToText(htmlCandidate.body)
		return text, "text/plain", htmlCandidate.charset, attachments
	}
	return "", "", "", attachments
}

type bodyCandidate struct {
	body     string
	mimeType string
	charset  string
}

func (p *MessageParser) extractInlineBody(part *gomail.Part, header *gomail.InlineHeader) (string, string, string) {
	if part == nil || header == nil {
		return "", "", ""
	}
	mimeType, params, err := header.ContentType()
	charset := ""
	if err != nil {
		mimeType, charset = p.parseContentType(header.Get("Content-Type"))
	} else {
		charset = params["charset"]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	charset = strings.ToLower(strings.TrimSpace(charset))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	data, readErr := io.ReadAll(io.LimitReader(part.Body, p.bodyLimit()))
	if readErr != nil {
		p.logf("parser: read part body failed: %v", readErr)
		return "", "", ""
	}
	return string(data), mimeType, charset
}

func (p *MessageParser) extractAttachment(part *gomail.Part, header *gomail.AttachmentHeader) *AttachmentPart {
	if part == nil || header == nil {
		return nil
	}
	filename, err := header.Filename()
	if err != nil || strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("attachment-%d.bin", time.Now().UnixNano())
	}
	mimeType, _, ctErr := header.ContentType()
	if ctErr != nil || strings.TrimSpace(mimeType) == "" {
		mimeType, _ = p.parseContentType(header.Get("Content-Type"))
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	data, readErr := io.ReadAll(io.LimitReader(part.Body, p.attachmentLimitBytes()))
	if readErr != nil {
		p.logf("parser: read attachment body failed: %v", readErr)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return &AttachmentPart{
		Filename:    filename,
		ContentType: mimeType,
		ContentID:   normalizeMessageID(header.Get("Content-Id")),
		Data:        data,
	}
}

var htmlBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</tr>|</h[1-6]>`)

// htmlToText renders an HTML body as plain text. Block-level closers become
// newlines before the sanitizer strips the remaining markup.
func (p *MessageParser) htmlToText(body string) string {
	body = htmlBreakPattern.ReplaceAllString(body, "\n")
	body = p.htmlPolicy.Sanitize(body)
	body = html.UnescapeString(body)
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (p *MessageParser) subjectFromHeader(header *gomail.Header) string {
	if header == nil {
		return ""
	}
	if subject, err := header.Subject(); err == nil {
		return subject
	}
	return p.decodeHeader(header.Get("Subject"))
}

func (p *MessageParser) addressFromHeader(header *gomail.Header) string {
	if header == nil {
		return ""
	}
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	return p.parseAddress(header.Get("From"))
}

func (p *MessageParser) contentTypeFromHeader(header *gomail.Header) (string, string) {
	if header == nil {
		return "", ""
	}
	if mediaType, params, err := header.ContentType(); err == nil {
		return strings.ToLower(mediaType), strings.ToLower(strings.TrimSpace(params["charset"]))
	}
	return p.parseContentType(header.Get("Content-Type"))
}

func (p *MessageParser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || p.decoder == nil {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (p *MessageParser) parseAddress(value string) string {
	value = p.decodeHeader(value)
	if value == "" {
		return ""
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return strings.TrimSpace(addrs[0].Address)
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address)
	}
	return strings.TrimSpace(value)
}

func (p *MessageParser) parseContentType(value string) (string, string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	mediaType := raw
	charset := ""
	if parsed, params, err := mime.ParseMediaType(raw); err == nil {
		mediaType = parsed
		if cs, ok := params["charset"]; ok {
			charset = strings.TrimSpace(cs)
		}
	}
	return strings.ToLower(mediaType), strings.ToLower(charset)
}

func (p *MessageParser) bodyLimit() int64 {
	if p == nil || p.maxBodyBytes <= 0 {
		return defaultBodyLimit
	}
	return p.maxBodyBytes
}

func (p *MessageParser) attachmentLimitBytes() int64 {
	if p == nil || p.attachmentLimit <= 0 {
		return defaultAttachmentLimit
	}
	return p.attachmentLimit
}

func (p *MessageParser) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

var messageIDPattern = regexp.MustCompile(`<([^<>]+)>`)

func uniqueMessageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, raw := range values {
		for _, candidate := range parseMessageIDs(raw) {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			ids = append(ids, candidate)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func parseMessageIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		if id := normalizeMessageID(raw); id != "" {
			return []string{id}
		}
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		if id := normalizeMessageID(match[1]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, "\"")
	return strings.TrimSpace(value)
}
