package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
)

// ErrAutoGenerated rejects vacation responders and other automated mail.
var ErrAutoGenerated = errors.New("auto-generated email rejected")

// headerIndicator matches one auto-reply marker: a header name plus the
// values that flag it, or any value when none are listed.
type headerIndicator struct {
	name   string
	values []string
}

var defaultIndicators = []headerIndicator{
	{name: "Auto-Submitted", values: []string{"auto-generated", "auto-replied"}},
	{name: "X-Autoreply", values: []string{"yes"}},
	{name: "X-Autorespond"},
	{name: "Precedence", values: []string{"auto_reply"}},
	{name: "X-Auto-Response-Suppress", values: []string{"all", "oof"}},
}

// AutoReplyFilter halts the pipeline for messages flagged as automated.
type AutoReplyFilter struct {
	logger     *log.Logger
	indicators []headerIndicator
}

// NewAutoReplyFilter builds the detector with the built-in indicator set.
// overrides, when present, replace the set; entries are either "Header" or
// "Header: value1,value2".
func NewAutoReplyFilter(logger *log.Logger, overrides []string) *AutoReplyFilter {
	f := &AutoReplyFilter{logger: logger, indicators: defaultIndicators}
	if parsed := parseIndicators(overrides); len(parsed) > 0 {
		f.indicators = parsed
	}
	return f
}

// ID implements Filter.
func (f *AutoReplyFilter) ID() string { return "reply_autoreply_detector" }

// Apply rejects the message when any indicator header matches, regardless
// of body content.
func (f *AutoReplyFilter) Apply(ctx context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	reader, err := mail.ReadMessage(bytes.NewReader(m.Message.Raw))
	if err != nil {
		// Pass unreadable input through; the processor parses it
		// next and rejects it as malformed.
		f.logf("autoreply: parse failed: %v", err)
		return nil
	}
	for _, indicator := range f.indicators {
		value := strings.TrimSpace(reader.Header.Get(indicator.name))
		if value == "" {
			continue
		}
		if indicatorMatches(indicator, value) {
			f.logf("autoreply: rejected via %s: %s", indicator.name, value)
			return fmt.Errorf("%w: %s", ErrAutoGenerated, indicator.name)
		}
	}
	return nil
}

func indicatorMatches(indicator headerIndicator, value string) bool {
	if len(indicator.values) == 0 {
		return true
	}
	value = strings.ToLower(value)
	for _, want := range indicator.values {
		if value == want {
			return true
		}
	}
	return false
}

func parseIndicators(entries []string) []headerIndicator {
	var indicators []headerIndicator
	for _, entry := range entries {
		name, rawValues, hasValues := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		indicator := headerIndicator{name: name}
		if hasValues {
			for _, v := range strings.Split(rawValues, ",") {
				if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
					indicator.values = append(indicator.values, v)
				}
			}
		}
		indicators = append(indicators, indicator)
	}
	return indicators
}

func (f *AutoReplyFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
