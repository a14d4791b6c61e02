// Package replyparser strips quoted history, signatures, and boilerplate
// from an email reply, leaving only the text the human actually wrote.
package replyparser

import (
	"regexp"
	"strings"
)

var (
	// Quote introductions: "On Mon, 2 Jan 2006 ... <a@b> wrote:".
	quoteIntroPattern = regexp.MustCompile(`(?i)^\s*On\s.{0,200}wrote:\s*$`)
	// Outlook-style reply delimiter.
	originalMessagePattern = regexp.MustCompile(`(?i)^\s*-{3,}\s*(Original|Forwarded)\s+Message\s*-{3,}\s*$`)
	// Quoted header block that some clients emit without a delimiter.
	quotedHeaderPattern = regexp.MustCompile(`(?i)^\s*(From|Sent|Date|Subject|To|Cc):\s.+$`)
	// Signature delimiters and mobile-client signatures.
	signaturePattern = regexp.MustCompile(`^\s*(--\s*|__+\s*|—+\s*)$`)
	mobileSignaturePattern = regexp.MustCompile(`(?i)^\s*Sent from my (\S+\s*){1,3}$`)
	// Corporate disclaimer openers.
	disclaimerPattern = regexp.MustCompile(`(?i)^\s*(This (e-?mail|message)( and any attachments)? (is|are|may (be|contain)) (confidential|intended|privileged)|Please consider the environment)`)
)

// Extract returns the human-authored portion of a reply body. The result is
// trimmed; an empty result means the reply carried no original content.
func Extract(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")

	kept := make([]string, 0, len(lines))
	headerRun := 0
	for _, line := range lines {
		if quoteIntroPattern.MatchString(line) ||
			originalMessagePattern.MatchString(line) ||
			signaturePattern.MatchString(line) ||
			disclaimerPattern.MatchString(line) {
			break
		}
		if mobileSignaturePattern.MatchString(line) {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		// Two or more consecutive quoted header lines mark the start of an
		// embedded original message even without a delimiter line.
		if quotedHeaderPattern.MatchString(line) {
			headerRun++
			if headerRun >= 2 {
				kept = trimTrailing(kept, headerRun-1)
				break
			}
		} else {
			headerRun = 0
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func trimTrailing(lines []string, n int) []string {
	if n >= len(lines) {
		return nil
	}
	return lines[:len(lines)-n]
}
