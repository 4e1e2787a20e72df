// Package markdown turns assistant markdown into plain text that a speech
// model can read aloud.
package markdown

import (
	"regexp"
	"strings"
)

// CodePlaceholder replaces every fenced code block.
const CodePlaceholder = "Check the code below."

const fence = "```"

var (
	imageRE      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	linkRE       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	inlineCodeRE = regexp.MustCompile("`([^`]+)`")
	headingRE    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	quoteRE      = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	bulletRE     = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	orderedRE    = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	htmlTagRE    = regexp.MustCompile(`<[^>]+>`)
	blankLinesRE = regexp.MustCompile(`\n{3,}`)
	spacesRE     = regexp.MustCompile(`[ \t]{2,}`)
	backticksRE  = regexp.MustCompile("`{3,}")

	emphasisReplacer = strings.NewReplacer("**", "", "__", "", "~~", "", "*", "", "_", "")
)

// Sanitize maps markdown to speech-friendly plain text. It never fails and
// Sanitize(Sanitize(s)) == Sanitize(s).
//
// Images are replaced by their alt text; images without alt text are dropped.
func Sanitize(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}

	text := replaceFences(strings.ReplaceAll(md, "\r\n", "\n"))

	// Every pass after the first only removes characters, so iterating to a
	// fixed point terminates and makes the result stable under re-sanitizing.
	for {
		next := pass(text)
		if next == text {
			return text
		}
		text = next
	}
}

// replaceFences swaps each ```...``` block for the placeholder sentence. An
// opening fence without a closing one swallows the rest of the input.
func replaceFences(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, fence)
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:open])
		rest := s[open+len(fence):]
		closing := strings.Index(rest, fence)
		if closing < 0 {
			return b.String()
		}
		b.WriteString("\n" + CodePlaceholder + "\n")
		s = rest[closing+len(fence):]
	}
}

func pass(text string) string {
	text = imageRE.ReplaceAllString(text, "$1")
	text = linkRE.ReplaceAllString(text, "$1")
	text = inlineCodeRE.ReplaceAllString(text, "$1")

	text = stripLineMarkers(text)

	text = emphasisReplacer.Replace(text)
	text = htmlTagRE.ReplaceAllString(text, "")
	text = backticksRE.ReplaceAllString(text, "")

	text = blankLinesRE.ReplaceAllString(text, "\n\n")
	text = spacesRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func stripLineMarkers(text string) string {
	for {
		next := headingRE.ReplaceAllString(text, "")
		next = quoteRE.ReplaceAllString(next, "")
		next = bulletRE.ReplaceAllString(next, "")
		next = orderedRE.ReplaceAllString(next, "")
		if next == text {
			return text
		}
		text = next
	}
}
