// Package markup converts standard Markdown, as produced by the Agent,
// into the chat platform's lightweight mrkdwn dialect.
package markup

import (
	"regexp"
	"strings"
)

var (
	linkRe    = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	headingRe = regexp.MustCompile(`(?m)^#{1,6} (.+)$`)
	boldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	strikeRe  = regexp.MustCompile(`~~([^~]+)~~`)
	hrRe      = regexp.MustCompile(`(?m)^[-*_]{3,}$`)
	bulletRe  = regexp.MustCompile(`(?m)^(\s*)[-*] (.*)$`)
)

// horizontalRuleGlyph is three em-dashes; the chat platform has no native
// horizontal-rule syntax.
const horizontalRuleGlyph = "———"

type segment struct {
	fence bool
	lines []string
}

// ToChatMarkup translates standard Markdown into mrkdwn, leaving the
// interior of fenced code blocks untouched except for stripping a language
// tag off the opening fence.
func ToChatMarkup(text string) string {
	lines := strings.Split(text, "\n")

	var segments []segment
	inFence := false
	var cur []string

	flush := func() {
		if len(cur) > 0 {
			segments = append(segments, segment{fence: inFence, lines: cur})
		}
		cur = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inFence {
				flush()
				inFence = true
				cur = append(cur, "```")
			} else {
				cur = append(cur, line)
				flush()
				inFence = false
			}
			continue
		}
		cur = append(cur, line)
	}
	flush()

	var outLines []string
	for _, seg := range segments {
		if seg.fence {
			outLines = append(outLines, seg.lines...)
			continue
		}
		block := transformBlock(strings.Join(seg.lines, "\n"))
		outLines = append(outLines, strings.Split(block, "\n")...)
	}
	return strings.Join(outLines, "\n")
}

// transformBlock applies the non-fence rewrite pipeline, in spec order, to
// a block of one or more non-fence lines joined by "\n".
func transformBlock(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = linkRe.ReplaceAllString(text, "<$2|$1>")
	text = headingRe.ReplaceAllString(text, "*$1*")
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = hrRe.ReplaceAllString(text, horizontalRuleGlyph)
	text = bulletRe.ReplaceAllString(text, "$1• $2")
	return text
}
