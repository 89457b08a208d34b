// Package format turns tutor replies into the presentational markup rendered
// by the chat surface. The transform is a fixed chain of regex rewrites over a
// small markup dialect; it is not a markdown parser and keeps the quirks that
// come with rewriting text in order (odd emphasis markers, the final
// paragraph heuristic).
package format

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"ai-tutor/internal/domain"
)

var (
	fencePattern      = regexp.MustCompile("(?s)```.*?```")
	fenceMarker       = regexp.MustCompile("```\\w*\\n?")
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.*)$`)
	boldPattern       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*(.*?)\*`)
	inlineCodePattern = regexp.MustCompile("`(.*?)`")
	bulletPattern     = regexp.MustCompile(`(?m)^\s*[*\-+]\s+(.*)`)
	numberedPattern   = regexp.MustCompile(`(?m)^\d+\.\s+(.*)`)
	listRunPattern    = regexp.MustCompile(
		regexp.QuoteMeta(ListItem.Open()) + `[^\n]*?` + regexp.QuoteMeta(ListItem.Close()) +
			`(?:\n` + regexp.QuoteMeta(ListItem.Open()) + `[^\n]*?` + regexp.QuoteMeta(ListItem.Close()) + `)*`,
	)
)

const bulletGlyph = "• "

// textEscaper makes literal text safe to place between tags. Quotes are left
// alone because the result is never used inside an attribute.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Format renders a reply. Structured payloads are pretty-printed and escaped
// but untouched by the markup rules; text goes through the rewrite chain.
func Format(reply domain.Reply) string {
	if reply.Structured() {
		return formatPayload(reply.Payload)
	}
	return FormatText(reply.Text)
}

func formatPayload(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return textEscaper.Replace(string(raw))
	}
	return textEscaper.Replace(buf.String())
}

// FormatText applies the markup rules to a plain-text reply.
func FormatText(text string) string {
	out, blocks := extractCodeBlocks(text)

	out = headingPattern.ReplaceAllString(out, wrap(Heading, "${1}"))
	out = boldPattern.ReplaceAllString(out, wrap(Strong, "${1}"))
	out = italicPattern.ReplaceAllString(out, wrap(Emphasis, "${1}"))
	out = inlineCodePattern.ReplaceAllString(out, wrap(InlineCode, "${1}"))
	out = strings.ReplaceAll(out, "\n\n", ParagraphBreak())
	out = bulletPattern.ReplaceAllString(out, wrap(ListItem, bulletGlyph+"${1}"))
	out = numberedPattern.ReplaceAllString(out, wrap(ListItem, "${1}"))
	out = listRunPattern.ReplaceAllStringFunc(out, func(run string) string {
		return wrap(ListContainer, run)
	})

	out = blocks.restore(out)

	if !strings.Contains(out, "<") {
		out = wrap(Paragraph, out)
	}
	return out
}

// codeBlocks holds fenced blocks lifted out of the text so the line rules
// cannot reach into them.
type codeBlocks struct {
	mark     string
	rendered []string
}

func extractCodeBlocks(text string) (string, *codeBlocks) {
	blocks := &codeBlocks{mark: sentinel(text)}
	out := fencePattern.ReplaceAllStringFunc(text, func(match string) string {
		code := fenceMarker.ReplaceAllString(match, "")
		blocks.rendered = append(blocks.rendered, wrap(CodeBlock, textEscaper.Replace(code)))
		return blocks.placeholder(len(blocks.rendered) - 1)
	})
	return out, blocks
}

func (b *codeBlocks) placeholder(i int) string {
	return b.mark + strconv.Itoa(i) + b.mark
}

func (b *codeBlocks) restore(s string) string {
	if len(b.rendered) == 0 {
		return s
	}
	pairs := make([]string, 0, 2*len(b.rendered))
	for i, r := range b.rendered {
		pairs = append(pairs, b.placeholder(i), r)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// sentinel picks a private-use rune absent from text, so placeholders never
// collide with reply content.
func sentinel(text string) string {
	for r := rune(0xE000); r <= 0xF8FF; r++ {
		if !strings.ContainsRune(text, r) {
			return string(r)
		}
	}
	return "\x00"
}
