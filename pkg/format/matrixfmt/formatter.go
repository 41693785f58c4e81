// Copyright 2024-2026 Aiku AI

// Package matrixfmt converts Slack mrkdwn to Matrix HTML.
package matrixfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting Slack mrkdwn to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

var (
	userMentionRe    = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)
	channelMentionRe = regexp.MustCompile(`<#([A-Z0-9]+)\|([^>]+)>`)
	labeledLinkRe    = regexp.MustCompile(`<((?:https?|mailto):[^>|]+)\|([^>]+)>`)
	rawLinkRe        = regexp.MustCompile(`<((?:https?|mailto):[^>]+)>`)

	boldRe       = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe     = regexp.MustCompile(`(^|[^\w])_([^_\n]+)_($|[^\w])`)
	strikeRe     = regexp.MustCompile(`~([^~\n]+)~`)
	codeRe       = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```\\n?(.*?)```")
	blockquoteRe = regexp.MustCompile(`(?m)^>\s?(.+)$`)
	httpLinkRe   = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// Normalize rewrites Slack's wire-format markup into readable plain text:
// HTML entities are unescaped, user and channel mentions lose their angle
// brackets, labeled links become "label (url)" and raw links are unwrapped.
func Normalize(input string) string {
	text := strings.ReplaceAll(input, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")

	text = userMentionRe.ReplaceAllString(text, "@$1")
	text = channelMentionRe.ReplaceAllString(text, "#$2")
	text = strings.ReplaceAll(text, "<!channel>", "@channel")
	text = strings.ReplaceAll(text, "<!here>", "@here")
	text = strings.ReplaceAll(text, "<!everyone>", "@everyone")
	text = labeledLinkRe.ReplaceAllString(text, "$2 ($1)")
	text = rawLinkRe.ReplaceAllString(text, "$1")

	return text
}

// codeBlock holds extracted code block data.
type codeBlock struct {
	content string
}

// Parse normalizes a Slack mrkdwn message and converts it to Matrix event
// content. Messages without any formatting keep a plain body and no
// formatted body.
func Parse(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	text = Normalize(text)

	hasFormatting := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		blockquoteRe.MatchString(text)

	if !hasFormatting {
		return &ParsedMessage{Body: text}
	}

	// Step 1: Extract code blocks into placeholders.
	var codeBlocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		content := ""
		if len(parts) >= 2 {
			content = parts[1]
		}
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, codeBlock{content: content})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})

	// Step 2: Process line-by-line for blockquotes on raw text.
	lines := strings.Split(processed, "\n")
	var result []string
	for _, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); len(m) >= 2 {
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
			continue
		}
		result = append(result, html.EscapeString(line))
	}

	formatted := strings.Join(result, "\n")

	// Step 3: Inline formatting.
	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "$1<em>$2</em>$3")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	// Bare URLs become links.
	formatted = httpLinkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		return `<a href="` + match + `">` + match + `</a>`
	})

	// Step 4: Restore code blocks.
	for i, cb := range codeBlocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		replacement := `<pre><code>` + html.EscapeString(cb.content) + `</code></pre>`
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	// Step 5: Line breaks.
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}
