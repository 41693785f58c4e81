// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package slackfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
)

func htmlContent(body, formatted string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

func TestParseNil(t *testing.T) {
	t.Parallel()
	if got := Parse(nil); got != "" {
		t.Errorf("Parse(nil) = %q, want empty", got)
	}
}

func TestParsePlainBody(t *testing.T) {
	t.Parallel()
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: "plain text"}
	if got := Parse(content); got != "plain text" {
		t.Errorf("Parse() = %q, want %q", got, "plain text")
	}
}

func TestParseInlineFormatting(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "<strong>a</strong> <em>b</em> <del>c</del> <code>d</code>"))
	want := "*a* _b_ ~c~ `d`"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseCodeBlock(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", `<pre><code class="language-go">fmt.Println()</code></pre>`))
	want := "```\nfmt.Println()\n```"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseLabeledLink(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", `<a href="https://example.org">the docs</a>`))
	want := "<https://example.org|the docs>"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseBareLink(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", `<a href="https://example.org">https://example.org</a>`))
	want := "<https://example.org>"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseHeadingBecomesBold(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "<h2>Release notes</h2>"))
	want := "*Release notes*"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseBlockquote(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "<blockquote>one\ntwo</blockquote>"))
	want := "> one\n> two"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseUnorderedList(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "<ul><li>first</li><li>second</li></ul>"))
	want := "• first\n• second"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseOrderedList(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "<ol><li>first</li><li>second</li></ol>"))
	want := "1. first\n2. second"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}

func TestParseOrderedListPastNine(t *testing.T) {
	t.Parallel()
	html := "<ol>"
	for i := 1; i <= 11; i++ {
		html += "<li>item</li>"
	}
	html += "</ol>"

	got := Parse(htmlContent("x", html))
	lines := strings.Split(got, "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want 11", len(lines))
	}
	if lines[9] != "10. item" {
		t.Errorf("line 10 = %q, want %q", lines[9], "10. item")
	}
	if lines[10] != "11. item" {
		t.Errorf("line 11 = %q, want %q", lines[10], "11. item")
	}
}

func TestParseDropsReplyFallback(t *testing.T) {
	t.Parallel()
	formatted := "<mx-reply><blockquote>old message</blockquote></mx-reply>actual reply"
	got := Parse(htmlContent("x", formatted))
	if got != "actual reply" {
		t.Errorf("Parse() = %q, want %q", got, "actual reply")
	}
}

func TestParseUnescapesEntities(t *testing.T) {
	t.Parallel()
	got := Parse(htmlContent("x", "a &amp; b &lt;tag&gt;"))
	want := "a & b <tag>"
	if got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
}
