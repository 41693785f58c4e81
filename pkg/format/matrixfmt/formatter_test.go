// Copyright 2024-2026 Aiku AI

package matrixfmt

import (
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	result := Parse("")
	if result.Body != "" {
		t.Errorf("empty input Body: got %q", result.Body)
	}
	if result.FormattedBody != "" {
		t.Errorf("empty input FormattedBody: got %q", result.FormattedBody)
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	result := Parse("hello world")
	if result.Body != "hello world" {
		t.Errorf("Body: got %q, want %q", result.Body, "hello world")
	}
	if result.Format != "" {
		t.Errorf("plain text should have no format, got %q", result.Format)
	}
	if result.FormattedBody != "" {
		t.Errorf("plain text should have no FormattedBody, got %q", result.FormattedBody)
	}
}

func TestParseBold(t *testing.T) {
	t.Parallel()
	result := Parse("*bold text*")
	if result.Format != event.FormatHTML {
		t.Errorf("Format: got %q, want %q", result.Format, event.FormatHTML)
	}
	if result.Body != "*bold text*" {
		t.Errorf("Body should preserve normalized text: got %q", result.Body)
	}
	if !strings.Contains(result.FormattedBody, "<strong>bold text</strong>") {
		t.Errorf("FormattedBody: got %q, want to contain <strong>bold text</strong>", result.FormattedBody)
	}
}

func TestParseItalicAndStrike(t *testing.T) {
	t.Parallel()
	result := Parse("some _slanted_ and ~gone~ words")
	if !strings.Contains(result.FormattedBody, "<em>slanted</em>") {
		t.Errorf("FormattedBody: got %q, want to contain <em>slanted</em>", result.FormattedBody)
	}
	if !strings.Contains(result.FormattedBody, "<del>gone</del>") {
		t.Errorf("FormattedBody: got %q, want to contain <del>gone</del>", result.FormattedBody)
	}
}

func TestParseInlineCode(t *testing.T) {
	t.Parallel()
	result := Parse("use `fmt.Println`")
	if !strings.Contains(result.FormattedBody, "<code>fmt.Println</code>") {
		t.Errorf("FormattedBody: got %q, want to contain <code>", result.FormattedBody)
	}
}

func TestParseCodeBlock(t *testing.T) {
	t.Parallel()
	result := Parse("```\nfmt.Println(\"hi\")\n```")
	if !strings.Contains(result.FormattedBody, "<pre><code>") {
		t.Errorf("FormattedBody: got %q, want to contain <pre><code>", result.FormattedBody)
	}
	if !strings.Contains(result.FormattedBody, "fmt.Println(&#34;hi&#34;)") {
		t.Errorf("FormattedBody: got %q, want escaped code content", result.FormattedBody)
	}
}

func TestParseBlockquote(t *testing.T) {
	t.Parallel()
	result := Parse("> quoted line")
	if !strings.Contains(result.FormattedBody, "<blockquote>quoted line</blockquote>") {
		t.Errorf("FormattedBody: got %q, want blockquote", result.FormattedBody)
	}
}

func TestNormalizeUserMention(t *testing.T) {
	t.Parallel()
	got := Normalize("hi <@U023BECGF> and <@U123ABC|alice>")
	want := "hi @U023BECGF and @U123ABC"
	if got != want {
		t.Errorf("Normalize: got %q, want %q", got, want)
	}
}

func TestNormalizeChannelMention(t *testing.T) {
	t.Parallel()
	got := Normalize("see <#C024BE7LR|general>")
	want := "see #general"
	if got != want {
		t.Errorf("Normalize: got %q, want %q", got, want)
	}
}

func TestNormalizeLinks(t *testing.T) {
	t.Parallel()
	got := Normalize("docs at <https://example.org/x|the docs> or <https://example.org/raw>")
	want := "docs at the docs (https://example.org/x) or https://example.org/raw"
	if got != want {
		t.Errorf("Normalize: got %q, want %q", got, want)
	}
}

func TestNormalizeEntitiesAndBroadcasts(t *testing.T) {
	t.Parallel()
	got := Normalize("a &amp; b &lt;c&gt; <!channel> <!here> <!everyone>")
	want := "a & b <c> @channel @here @everyone"
	if got != want {
		t.Errorf("Normalize: got %q, want %q", got, want)
	}
}

func TestParseNormalizesBeforeFormatting(t *testing.T) {
	t.Parallel()
	result := Parse("*ping* <@U1>")
	if result.Body != "*ping* @U1" {
		t.Errorf("Body: got %q, want %q", result.Body, "*ping* @U1")
	}
	if !strings.Contains(result.FormattedBody, "<strong>ping</strong>") {
		t.Errorf("FormattedBody: got %q, want to contain <strong>ping</strong>", result.FormattedBody)
	}
}
