package markup

import "testing"

func TestToChatMarkup_Link(t *testing.T) {
	got := ToChatMarkup("see [docs](https://example.com/x)")
	want := "see <https://example.com/x|docs>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_Heading(t *testing.T) {
	cases := map[string]string{
		"# Title":         "*Title*",
		"## Subtitle":     "*Subtitle*",
		"###### Deep":     "*Deep*",
		"####### TooDeep": "####### TooDeep", // 7 hashes is not a heading
	}
	for in, want := range cases {
		if got := ToChatMarkup(in); got != want {
			t.Errorf("ToChatMarkup(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToChatMarkup_Bold(t *testing.T) {
	got := ToChatMarkup("this is **important** text")
	want := "this is *important* text"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_Strikethrough(t *testing.T) {
	got := ToChatMarkup("~~removed~~ kept")
	want := "~removed~ kept"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_HorizontalRule(t *testing.T) {
	for _, in := range []string{"---", "***", "___", "-----"} {
		got := ToChatMarkup(in)
		if got != horizontalRuleGlyph {
			t.Errorf("ToChatMarkup(%q) = %q, want %q", in, got, horizontalRuleGlyph)
		}
	}
}

func TestToChatMarkup_ListBullets(t *testing.T) {
	got := ToChatMarkup("- one\n* two\n  - nested")
	want := "• one\n• two\n  • nested"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_EscapesAmpAndLt(t *testing.T) {
	got := ToChatMarkup("a & b < c")
	want := "a &amp; b &lt; c"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_EscapeRunsBeforeLinkRule(t *testing.T) {
	// The literal "<" introduced by the link rule must survive; escaping
	// must not run again after the link substitution.
	got := ToChatMarkup("[a](http://x?a=1&b=2)")
	want := "<http://x?a=1&amp;b=2|a>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_PreservesFenceInterior(t *testing.T) {
	in := "before\n```go\nfunc f() {\n  return **not bold**\n}\n```\nafter **bold**"
	want := "before\n```\nfunc f() {\n  return **not bold**\n}\n```\nafter *bold*"
	got := ToChatMarkup(in)
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_UnterminatedFenceKeepsContentUnchanged(t *testing.T) {
	in := "```python\nx = 1\n# not a heading"
	got := ToChatMarkup(in)
	want := "```\nx = 1\n# not a heading"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToChatMarkup_IdempotentWithoutMarkdownTokens(t *testing.T) {
	plain := "just plain text with no tokens at all"
	once := ToChatMarkup(plain)
	twice := ToChatMarkup(once)
	if once != twice {
		t.Errorf("not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestToChatMarkup_EmptyInput(t *testing.T) {
	if got := ToChatMarkup(""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
