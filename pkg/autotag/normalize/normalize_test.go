package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubSource map[string]string

func (s stubSource) GetContentBody(ctx context.Context, itemID string) (string, error) {
	body, ok := s[itemID]
	if !ok {
		return "", errors.New("missing")
	}
	return body, nil
}

func TestUnwrapShortcodes(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`[caption id="attachment_7" align="left"]A cat on a mat[/caption]`, "A cat on a mat"},
		{"before [quote]inside[/quote] after", "before inside after"},
		{"[gallery]\nmulti\nline[/gallery]", "\nmulti\nline"},
		{"no wrappers here", "no wrappers here"},
		{"[outer][inner]text[/inner][/outer]", "[inner]text[/inner]"},
		{"[row][column]Left[/column][column]Right[/column][/row]", "[column]Left[/column][column]Right[/column]"},
		{"[box][box]twice[/box][/box]", "[box]twice[/box]"},
		{"[a]mismatched[/b]", "[a]mismatched[/b]"},
		{"[a]x[/b] y[/a]", "x[/b] y"},
		{"[empty][/empty] kept", "[empty][/empty] kept"},
		{"[open] no close", "[open] no close"},
	}
	for _, tc := range cases {
		if got := UnwrapShortcodes(tc.in); got != tc.want {
			t.Errorf("UnwrapShortcodes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUnwrapShortcodesRepeatedFlattens(t *testing.T) {
	text := "[row][column]Left[/column][column]Right[/column][/row]"
	for {
		next := UnwrapShortcodes(text)
		if next == text {
			break
		}
		text = next
	}
	if text != "LeftRight" {
		t.Errorf("fully unwrapped = %q, want %q", text, "LeftRight")
	}
}

func TestStripMarkup(t *testing.T) {
	in := `<h2>Title</h2><p>First   <strong>bold</strong> para&nbsp;graph.</p>
<script>var x = 1;</script><!-- note --><ul><li>one</li><li>two &amp; three</li></ul>`

	got := StripMarkup(in)
	want := "Title\nFirst bold para graph.\none\ntwo & three"
	if got != want {
		t.Errorf("StripMarkup =\n%q\nwant\n%q", got, want)
	}
	if strings.Contains(got, "<") || strings.Contains(got, "var x") {
		t.Errorf("residual markup in %q", got)
	}
}

func TestStripMarkupPlainText(t *testing.T) {
	if got := StripMarkup("Hello, world."); got != "Hello, world." {
		t.Errorf("StripMarkup = %q", got)
	}
	if got := StripMarkup("   \n\t "); got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
}

func TestNormalizeUsesStoredBody(t *testing.T) {
	n := New(stubSource{"post-1": `[caption]<p>Go &lt;3 tags</p>[/caption]`})

	got, err := n.Normalize(context.Background(), "post-1", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "Go <3 tags" {
		t.Errorf("Normalize = %q", got)
	}
}

func TestNormalizeOverride(t *testing.T) {
	n := New(stubSource{"post-1": "stored"})

	override := "<p>draft text</p>"
	got, err := n.Normalize(context.Background(), "post-1", &override)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "draft text" {
		t.Errorf("Normalize = %q, want override text", got)
	}
}

func TestNormalizeMissingItem(t *testing.T) {
	n := New(stubSource{})
	if _, err := n.Normalize(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected error for missing item")
	}
}
