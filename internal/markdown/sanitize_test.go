package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_Rules(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "  \n\t \n", ""},
		{"plain text untouched", "Hello there, how are you?", "Hello there, how are you?"},
		{"unterminated fence dropped", "Hello\n```python\nprint(1)\n", "Hello"},
		{"image alt text", "See ![a cat](cat.png) here", "See a cat here"},
		{"image without alt dropped", "x ![](a.png) y", "x y"},
		{"link label", "Read [the docs](https://example.com/docs) now", "Read the docs now"},
		{"inline code", "Run `go test ./...` first", "Run go test ./... first"},
		{"line markers", "# Title\n## Sub\n> quoted\n- one\n* two\n+ three\n1. first\n12. twelfth", "Title\nSub\nquoted\none\ntwo\nthree\nfirst\ntwelfth"},
		{"nested quote and bullet", "> > - deep", "deep"},
		{"emphasis", "**bold** and __strong__ and *it* and _em_ and ~~gone~~", "bold and strong and it and em and gone"},
		{"html tags", "<b>hi</b> <br/>there", "hi there"},
		{"blank lines collapsed", "a\n\n\n\n\nb", "a\n\nb"},
		{"horizontal whitespace collapsed", "a  \t b", "a b"},
		{"crlf", "one\r\ntwo", "one\ntwo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestSanitize_FencedBlocks(t *testing.T) {
	in := "Intro\n```go\nfmt.Println(\"**x**\")\n```\nMiddle\n```\nls -la\n```\nOutro"
	out := Sanitize(in)

	require.NotContains(t, out, "```")
	require.Equal(t, 2, strings.Count(out, CodePlaceholder))
	require.NotContains(t, out, "Println")
	require.True(t, strings.HasPrefix(out, "Intro"))
	require.True(t, strings.HasSuffix(out, "Outro"))
}

func TestSanitize_NoTripleBackticks(t *testing.T) {
	inputs := []string{
		"``<b>`",
		"`` ` ``` ```` ",
		"````\ncode\n````",
		"a ```b``` c ```",
		"`x``y`` z",
	}
	for _, in := range inputs {
		require.NotContains(t, Sanitize(in), "```", "input %q", in)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"# Heading\n\nSome **bold** text with a [link](http://x) and `code`.\n\n```js\nconsole.log(1)\n```\n",
		"*- tricky bullet",
		"<i>- </i>item in tags",
		"> > > quote\n\n\n\n- a\n  - b",
		"1. one\n2. two\n\n![](img.png)",
		"snake_case and __dunder__ ~~strike~~",
		"```\nunterminated",
		"Check the code below.",
		"   leading and trailing   ",
		"#  # double heading",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		require.Equal(t, once, Sanitize(once), "input %q", in)
	}
}
