package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "  ", ""},
		{"plain", "just text", "just text"},
		{"emphasis", "this is **bold** and _italic_", "this is bold and italic"},
		{"heading", "# Title\n\nBody", "Title\n\nBody"},
		{"link", "see [the docs](https://go.dev)", "see the docs (https://go.dev)"},
		{"code span", "run `go test`", "run go test"},
		{"fenced code", "```go\nfmt.Println(1)\n```", "fmt.Println(1)"},
		{"bullets", "- one\n- two", "- one\n- two"},
		{"numbered", "3. three\n4. four", "3. three\n4. four"},
		{"strikethrough", "~~old~~ new", "old new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPlainText(tt.in))
		})
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `Price: 1\.5 \(approx\)\!`, EscapeMarkdownV2("Price: 1.5 (approx)!"))
	assert.Equal(t, `\*bold\* \_x\_ a\-b`, EscapeMarkdownV2("*bold* _x_ a-b"))
	assert.Equal(t, "привет", EscapeMarkdownV2("привет"))
}

func TestApply(t *testing.T) {
	assert.Equal(t, "**hi**", Apply(ParseFormat(""), "**hi**"))
	assert.Equal(t, "hi", Apply(ParseFormat("PLAIN"), "**hi**"))
	assert.Equal(t, `\*\*hi\*\*`, Apply(ParseFormat("markdown_v2"), "**hi**"))
}
