package visitors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

// idOf returns the first binding called name, or a bare id when nothing in p
// uses the name.
func idOf(p *ast.Program, name string) ast.Id {
	if name == "" {
		return ast.Id{}
	}
	if b := frontend.Collect(p).Lookup(name); len(b) > 0 {
		return b[0].Id
	}
	return ast.Id{Name: name}
}

func TestRecognizers(t *testing.T) {
	tests := []struct {
		name   string
		rec    Recognizer
		src    string
		target string
		match  bool
		want   string
	}{
		{
			name:  "string table",
			rec:   stringTableRecognizer{},
			src:   `function I() { var a = ["x", "y"]; return I = function () { return a; }, I(); }`,
			match: true,
			want:  "I",
		},
		{
			name:  "string table with non-string element",
			rec:   stringTableRecognizer{},
			src:   `function I() { var a = ["x", 1]; return I = function () { return a; }, I(); }`,
			match: false,
		},
		{
			name:  "string table returning another array",
			rec:   stringTableRecognizer{},
			src:   `function I() { var a = ["x"]; return I = function () { return b; }, I(); }`,
			match: false,
		},
		{
			name:   "dispatcher",
			rec:    dispatcherRecognizer{},
			src:    `function f(a, b) { var t = I(); return f = function (a, b) { return t[a]; }, f(a, b); }`,
			target: "I",
			match:  true,
			want:   "f",
		},
		{
			name:   "dispatcher calling another table",
			rec:    dispatcherRecognizer{},
			src:    `function f(a, b) { var t = J(); return f = function (a, b) { return t[a]; }, f(a, b); }`,
			target: "I",
			match:  false,
		},
		{
			name:   "dispatcher with swapped arguments",
			rec:    dispatcherRecognizer{},
			src:    `function f(a, b) { var t = I(); return f = function (a, b) { return t[a]; }, f(b, a); }`,
			target: "I",
			match:  false,
		},
		{
			name:   "wrapper subtracting negative offset",
			rec:    wrapperRecognizer{},
			src:    `function u(W, n) { return f(n - -882, W); }`,
			target: "f",
			match:  true,
			want:   "u",
		},
		{
			name:   "wrapper with leading constant",
			rec:    wrapperRecognizer{},
			src:    `function u(W, n) { return f(W, 12 + n); }`,
			target: "f",
			match:  true,
			want:   "u",
		},
		{
			name:   "wrapper without offset",
			rec:    wrapperRecognizer{},
			src:    `function u(W, n) { return f(n, W); }`,
			target: "f",
			match:  false,
		},
		{
			name:   "wrapper for another target",
			rec:    wrapperRecognizer{},
			src:    `function u(W, n) { return g(n - 1, W); }`,
			target: "f",
			match:  false,
		},
		{
			name:   "shuffle",
			rec:    shuffleRecognizer{},
			src:    `(function (g, n) { g(); })(I, 4411);`,
			target: "I",
			match:  true,
		},
		{
			name:   "shuffle behind void",
			rec:    shuffleRecognizer{},
			src:    `void (function (g, n) { g(); })(I, 4411);`,
			target: "I",
			match:  true,
		},
		{
			name:   "shuffle with identifier count",
			rec:    shuffleRecognizer{},
			src:    `(function (g, n) { g(); })(I, k);`,
			target: "I",
			match:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := mustParse(t, tt.src)
			require.Len(t, prog.Body, 1)

			ext, ok := tt.rec.Match(&prog.Body[0], idOf(prog, tt.target))
			require.Equal(t, tt.match, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, ext.Name)
			assert.NotEmpty(t, ext.Snippet)
			assert.Same(t, &prog.Body[0], ext.Stmt)
		})
	}
}

func TestShuffleSnippetDropsUnaryWrapper(t *testing.T) {
	prog := mustParse(t, `!(function (g, n) { g(); })(I, 7);`)
	ext, ok := shuffleRecognizer{}.Match(&prog.Body[0], idOf(prog, "I"))
	require.True(t, ok)
	assert.False(t, strings.HasPrefix(ext.Snippet, "!"), "got %q", ext.Snippet)
}
