package fallback

import (
	"crypto/rc4"
	"encoding/base64"
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnatic/jsdeob/fold"
)

func encrypt(t *testing.T, plain, key string) string {
	t.Helper()
	c, err := rc4.NewCipher([]byte(key))
	require.NoError(t, err)
	out := make([]byte, len(plain))
	c.XORKeyStream(out, []byte(plain))
	return base64.StdEncoding.EncodeToString(out)
}

// buildScript lays the table out pre-rotation: the shuffler moves "rot" to
// the tail, leaving hello, world, rot.
func buildScript(t *testing.T) string {
	t.Helper()
	table := []string{
		encrypt(t, "rot", "zz"),
		encrypt(t, "hello", "k1"),
		encrypt(t, "world", "k2"),
	}
	return fmt.Sprintf(`const arr = ["%s", "%s", "%s"];
(function (a, n) { while (--n) { a.push(a.shift()); } })(arr, 1);
function f(i, k) { return i; }
function u(W, n) { return f(n - -5, W); }
const ops = {
  aB: function(a, b) { return a + b; },
  cD: "str"
};
var x = f(410, "k1");
var y = u(406, "k2");
var z = f(999, "k1");
var s = ops.aB(x, y);
var t = ops["cD"];
var v = x ? x : y;
console["log"](s, t, v);
`, table[0], table[1], table[2])
}

func TestRun(t *testing.T) {
	res, err := Run(buildScript(t), DefaultOptions())
	require.NoError(t, err)

	st := res.Stats
	assert.Equal(t, "arr", st.ArrayName)
	assert.Equal(t, 3, st.Strings)
	assert.Equal(t, 1, st.Rotation)
	assert.Equal(t, 1, st.Wrappers)
	assert.Equal(t, 2, st.Decrypted)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, "ops", st.MapName)
	assert.Equal(t, 2, st.MapEntries)

	code := res.Code
	assert.Contains(t, code, `var x = "hello";`)
	assert.Contains(t, code, `var y = "world";`)
	assert.Contains(t, code, `var z = f(999, "k1");`)
	assert.Contains(t, code, `var s = (x +  y);`)
	assert.Contains(t, code, `var t = "str";`)
	assert.Contains(t, code, `var v = x || y;`)
	assert.Contains(t, code, `console.log(s, t, v);`)
}

func TestRunFailFast(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = fold.FailFast
	_, err := Run(buildScript(t), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestRunWithoutArray(t *testing.T) {
	_, err := Run(`var a = 1;`, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoStringArray)
}

func TestRotate(t *testing.T) {
	assert.Equal(t, []string{"c", "a", "b"}, rotate([]string{"a", "b", "c"}, 2))
	assert.Equal(t, []string{"b", "c", "a"}, rotate([]string{"a", "b", "c"}, 4))
	assert.Empty(t, rotate(nil, 3))
}

func TestDecryptEntry(t *testing.T) {
	got, err := decryptEntry(encrypt(t, "päss", "key"), "key")
	require.NoError(t, err)
	// Latin-1 read back of the UTF-8 bytes.
	assert.Equal(t, "pÃ¤ss", got)

	_, err = decryptEntry("***", "key")
	assert.Error(t, err)
	_, err = decryptEntry(encrypt(t, "a", "k"), "")
	assert.Error(t, err)
}

func TestExtractStringArrayNested(t *testing.T) {
	name, table, ok := extractStringArray(`let T = ["a", ["b"], "c"]; var other = ["d"];`)
	require.True(t, ok)
	assert.Equal(t, "T", name)
	assert.Equal(t, []string{"a", "b", "c"}, table)
	assert.False(t, strings.Contains(strings.Join(table, ""), "d"))
}

// The regex path must build without the AST toolchain.
func TestNoTreeDependencies(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			assert.NotContains(t, path, "go-fast", name)
			assert.NotContains(t, path, "jsdeob/visitors", name)
			assert.NotContains(t, path, "jsdeob/frontend", name)
		}
	}
}
