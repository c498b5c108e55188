package deobfuscator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnatic/jsdeob/frontend"
	"github.com/fxnatic/jsdeob/visitors"
)

func readSample(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "sample.js"))
	require.NoError(t, err)
	return string(b)
}

func TestDeobfuscateSample(t *testing.T) {
	res, err := Deobfuscate(context.Background(), readSample(t))
	require.NoError(t, err)

	st := res.Stats
	assert.Equal(t, "_tbl", st.StringTable)
	assert.Equal(t, "_dec", st.Dispatcher)
	assert.Equal(t, []string{"_w1", "_w2"}, st.Wrappers)
	assert.Equal(t, 4, st.Folded, "calls returned from user functions are folded too")
	assert.Zero(t, st.Unresolved)
	assert.Equal(t, 1, st.Maps)
	assert.Empty(t, st.PartialMaps)
	assert.Equal(t, 1, st.ValueOrDefault)
	assert.GreaterOrEqual(t, st.BracketToDot, 1)

	for _, helper := range []string{"_tbl", "_dec", "_w1", "_w2", "_m"} {
		assert.NotContains(t, res.Code, helper)
	}
	for _, want := range []string{"echo", "charlie", "delta", "alpha", "lit", "console.log", "document.title", "opts.net.port"} {
		assert.Contains(t, res.Code, want)
	}

	_, err = frontend.Parse(res.Code)
	require.NoError(t, err, "output must re-parse:\n%s", res.Code)
}

func TestDeobfuscateIsNotIdempotent(t *testing.T) {
	res, err := Deobfuscate(context.Background(), readSample(t))
	require.NoError(t, err)

	_, err = Deobfuscate(context.Background(), res.Code)
	require.Error(t, err)
	assert.ErrorIs(t, err, visitors.ErrStructuralMismatch)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, StateFindStringTable, abort.State)
}

func TestDeobfuscateAbortStates(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		state State
	}{
		{name: "parse", src: `function (`, state: StateParseFrontend},
		{name: "table", src: `var a = 1;`, state: StateFindStringTable},
		{
			name:  "map",
			src:   strings.Split(readSample(t), "var _m =")[0],
			state: StateParseAndInlineOperatorMap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Deobfuscate(context.Background(), tt.src)
			require.Error(t, err)
			assert.Nil(t, res)

			var abort *AbortError
			require.True(t, errors.As(err, &abort))
			assert.Equal(t, tt.state, abort.State)
			assert.Contains(t, err.Error(), tt.state.String())
		})
	}
}

func TestDeobfuscateNormalizeToggles(t *testing.T) {
	res, err := Deobfuscate(context.Background(), readSample(t), WithNormalize(NormalizeOptions{}))
	require.NoError(t, err)
	assert.Zero(t, res.Stats.BracketToDot)
	assert.Zero(t, res.Stats.ValueOrDefault)
	assert.Contains(t, res.Code, "getter()")
}

func TestDeobfuscateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Deobfuscate(ctx, readSample(t), WithSandboxTimeout(time.Second))
	require.Error(t, err)
	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, StateFindStringTable, abort.State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FindDispatcherAndWrapperChain", StateFindDispatcherAndWrapperChain.String())
	assert.Equal(t, "Aborted", StateAborted.String())
	assert.Equal(t, "State(42)", State(42).String())
}
