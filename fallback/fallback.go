// Package fallback undoes the string-table scheme with text patterns alone.
// It needs no parser and no sandbox but only copes with the common layout:
// a `const` string array, a push/shift rotation, wrapper functions subtracting
// constant offsets and an RC4 + base64 table.
package fallback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"

	"github.com/fxnatic/jsdeob/fold"
)

const DefaultBaseOffset = 410

var (
	ErrNoStringArray = errors.New("could not find the obfuscated string array")

	arrayStartRe = regexp.MustCompile(`(?:const|var|let)\s+([A-Za-z0-9_$]+)\s*=\s*\[`)
	stringLitRe  = regexp.MustCompile(`"((?:\\"|[^"])*)"`)
	shuffleRe    = regexp.MustCompile(`\s*\(\s*function\s*\(\s*\w+\s*,\s*(\w+)\s*\)\s*\{[\s\S]+?` +
		`while\s*\(--\w+\)\s*\{\s*[\s\S]+?\.push\([\s\S]+?\.shift\(\)\);\s*\}\s*;?\s*\}\s*\)` +
		`\s*\([^,]+?,\s*(\d+)\s*\);`)
	wrapperRe = regexp.MustCompile(`function\s+([A-Za-z0-9_$]+)\s*\([^)]+\)\s*\{[^{}]*?` +
		`return\s+([A-Za-z0-9_$]+)\([^,]+?-\s*(-?\d+)[^)]*\)[^}]*\}`)
	callRe     = regexp.MustCompile(`\b([A-Za-z0-9_$]+)\(([^,()]+),\s*"([^"]*)"\)`)
	mapStartRe = regexp.MustCompile(`const\s+([A-Za-z0-9_$]+)\s*=\s*\{`)
	binopRe    = regexp.MustCompile(`([A-Za-z0-9_$]+)\s*:\s*function\([^)]+\)\s*\{\s*return\s+[^ ]+\s*([+\-%*&|/])\s*[^;]+;\s*\}`)
	mapStrRe   = regexp.MustCompile(`([A-Za-z0-9_$]+)\s*:\s*"((?:\\"|[^"])*)"`)
	bracketRe  = regexp.MustCompile(`([A-Za-z0-9_$]+)\["([A-Za-z_][A-Za-z0-9_]*)"\]`)

	// RE2 has no backreferences.
	ternaryRe = regexp2.MustCompile(`(\w+)\s*\?\s*\1\s*:\s*(\w+)`, regexp2.None)
)

type Options struct {
	BaseOffset int
	Policy     fold.Policy
	Log        zerolog.Logger
}

func DefaultOptions() Options {
	return Options{BaseOffset: DefaultBaseOffset, Log: zerolog.Nop()}
}

type Stats struct {
	ArrayName  string
	Strings    int
	Rotation   int
	Wrappers   int
	Decrypted  int
	Failed     int
	MapName    string
	MapEntries int
}

type Result struct {
	Code  string
	Stats Stats
}

type wrapper struct {
	calls  string
	offset int
}

// Run applies every text pass to src.
func Run(src string, opts Options) (*Result, error) {
	log := opts.Log
	res := &Result{}

	name, table, ok := extractStringArray(src)
	if !ok {
		return nil, ErrNoStringArray
	}
	res.Stats.ArrayName = name
	res.Stats.Strings = len(table)
	log.Info().Str("array", name).Int("strings", len(table)).Msg("found string array")

	if n, ok := shuffleCount(src); ok {
		table = rotate(table, n)
		res.Stats.Rotation = n
		log.Info().Int("rotations", n).Msg("applied array shuffle")
	} else {
		log.Warn().Msg("no array shuffler found")
	}

	wrappers := extractWrappers(src)
	res.Stats.Wrappers = len(wrappers)
	if len(wrappers) == 0 {
		log.Warn().Msg("could not extract decryption wrappers")
	}

	d := &decrypter{table: table, wrappers: wrappers, base: opts.BaseOffset, roots: chainRoots(wrappers)}
	code, err := d.replaceCalls(src, opts.Policy, log)
	res.Stats.Decrypted, res.Stats.Failed = d.decrypted, d.failed
	if err != nil {
		return nil, err
	}

	if mapName, entries, ok := extractOperatorMap(code); ok {
		res.Stats.MapName = mapName
		res.Stats.MapEntries = len(entries)
		code = replaceOperatorMapUses(code, mapName, entries)
	} else {
		log.Warn().Msg("could not extract the operator map")
	}

	code = simplifyTernaries(code)
	code = bracketRe.ReplaceAllString(code, "$1.$2")
	res.Code = code
	return res, nil
}

// extractStringArray finds the first array declaration and scans to its
// matching bracket.
func extractStringArray(src string) (string, []string, bool) {
	loc := arrayStartRe.FindStringSubmatchIndex(src)
	if loc == nil {
		return "", nil, false
	}
	name := src[loc[2]:loc[3]]

	start := loc[1]
	depth := 1
	end := -1
	for i := start; i < len(src); i++ {
		switch src[i] {
		case '[':
			depth++
		case ']':
			depth--
		}
		if depth == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", nil, false
	}

	var out []string
	for _, m := range stringLitRe.FindAllStringSubmatch(src[start:end], -1) {
		out = append(out, m[1])
	}
	return name, out, true
}

func shuffleCount(src string) (int, bool) {
	m := shuffleRe.FindStringSubmatch(src)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// rotate moves the head of table to its tail n times.
func rotate(table []string, n int) []string {
	if len(table) == 0 {
		return table
	}
	n %= len(table)
	out := make([]string, 0, len(table))
	out = append(out, table[n:]...)
	return append(out, table[:n]...)
}

func extractWrappers(src string) map[string]wrapper {
	out := make(map[string]wrapper)
	for _, m := range wrapperRe.FindAllStringSubmatch(src, -1) {
		offset, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		out[m[1]] = wrapper{calls: m[2], offset: offset}
	}
	return out
}

// chainRoots returns the functions wrappers end up calling that are not
// wrappers themselves: the dispatchers.
func chainRoots(wrappers map[string]wrapper) map[string]struct{} {
	roots := make(map[string]struct{})
	for _, w := range wrappers {
		if _, isWrapper := wrappers[w.calls]; !isWrapper {
			roots[w.calls] = struct{}{}
		}
	}
	return roots
}

type decrypter struct {
	table     []string
	wrappers  map[string]wrapper
	roots     map[string]struct{}
	base      int
	decrypted int
	failed    int
}

func (d *decrypter) known(name string) bool {
	if _, ok := d.wrappers[name]; ok {
		return true
	}
	_, ok := d.roots[name]
	return ok
}

func (d *decrypter) decrypt(fn, indexArg, key string) (string, error) {
	index, err := strconv.ParseInt(strings.TrimSpace(indexArg), 0, 64)
	if err != nil {
		return "", fmt.Errorf("index %q is not a number", indexArg)
	}
	idx := int(index) - d.base

	seen := make(map[string]struct{})
	for name := fn; ; {
		w, ok := d.wrappers[name]
		if !ok {
			break
		}
		if _, loop := seen[name]; loop {
			return "", fmt.Errorf("wrapper cycle through %s", name)
		}
		seen[name] = struct{}{}
		idx -= w.offset
		name = w.calls
	}

	if idx < 0 || idx >= len(d.table) {
		return "", fmt.Errorf("index %d out of range", idx)
	}
	return decryptEntry(d.table[idx], key)
}

func (d *decrypter) replaceCalls(src string, policy fold.Policy, log zerolog.Logger) (string, error) {
	var out strings.Builder
	rest := src
	for {
		loc := callRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			out.WriteString(rest)
			return out.String(), nil
		}
		fn, idx, key := rest[loc[2]:loc[3]], rest[loc[4]:loc[5]], rest[loc[6]:loc[7]]

		if !d.known(fn) {
			out.WriteString(rest[:loc[1]])
			rest = rest[loc[1]:]
			continue
		}

		val, err := d.decrypt(fn, idx, key)
		if err != nil {
			call := rest[loc[0]:loc[1]]
			if policy == fold.FailFast {
				return "", fmt.Errorf("decrypting %s: %w", call, err)
			}
			d.failed++
			log.Warn().Err(err).Str("call", call).Msg("leaving call unresolved")
			out.WriteString(rest[:loc[1]])
			rest = rest[loc[1]:]
			continue
		}

		d.decrypted++
		out.WriteString(rest[:loc[0]])
		out.WriteString(quote(val))
		rest = rest[loc[1]:]
	}
}

// quote renders s as a double-quoted JS string literal.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

type mapEntry struct {
	op    string
	value string
	isOp  bool
}

func extractOperatorMap(src string) (string, map[string]mapEntry, bool) {
	loc := mapStartRe.FindStringSubmatchIndex(src)
	if loc == nil {
		return "", nil, false
	}
	name := src[loc[2]:loc[3]]

	start := loc[1]
	depth := 1
	end := -1
	for i := start; i < len(src) && end < 0; i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
	}
	if end < 0 {
		return "", nil, false
	}
	body := src[start:end]

	entries := make(map[string]mapEntry)
	for _, m := range binopRe.FindAllStringSubmatch(body, -1) {
		entries[m[1]] = mapEntry{op: m[2], isOp: true}
	}
	for _, m := range mapStrRe.FindAllStringSubmatch(body, -1) {
		entries[m[1]] = mapEntry{value: m[2]}
	}
	if len(entries) == 0 {
		return "", nil, false
	}
	return name, entries, true
}

func replaceOperatorMapUses(src, name string, entries map[string]mapEntry) string {
	for key, e := range entries {
		if !e.isOp {
			continue
		}
		re := regexp.MustCompile(regexp.QuoteMeta(name) + `\.` + regexp.QuoteMeta(key) + `\(([^,]+?),([^)]+?)\)`)
		src = re.ReplaceAllString(src, "($1 "+e.op+" $2)")
	}
	for key, e := range entries {
		if e.isOp {
			continue
		}
		re := regexp.MustCompile(regexp.QuoteMeta(name) + `\["` + regexp.QuoteMeta(key) + `"\]`)
		lit := quote(e.value)
		src = re.ReplaceAllLiteralString(src, lit)
	}
	return src
}

func simplifyTernaries(src string) string {
	out, err := ternaryRe.Replace(src, "$1 || $2", -1, -1)
	if err != nil {
		return src
	}
	return out
}
