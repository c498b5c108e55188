package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iancoleman/orderedmap"

	"github.com/fxnatic/jsdeob/deobfuscator"
)

var (
	colorAccent  = lipgloss.Color("#F5C2E7")
	colorMuted   = lipgloss.Color("#6B7280")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Background(lipgloss.Color("#313244")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(18)

	okStyle   = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
)

func renderSummary(input, output string, s deobfuscator.Stats) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	count := func(n int, bad bool) string {
		if bad && n > 0 {
			return warnStyle.Render(fmt.Sprint(n))
		}
		return okStyle.Render(fmt.Sprint(n))
	}

	rows := []string{
		titleStyle.Render("jsdeob"),
		row("input", input),
		row("output", output),
		row("string table", s.StringTable),
		row("dispatcher", s.Dispatcher),
		row("wrappers", strings.Join(s.Wrappers, ", ")),
		row("folded", count(s.Folded, false)),
		row("skipped", count(s.Skipped, true)),
		row("failed", count(s.Failed, true)),
		row("unresolved", count(s.Unresolved, true)),
		row("operator maps", count(s.Maps, false)),
		row("partial maps", count(len(s.PartialMaps), true)),
		row("duration", s.Duration.Round(time.Millisecond).String()),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// reportOf lays the run statistics out in a fixed key order.
func reportOf(input, output string, s deobfuscator.Stats) *orderedmap.OrderedMap {
	wrappers := s.Wrappers
	if wrappers == nil {
		wrappers = []string{}
	}
	partial := s.PartialMaps
	if partial == nil {
		partial = []string{}
	}

	o := orderedmap.New()
	o.Set("input", input)
	o.Set("output", output)
	o.Set("string_table", s.StringTable)
	o.Set("dispatcher", s.Dispatcher)
	o.Set("wrappers", wrappers)
	o.Set("folded", s.Folded)
	o.Set("skipped", s.Skipped)
	o.Set("failed", s.Failed)
	o.Set("aliases", s.Aliases)
	o.Set("unresolved", s.Unresolved)
	o.Set("operator_maps", s.Maps)
	o.Set("binary_rewrites", s.BinaryRewrites)
	o.Set("index_rewrites", s.IndexRewrites)
	o.Set("partial_maps", partial)
	o.Set("constants_inlined", s.ConstantsInlined)
	o.Set("value_or_default", s.ValueOrDefault)
	o.Set("simplified", s.Simplified)
	o.Set("bracket_to_dot", s.BracketToDot)
	o.Set("pruned", s.Pruned)
	o.Set("duration_ms", s.Duration.Milliseconds())
	return o
}

func writeReport(path, input, output string, s deobfuscator.Stats) error {
	data, err := json.MarshalIndent(reportOf(input, output, s), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
