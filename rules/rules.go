// Package rules mines the request-signing constants embedded in a script.
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/iancoleman/orderedmap"
	"github.com/rs/zerolog"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
	"github.com/fxnatic/jsdeob/utils"
)

const (
	staticParamLen = 32
	checksumModulo = 40
)

// Rules holds the mined values. Unset strings are emitted as null.
type Rules struct {
	Prefix           string
	Suffix           string
	StaticParam      string
	RemoveHeaders    []string
	ChecksumIndexes  []int
	ChecksumConstant int64
}

func (r *Rules) Complete() bool {
	return r.Prefix != "" && r.Suffix != "" && r.StaticParam != ""
}

// Format is the signing format string, or "" when prefix or suffix is unknown.
func (r *Rules) Format() string {
	if r.Prefix == "" || r.Suffix == "" {
		return ""
	}
	return fmt.Sprintf("%s:{}:{:x}:%s", r.Prefix, r.Suffix)
}

// Ordered returns the rules as an ordered map in their canonical key order.
func (r *Rules) Ordered() *orderedmap.OrderedMap {
	nullable := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}

	indexes := r.ChecksumIndexes
	if indexes == nil {
		indexes = []int{}
	}
	headers := r.RemoveHeaders
	if headers == nil {
		headers = []string{}
	}

	o := orderedmap.New()
	o.Set("start", nullable(r.Prefix))
	o.Set("end", nullable(r.Suffix))
	o.Set("format", nullable(r.Format()))
	o.Set("prefix", nullable(r.Prefix))
	o.Set("suffix", nullable(r.Suffix))
	o.Set("static_param", nullable(r.StaticParam))
	o.Set("remove_headers", headers)
	o.Set("checksum_indexes", indexes)
	o.Set("checksum_constant", r.ChecksumConstant)
	return o
}

func (r *Rules) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Ordered())
}

type miner struct {
	ast.NoopVisitor
	rules   *Rules
	indexes map[int]struct{}
}

func (v *miner) VisitExpression(n *ast.Expression) {
	switch e := n.Expr.(type) {
	case *ast.ArrayLiteral:
		v.array(e)
	case *ast.BinaryExpression:
		v.binary(e)
	}
	n.VisitChildrenWith(v)
}

func (v *miner) array(arr *ast.ArrayLiteral) {
	var elems []string
	for i := range arr.Value {
		if s, ok := arr.Value[i].Expr.(*ast.StringLiteral); ok {
			elems = append(elems, s.Value)
		}
	}
	if len(elems) == 0 {
		return
	}

	first, last := elems[0], elems[len(elems)-1]
	if len(first) == staticParamLen && v.rules.StaticParam == "" {
		v.rules.StaticParam = first
	}
	if utils.IsDigits(first) && v.rules.Prefix == "" {
		v.rules.Prefix = first
	}
	if utils.IsHex(last) && v.rules.Suffix == "" {
		v.rules.Suffix = last
	}
}

func (v *miner) binary(bin *ast.BinaryExpression) {
	if bin.Left == nil || bin.Right == nil {
		return
	}
	right, ok := integerLiteral(bin.Right.Expr)
	if !ok {
		return
	}

	switch bin.Operator.String() {
	case "+", "-":
		switch bin.Left.Expr.(type) {
		case *ast.Identifier, *ast.NumberLiteral:
		default:
			return
		}
		if bin.Operator.String() == "+" {
			v.rules.ChecksumConstant += right
		} else {
			v.rules.ChecksumConstant -= right
		}
	case "%":
		left, ok := integerLiteral(bin.Left.Expr)
		if !ok {
			return
		}
		v.indexes[int(left%checksumModulo)] = struct{}{}
	}
}

func integerLiteral(e ast.Expr) (int64, bool) {
	num, ok := e.(*ast.NumberLiteral)
	if !ok || num.Value < 0 || num.Value != math.Trunc(num.Value) || num.Value > math.MaxInt32 {
		return 0, false
	}
	return int64(num.Value), true
}

// Extract walks p and collects the rules.
func Extract(p *ast.Program, log zerolog.Logger) *Rules {
	m := &miner{
		rules:   &Rules{RemoveHeaders: []string{"user_id"}},
		indexes: make(map[int]struct{}),
	}
	m.V = m
	p.VisitWith(m)

	for idx := range m.indexes {
		m.rules.ChecksumIndexes = append(m.rules.ChecksumIndexes, idx)
	}
	sort.Ints(m.rules.ChecksumIndexes)

	if !m.rules.Complete() {
		log.Warn().
			Bool("prefix", m.rules.Prefix != "").
			Bool("suffix", m.rules.Suffix != "").
			Bool("static_param", m.rules.StaticParam != "").
			Msg("could not find all required rules")
	}
	return m.rules
}

// ExtractSource parses src and extracts its rules.
func ExtractSource(src string, log zerolog.Logger) (*Rules, error) {
	prog, err := frontend.Parse(src)
	if err != nil {
		return nil, err
	}
	return Extract(prog, log), nil
}
