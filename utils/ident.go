package utils

import "regexp"

var identifierName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reservedWords = map[string]struct{}{
	"break": {}, "case": {}, "catch": {}, "class": {}, "const": {}, "continue": {},
	"debugger": {}, "default": {}, "delete": {}, "do": {}, "else": {}, "enum": {},
	"export": {}, "extends": {}, "false": {}, "finally": {}, "for": {}, "function": {},
	"if": {}, "import": {}, "in": {}, "instanceof": {}, "new": {}, "null": {},
	"return": {}, "super": {}, "switch": {}, "this": {}, "throw": {}, "true": {},
	"try": {}, "typeof": {}, "var": {}, "void": {}, "while": {}, "with": {},
	"yield": {}, "let": {}, "static": {}, "implements": {}, "interface": {},
	"package": {}, "private": {}, "protected": {}, "public": {}, "await": {},
}

// IsReservedWord reports whether name is a JavaScript reserved word,
// including the strict mode future reserved words and literal keywords.
func IsReservedWord(name string) bool {
	_, ok := reservedWords[name]
	return ok
}

// IsIdentifierName reports whether s is safe to emit as a dot accessor:
// letters, digits and underscore, not starting with a digit, not reserved.
func IsIdentifierName(s string) bool {
	return identifierName.MatchString(s) && !IsReservedWord(s)
}
