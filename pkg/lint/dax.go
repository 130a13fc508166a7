package lint

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/catalog"
)

// daxCode is an expression with comments removed and the contents of string
// literals, quoted table names and [bracketed] identifiers blanked out, so
// that operators and function names can be matched without false positives.
type daxCode struct {
	text  string
	lines int // non-blank lines once comments are removed
}

var errScan = errors.New("cannot scan expression")

// scanDAX prepares an expression for construct matching. It fails on
// unterminated strings, identifiers or block comments and on unbalanced
// parentheses.
func scanDAX(expr string) (daxCode, error) {
	var b strings.Builder
	b.Grow(len(expr))
	depth := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '/' && i+1 < len(expr) && expr[i+1] == '/',
			c == '-' && i+1 < len(expr) && expr[i+1] == '-':
			for i < len(expr) && expr[i] != '\n' {
				i++
			}
			if i < len(expr) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(expr) && expr[i+1] == '*':
			end := strings.Index(expr[i+2:], "*/")
			if end < 0 {
				return daxCode{}, fmt.Errorf("%w: unterminated block comment", errScan)
			}
			// Keep line breaks so line counts stay meaningful.
			b.WriteString(strings.Repeat("\n", strings.Count(expr[i:i+2+end], "\n")))
			b.WriteByte(' ')
			i += end + 3
		case c == '"' || c == '\'':
			j, ok := closeQuoted(expr, i, c)
			if !ok {
				return daxCode{}, fmt.Errorf("%w: unterminated %s", errScan, quotedName(c))
			}
			b.WriteByte(c)
			b.WriteString(strings.Repeat(" ", j-i-1))
			b.WriteByte(c)
			i = j
		case c == '[':
			j := strings.IndexByte(expr[i+1:], ']')
			if j < 0 {
				return daxCode{}, fmt.Errorf("%w: unterminated [identifier]", errScan)
			}
			b.WriteByte('[')
			b.WriteString(strings.Repeat(" ", j))
			b.WriteByte(']')
			i += j + 1
		default:
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return daxCode{}, fmt.Errorf("%w: unbalanced ')'", errScan)
				}
			}
			b.WriteByte(c)
		}
	}
	if depth != 0 {
		return daxCode{}, fmt.Errorf("%w: %d unclosed '('", errScan, depth)
	}
	text := b.String()
	lines := 0
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines++
		}
	}
	return daxCode{text: text, lines: lines}, nil
}

// closeQuoted returns the index of the quote closing the literal opened at
// i. Doubled quotes are escapes.
func closeQuoted(s string, i int, q byte) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j, true
	}
	return 0, false
}

func quotedName(q byte) string {
	if q == '"' {
		return "string literal"
	}
	return "quoted table name"
}

var (
	reLookupValue = regexp.MustCompile(`(?i)\bLOOKUPVALUE\s*\(`)
	reAllTable    = regexp.MustCompile(`(?i)\bALL\s*\(\s*('[^']*'|[A-Za-z_][A-Za-z0-9_]*)\s*\)`)
	reDivide      = regexp.MustCompile(`(?i)\bDIVIDE\s*\(`)
	reCount       = regexp.MustCompile(`(?i)\bCOUNT\s*\(`)
	reVar         = regexp.MustCompile(`(?i)\bVAR\b`)
)

// matchConstruct reports whether code contains the construct, with a short
// description of what was found.
func matchConstruct(code daxCode, check catalog.AntiPatternCheck) (bool, string) {
	switch check.Construct {
	case catalog.ConstructLookupValue:
		return reLookupValue.MatchString(code.text), "uses LOOKUPVALUE"
	case catalog.ConstructAllTable:
		return reAllTable.MatchString(code.text), "applies ALL to a whole table"
	case catalog.ConstructCountColumn:
		return reCount.MatchString(code.text), "uses COUNT over a column"
	case catalog.ConstructRawDivision:
		return strings.Contains(code.text, "/"), "uses the / operator"
	case catalog.ConstructDivideWithoutDefault:
		for _, loc := range reDivide.FindAllStringIndex(code.text, -1) {
			if topLevelArgs(code.text, loc[1]) < 3 {
				return true, "calls DIVIDE without an alternate result"
			}
		}
		return false, ""
	case catalog.ConstructLongWithoutVar:
		long := code.lines >= check.MinLines && !reVar.MatchString(code.text)
		return long, fmt.Sprintf("spans %d lines without VAR", code.lines)
	default:
		return false, ""
	}
}

// topLevelArgs counts the arguments of the call whose '(' ends just before
// open. The code is known to be balanced.
func topLevelArgs(code string, open int) int {
	depth, args, empty := 0, 1, true
	for i := open; i < len(code); i++ {
		switch c := code[i]; c {
		case '(':
			depth++
			empty = false
		case ')':
			if depth == 0 {
				if empty {
					return 0
				}
				return args
			}
			depth--
		case ',':
			if depth == 0 {
				args++
			}
		case ' ', '\t', '\r', '\n':
		default:
			empty = false
		}
	}
	return args
}
