// Package casing splits identifiers into words and converts them between
// naming styles.
//
// A name complies with a style exactly when converting it yields the name
// unchanged, so every conversion is idempotent.
package casing

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Style is a naming style.
type Style int

// Supported styles.
const (
	Snake Style = iota + 1
	Pascal
	Camel
	PascalWithSpaces
)

// Styles lists every supported style.
var Styles = []Style{Snake, Pascal, Camel, PascalWithSpaces}

func (s Style) String() string {
	switch s {
	case Snake:
		return "snake_case"
	case Pascal:
		return "PascalCase"
	case Camel:
		return "camelCase"
	case PascalWithSpaces:
		return "pascal_case_with_spaces"
	default:
		return fmt.Sprintf("Style(%d)", int(s))
	}
}

// ParseStyle accepts the canonical style names and common spellings such as
// "snake", "pascal_case" or "Title Case".
func ParseStyle(s string) (Style, bool) {
	key := strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == ' ' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	switch key {
	case "snake", "snakecase":
		return Snake, true
	case "pascal", "pascalcase", "uppercamelcase":
		return Pascal, true
	case "camel", "camelcase", "lowercamelcase":
		return Camel, true
	case "pascalcasewithspaces", "pascalwithspaces", "title", "titlecase":
		return PascalWithSpaces, true
	default:
		return 0, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Style) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Style) UnmarshalText(b []byte) error {
	v, ok := ParseStyle(string(b))
	if !ok {
		return fmt.Errorf("unknown casing style %q", string(b))
	}
	*s = v
	return nil
}

// Split breaks a name into words. Runs of non-alphanumeric characters
// separate words, as do lower-to-upper transitions and the end of an acronym
// ("HTTPServer" splits into "HTTP" and "Server"). Digits stay attached to
// the word they follow and combining marks to the letter they modify.
func Split(name string) []string {
	rs := []rune(name)
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		if unicode.IsMark(r) {
			cur = append(cur, r)
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if prev, ok := lastBase(cur); ok && unicode.IsUpper(r) {
			switch {
			case unicode.IsLower(prev), unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(prev) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// lastBase returns the last rune of a word that is not a combining mark.
func lastBase(word []rune) (rune, bool) {
	for i := len(word) - 1; i >= 0; i-- {
		if !unicode.IsMark(word[i]) {
			return word[i], true
		}
	}
	return 0, false
}

// Prefix returns the lower-cased first word of name, or "" when name has no
// words.
func Prefix(name string) string {
	words := Split(name)
	if len(words) == 0 {
		return ""
	}
	return cases.Lower(language.Und).String(words[0])
}

// Convert rewrites name in the given style. Names without any word
// characters are returned unchanged.
func Convert(style Style, name string) string {
	words := Split(name)
	if len(words) == 0 {
		return name
	}
	// Casers keep state and are created per call.
	lower := cases.Lower(language.Und)

	out := make([]string, len(words))
	switch style {
	case Snake:
		for i, w := range words {
			out[i] = lower.String(w)
		}
		return strings.Join(out, "_")
	case Pascal:
		for i, w := range words {
			out[i] = upperFirst(w)
		}
		return strings.Join(out, "")
	case Camel:
		for i, w := range words {
			if i == 0 {
				out[i] = lower.String(w)
			} else {
				out[i] = upperFirst(w)
			}
		}
		return strings.Join(out, "")
	case PascalWithSpaces:
		for i, w := range words {
			out[i] = upperFirst(w)
		}
		return strings.Join(out, " ")
	default:
		return name
	}
}

// upperFirst upper-cases the first rune of a word and keeps the rest as
// written, so "2nd" stays "2nd" rather than becoming "2Nd".
func upperFirst(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}

// Is reports whether name already complies with style.
func Is(style Style, name string) bool {
	return Convert(style, name) == name
}

// Funcs returns template helpers for the casing styles.
func Funcs() map[string]any {
	return map[string]any{
		"snake":  func(s string) string { return Convert(Snake, s) },
		"pascal": func(s string) string { return Convert(Pascal, s) },
		"camel":  func(s string) string { return Convert(Camel, s) },
		"title":  func(s string) string { return Convert(PascalWithSpaces, s) },
		"lower":  func(s string) string { return cases.Lower(language.Und).String(s) },
		"upper":  func(s string) string { return cases.Upper(language.Und).String(s) },
		"prefix": Prefix,
	}
}
