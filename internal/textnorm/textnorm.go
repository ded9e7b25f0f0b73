// Package textnorm canonicalizes free text into stable lookup keys. Every fuzzy
// match on attribute names, option labels and unit tokens goes through Normalize.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// glyph folds quote, dash and space variants. Line breaks survive so callers
// can still split on them.
func glyph(r rune) rune {
	switch r {
	case '«', '»', '„', '“', '”', '‟', '″', '〃', '＂':
		return '"'
	case '‘', '’', '‚', '‛', '′', '`', '´', '‹', '›':
		return '\''
	case '‐', '‑', '‒', '–', '—', '―', '−', '﹘', '﹣', '－':
		return '-'
	case 'ё':
		return 'е'
	case 'Ё':
		return 'Е'
	case '\n', '\r':
		return r
	}
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
}

func invisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

// accent matches combining marks except the breve, which "й" decomposes into.
func accent(r rune) bool {
	return r != '\u0306' && unicode.Is(unicode.Mn, r)
}

// Latin letters that render like Cyrillic ones.
var lookalikes = map[rune]rune{
	'A': 'А', 'B': 'В', 'C': 'С', 'E': 'Е', 'H': 'Н', 'K': 'К', 'M': 'М',
	'O': 'О', 'P': 'Р', 'T': 'Т', 'X': 'Х', 'Y': 'У',
	'a': 'а', 'c': 'с', 'e': 'е', 'o': 'о', 'p': 'р', 'x': 'х', 'y': 'у',
}

// unifyLookalikes rewrites Latin lookalikes inside words that already carry
// Cyrillic letters. Pure Latin words such as "bar" or "Pro" are left alone.
func unifyLookalikes(s string) string {
	rs := []rune(s)
	changed := false
	for i := 0; i < len(rs); {
		if !unicode.IsLetter(rs[i]) {
			i++
			continue
		}
		j := i
		cyrillic := false
		for j < len(rs) && unicode.IsLetter(rs[j]) {
			if unicode.Is(unicode.Cyrillic, rs[j]) {
				cyrillic = true
			}
			j++
		}
		if cyrillic {
			for k := i; k < j; k++ {
				if c, ok := lookalikes[rs[k]]; ok {
					rs[k] = c
					changed = true
				}
			}
		}
		i = j
	}
	if !changed {
		return s
	}
	return string(rs)
}

// Fold unifies glyph variants without changing case. NFKD also turns
// superscript and subscript digits into plain digits ("м³" becomes "м3").
func Fold(raw string) string {
	t := transform.Chain(
		runes.Remove(runes.Predicate(invisible)),
		runes.Map(glyph),
		norm.NFKD,
		runes.Remove(runes.Predicate(accent)),
		norm.NFC,
		runes.Map(glyph),
	)
	out, _, err := transform.String(t, raw)
	if err != nil {
		return raw
	}
	return unifyLookalikes(out)
}

const trimSet = " .,;:"

// Normalize returns the lookup key for raw, or "" when nothing is left after trimming.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ToLower(Fold(raw))
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, trimSet)
}

// UnitKey normalizes a unit token such as "мм.", "(кг)" or "м^3".
func UnitKey(token string) string {
	s := Normalize(token)
	s = strings.ReplaceAll(s, "^", "")
	s = strings.Trim(s, "()[]{}")
	return strings.Trim(s, trimSet)
}
