// Package valueparse extracts numbers, unit tokens, booleans and option labels
// from free-text spec values.
package valueparse

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/textnorm"
)

// ClearMarker deletes the stored value. A blank value leaves it unchanged.
const ClearMarker = "!clear"

var (
	numberRe     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	rangeRe      = regexp.MustCompile(`\d(?:[.,]\d+)?\s*-\s*-?\d`)
	delimitersRe = regexp.MustCompile(`[,;|\r\n]+`)
)

// ParseCell turns a raw incoming value into an explicit intent.
func ParseCell(raw string) domain.Cell {
	trimmed := strings.TrimSpace(textnorm.Fold(raw))
	switch {
	case trimmed == "":
		return domain.Cell{Intent: domain.IntentUnchanged}
	case strings.EqualFold(trimmed, ClearMarker):
		return domain.Cell{Intent: domain.IntentClear}
	}
	return domain.Cell{Intent: domain.IntentSet, Raw: trimmed}
}

type numberMatch struct {
	start, end int
	value      float64
	// groupable is set while a following " ddd" may still extend the integer part.
	groupable bool
}

func findNumbers(s string) []numberMatch {
	var out []numberMatch
	for _, loc := range numberRe.FindAllStringIndex(s, -1) {
		start, end := loc[0], loc[1]
		text := s[start:end]
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(s[:start])
			// "м3", "IP65": digits glued to letters belong to the token.
			if unicode.IsLetter(prev) {
				continue
			}
		}
		v, err := strconv.ParseFloat(strings.Replace(text, ",", ".", 1), 64)
		if err != nil {
			continue
		}
		// "1 000" and "12 500,5": space-grouped thousands form one number.
		if n := len(out); n > 0 && out[n-1].groupable && s[out[n-1].end:start] == " " && isThousandsGroup(text) {
			last := &out[n-1]
			if last.value < 0 {
				last.value = last.value*1000 - v
			} else {
				last.value = last.value*1000 + v
			}
			last.end = end
			last.groupable = len(text) == 3
			continue
		}
		if start > 0 && s[start-1] == '-' && isSignPosition(s, start-1) {
			start--
			v = -v
		}
		out = append(out, numberMatch{
			start:     start,
			end:       end,
			value:     v,
			groupable: len(text) <= 3 && !strings.ContainsAny(text, ".,"),
		})
	}
	return out
}

// isThousandsGroup reports whether text is exactly three digits, optionally with a fraction.
func isThousandsGroup(text string) bool {
	if len(text) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if text[i] < '0' || text[i] > '9' {
			return false
		}
	}
	return len(text) == 3 || text[3] == '.' || text[3] == ','
}

// isSignPosition reports whether the dash at i is a minus sign rather than a range separator.
func isSignPosition(s string, i int) bool {
	before := strings.TrimRightFunc(s[:i], unicode.IsSpace)
	if before == "" {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(before)
	return !unicode.IsDigit(prev)
}

// ParseNumbersWithUnit extracts every number in order of appearance and the trailing unit token.
// "10-20 см" yields [10 20] and "см"; "0,42 420" yields [0.42 420]; "1 000 кПа" yields [1000].
func ParseNumbersWithUnit(raw string) ([]float64, string) {
	s := textnorm.Fold(raw)
	matches := findNumbers(s)
	numbers := make([]float64, 0, len(matches))
	var rest strings.Builder
	last := 0
	for _, m := range matches {
		numbers = append(numbers, m.value)
		rest.WriteString(s[last:m.start])
		rest.WriteByte(' ')
		last = m.end
	}
	rest.WriteString(s[last:])
	return numbers, lastUnitToken(rest.String())
}

// rangeWords qualify a number and are never unit tokens.
var rangeWords = map[string]struct{}{
	"от": {}, "до": {}, "не": {}, "более": {}, "менее": {}, "свыше": {}, "около": {},
	"макс": {}, "мин": {}, "max": {}, "min": {}, "from": {}, "to": {}, "up": {},
}

func lastUnitToken(rest string) string {
	fields := strings.Fields(rest)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := strings.Trim(fields[i], ".,;:()[]-/")
		if tok == "" {
			continue
		}
		if _, skip := rangeWords[textnorm.Normalize(tok)]; skip {
			continue
		}
		if strings.IndexFunc(tok, isUnitRune) >= 0 {
			return tok
		}
	}
	return ""
}

func isUnitRune(r rune) bool {
	return unicode.IsLetter(r) || r == '%' || r == '°' || r == '"' || r == '\''
}

// IsBareNumber reports whether raw is exactly one number with at most one unit token.
func IsBareNumber(raw string) bool {
	s := textnorm.Fold(raw)
	matches := findNumbers(s)
	if len(matches) != 1 {
		return false
	}
	rest := strings.Fields(s[:matches[0].start] + " " + s[matches[0].end:])
	return len(rest) <= 1
}

// LooksLikeRange reports whether two numbers are separated by a dash.
func LooksLikeRange(raw string) bool {
	return rangeRe.MatchString(textnorm.Fold(raw))
}

var booleanTokens = map[string]bool{
	"да": true, "нет": false,
	"true": true, "false": false,
	"1": true, "0": false,
	"yes": true, "no": false,
	"on": true, "off": false,
	"есть": true,
}

// ParseBoolean recognizes the bilingual boolean vocabulary. ok is false for anything else.
func ParseBoolean(raw string) (value bool, ok bool) {
	value, ok = booleanTokens[textnorm.Normalize(raw)]
	return value, ok
}

// ExtractOptionCandidates splits a multi-value text into option labels.
// It splits on , ; | and newlines, falls back to " / ", and dedups preserving order.
func ExtractOptionCandidates(raw string) []string {
	s := textnorm.Fold(raw)
	var parts []string
	if delimitersRe.MatchString(s) {
		parts = delimitersRe.Split(s, -1)
	} else if strings.Contains(s, " / ") {
		parts = strings.Split(s, " / ")
	} else {
		parts = []string{s}
	}

	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		label := strings.Join(strings.Fields(p), " ")
		key := textnorm.Normalize(label)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

// NameUnitToken extracts a unit hint from a spec name: "Толщина, мм" or "Вес (кг)".
func NameUnitToken(specName string) string {
	s := strings.TrimSpace(textnorm.Fold(specName))
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndex(s, "("); open >= 0 {
			return strings.TrimSpace(s[open+1 : len(s)-1])
		}
	}
	if comma := strings.LastIndex(s, ","); comma >= 0 {
		return strings.TrimSpace(s[comma+1:])
	}
	return ""
}
