package extract

import (
	"regexp"
	"strings"
)

// maxRegions bounds how many bracket candidates are tried per opener.
const maxRegions = 32

var fencePattern = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_+-]*)[ \t]*\r?\n?(.*?)```")

// codeBlocks returns fenced block bodies, json-tagged blocks first.
func codeBlocks(text string) []string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var tagged, rest []string
	for _, m := range matches {
		if strings.EqualFold(m[1], "json") {
			tagged = append(tagged, m[2])
		} else {
			rest = append(rest, m[2])
		}
	}
	return append(tagged, rest...)
}

// balancedRegions returns substrings starting at each occurrence of open and
// ending at its matching closer. Brackets inside JSON strings are ignored.
func balancedRegions(text string, open byte) []string {
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	var out []string
	for start := 0; start < len(text) && len(out) < maxRegions; {
		i := strings.IndexByte(text[start:], open)
		if i < 0 {
			break
		}
		i += start
		if end, ok := matchClose(text, i, open, closeCh); ok {
			out = append(out, text[i:end+1])
		}
		start = i + 1
	}
	return out
}

func matchClose(text string, from int, open, closeCh byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := from; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// regex is the label-prefix rung. It succeeds when at least one field matched.
func (e *Extractor) regex(text string) (map[string]any, bool) {
	values := make(map[string]any, len(e.schema.Fields))
	matched := false

	for _, f := range e.schema.Fields {
		if f.Type == TypeList || f.Type == TypeObject {
			values[f.Name] = f.zero()
			continue
		}
		if raw, ok := labelValue(text, f); ok {
			values[f.Name] = coerce(f, raw)
			matched = true
			continue
		}
		if f.MatchTokens && len(f.AllowedValues) > 0 {
			if tok, ok := FirstToken(text, f.AllowedValues); ok {
				values[f.Name] = tok
				matched = true
				continue
			}
		}
		values[f.Name] = f.zero()
	}
	return values, matched
}

func labelValue(text string, f Field) (string, bool) {
	label := regexp.QuoteMeta(f.label())
	// Tolerates markdown decoration: "**Verdict:** approved", "- verdict = retry".
	prefix := `(?im)^[\s>*_#-]*` + label + `[*_]*\s*[:=][*_]*[ \t]*`

	if f.Multiline {
		re := regexp.MustCompile(prefix)
		loc := re.FindStringIndex(text)
		if loc == nil {
			return "", false
		}
		return strings.TrimSpace(text[loc[1]:]), true
	}

	re := regexp.MustCompile(prefix + `(.+)$`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_`\"'.")), true
}

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// FirstToken returns the first word of text (split on word boundaries, so
// "medium-hard" yields "medium" then "hard") that equals an allowed value,
// case-insensitively. The canonical allowed spelling is returned.
func FirstToken(text string, allowed []string) (string, bool) {
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		for _, a := range allowed {
			if strings.EqualFold(tok, a) {
				return a, true
			}
		}
	}
	return "", false
}
