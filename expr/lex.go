package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp // one of the fixed operator/punctuation spellings
)

type token struct {
	kind tokKind
	text string
	pos  int
}

// lex splits src into tokens. Identifiers may carry a leading '#'
// (SpEL-style parameter references) which is stripped here so that
// "#isbn" and "isbn" resolve identically.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.' && !seenDot) {
				if src[i] == '.' {
					// a trailing dot belongs to property access, not the number
					if i+1 >= len(src) || src[i+1] < '0' || src[i+1] > '9' {
						break
					}
					seenDot = true
				}
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case c == '\'' || c == '"':
			start := i
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == quote {
					// doubled quote is an escaped quote, SpEL-style
					if i+1 < len(src) && src[i+1] == quote {
						sb.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, errAt(src, start, "unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case c == '#' || isIdentStart(rune(c)) || c >= utf8.RuneSelf:
			start := i
			if c == '#' {
				i++
				if i >= len(src) || !isIdentHead(src, i) {
					return nil, errAt(src, start, "'#' must be followed by a name")
				}
			}
			nameStart := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			if i == nameStart {
				return nil, errAt(src, start, "unexpected character %q", rune(c))
			}
			toks = append(toks, token{tokIdent, src[nameStart:i], start})
		default:
			op, ok := lexOp(src[i:])
			if !ok {
				return nil, errAt(src, i, "unexpected character %q", rune(c))
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func lexOp(s string) (string, bool) {
	// two-character operators first
	if len(s) >= 2 {
		switch s[:2] {
		case "==", "!=", "<=", ">=", "&&", "||":
			return s[:2], true
		}
	}
	switch s[0] {
	case '<', '>', '+', '-', '*', '/', '%', '!', '(', ')', ',', '.':
		return s[:1], true
	}
	return "", false
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isIdentHead(src string, i int) bool {
	r, _ := utf8.DecodeRuneInString(src[i:])
	return isIdentStart(r)
}
