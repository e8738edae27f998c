package textrewrite

import (
	"golang.org/x/text/transform"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// maxLiteral bounds how much of a single string literal is held for rewriting.
// Longer literals are emitted untouched.
const maxLiteral = 64 << 10

type scanState uint8

const (
	stateCode scanState = iota
	stateString
	stateLineComment
	stateBlockComment
)

// literalStage rewrites the contents of quoted string literals and copies
// everything else verbatim. It is used for JSON (double quotes only) and
// JavaScript (all three quote kinds plus comments).
type literalStage struct {
	rewrite func(string) string

	quotes     string
	comments   bool
	lineQuotes string

	state    scanState
	quote    byte
	escaped  bool
	prev     byte
	lit      []byte
	overflow bool
}

func (s *literalStage) reset() {
	s.state = stateCode
	s.quote = 0
	s.escaped = false
	s.prev = 0
	s.lit = s.lit[:0]
	s.overflow = false
}

func (s *literalStage) consume(out, src []byte, atEOF bool) []byte {
	for _, c := range src {
		switch s.state {
		case stateCode:
			out = append(out, c)
			switch {
			case isQuote(s.quotes, c):
				s.state = stateString
				s.quote = c
				s.escaped = false
				s.lit = s.lit[:0]
				s.overflow = false
			case s.comments && s.prev == '/' && c == '/':
				s.state = stateLineComment
			case s.comments && s.prev == '/' && c == '*':
				s.state = stateBlockComment
				c = 0
			}
			s.prev = c

		case stateLineComment:
			out = append(out, c)
			if c == '\n' {
				s.state = stateCode
				s.prev = 0
			}

		case stateBlockComment:
			out = append(out, c)
			if s.prev == '*' && c == '/' {
				s.state = stateCode
				c = 0
			}
			s.prev = c

		case stateString:
			switch {
			case s.escaped:
				s.escaped = false
				out = s.appendLiteral(out, c)
			case c == '\\':
				s.escaped = true
				out = s.appendLiteral(out, c)
			case c == s.quote:
				out = s.flushLiteral(out)
				out = append(out, c)
				s.state = stateCode
				s.prev = 0
			case c == '\n' && isQuote(s.lineQuotes, s.quote):
				// Unterminated single-line literal; treat the line as closed.
				out = s.flushLiteral(out)
				out = append(out, c)
				s.state = stateCode
				s.prev = 0
			default:
				out = s.appendLiteral(out, c)
			}
		}
	}

	if atEOF && s.state == stateString {
		out = s.flushLiteral(out)
		s.state = stateCode
	}
	return out
}

func (s *literalStage) appendLiteral(out []byte, c byte) []byte {
	if s.overflow {
		return append(out, c)
	}
	s.lit = append(s.lit, c)
	if len(s.lit) > maxLiteral {
		out = append(out, s.lit...)
		s.lit = s.lit[:0]
		s.overflow = true
	}
	return out
}

func (s *literalStage) flushLiteral(out []byte) []byte {
	if s.overflow {
		s.overflow = false
		return out
	}
	if len(s.lit) > 0 {
		out = append(out, s.rewrite(string(s.lit))...)
		s.lit = s.lit[:0]
	}
	return out
}

func isQuote(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}

func newJSONStage(ctx *urlmask.Context) *literalStage {
	return &literalStage{rewrite: ctx.RewriteHosts, quotes: `"`}
}

func newJavaScriptStage(ctx *urlmask.Context) *literalStage {
	return &literalStage{
		rewrite:    ctx.RewriteHosts,
		quotes:     "\"'`",
		comments:   true,
		lineQuotes: `"'`,
	}
}

// JSON rewrites target URLs and host names found inside JSON string literals.
// Structural characters, numbers and keys without the host are left as they are,
// and the input does not have to be valid JSON.
func JSON(ctx *urlmask.Context, body string) string {
	return runStage(newJSONStage(ctx), body)
}

// NewJSONTransformer is the streaming form of JSON.
func NewJSONTransformer(ctx *urlmask.Context) transform.Transformer {
	return newTransformer(newJSONStage(ctx))
}

// JavaScript rewrites target URLs and host names inside '...', "..." and
// template literals. Code and comments are never modified.
func JavaScript(ctx *urlmask.Context, body string) string {
	return runStage(newJavaScriptStage(ctx), body)
}

// NewJavaScriptTransformer is the streaming form of JavaScript.
func NewJavaScriptTransformer(ctx *urlmask.Context) transform.Transformer {
	return newTransformer(newJavaScriptStage(ctx))
}

func runStage(s stage, body string) string {
	if body == "" {
		return body
	}
	out := s.consume(make([]byte, 0, len(body)), []byte(body), true)
	return string(out)
}
