// Package textrewrite rewrites target-domain references in non-HTML payloads:
// JSON, CSS, JavaScript and generic text such as XML feeds and sitemaps. Each
// rewriter exists as a pure string function and as a streaming
// golang.org/x/text/transform.Transformer with bounded buffering.
package textrewrite

import (
	"bytes"
	"regexp"

	"github.com/icholy/replace"
	"golang.org/x/text/transform"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// maxPending bounds the text held back while waiting for a token separator.
const maxPending = 32 << 10

// separators never occur inside a host token or its scheme prefix, so cutting the
// stream right after one cannot split a match.
var separators = []byte(" \t\r\n<>\"'()")

// Hosts rewrites every target host token in text.
func Hosts(ctx *urlmask.Context, text string) string {
	return ctx.RewriteHosts(text)
}

// NewHostsTransformer is the streaming form of Hosts.
func NewHostsTransformer(ctx *urlmask.Context) transform.Transformer {
	return newTransformer(&hostStage{ctx: ctx})
}

type hostStage struct {
	ctx     *urlmask.Context
	pending []byte
}

func (s *hostStage) reset() {
	s.pending = s.pending[:0]
}

func (s *hostStage) consume(out, src []byte, atEOF bool) []byte {
	s.pending = append(s.pending, src...)

	cut := len(s.pending)
	if !atEOF {
		cut = bytes.LastIndexAny(s.pending, string(separators)) + 1
		if cut == 0 && len(s.pending) > maxPending {
			cut = len(s.pending)
		}
	}
	if cut == 0 {
		return out
	}

	out = append(out, s.ctx.RewriteHosts(string(s.pending[:cut]))...)
	n := copy(s.pending, s.pending[cut:])
	s.pending = s.pending[:n]
	return out
}

// cssURLPattern matches url(...) in its three quoting styles and @import strings.
var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^'"()\s]*))\s*\)|@import\s+(?:"([^"]*)"|'([^']*)')`)

// CSS rewrites url(...) and @import references. Rewritten references are emitted
// as url("...") or @import "..."; references left alone keep their bytes.
func CSS(ctx *urlmask.Context, body string) string {
	return cssURLPattern.ReplaceAllStringFunc(body, func(match string) string {
		return rewriteCSSMatch(ctx, match)
	})
}

// NewCSSTransformer is the streaming form of CSS.
func NewCSSTransformer(ctx *urlmask.Context) transform.Transformer {
	return replace.RegexpStringFunc(cssURLPattern, func(match string) string {
		return rewriteCSSMatch(ctx, match)
	})
}

func rewriteCSSMatch(ctx *urlmask.Context, match string) string {
	groups := cssURLPattern.FindStringSubmatch(match)
	if groups == nil {
		return match
	}

	isImport := groups[4] != "" || groups[5] != ""
	var ref string
	for _, g := range groups[1:] {
		if g != "" {
			ref = g
			break
		}
	}
	if ref == "" {
		return match
	}

	rewritten := ctx.RewriteURL(ref)
	if rewritten == ref {
		return match
	}
	if isImport {
		return `@import "` + rewritten + `"`
	}
	return `url("` + rewritten + `")`
}
