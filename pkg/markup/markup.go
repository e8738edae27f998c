// Package markup rewrites HTML documents in a single forward pass. It pulls
// tokens from golang.org/x/net/html's Tokenizer as the consumer reads, so the
// document is never held in memory and a slow consumer throttles the source.
package markup

import (
	"io"

	"golang.org/x/net/html"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// DefaultAnalyticsHosts are the tracker hosts whose scripts and resource hints
// are removed from rewritten documents.
var DefaultAnalyticsHosts = urlmask.HostSet{
	"googletagmanager.com",
	"google-analytics.com",
	"analytics.google.com",
	"doubleclick.net",
	"connect.facebook.net",
	"static.hotjar.com",
	"script.hotjar.com",
	"cdn.segment.com",
	"cdn.mxpnl.com",
	"js.hs-analytics.net",
	"plausible.io",
	"static.cloudflareinsights.com",
}

// Options tunes a Reader.
type Options struct {
	// AnalyticsHosts replaces DefaultAnalyticsHosts when non-nil.
	AnalyticsHosts urlmask.HostSet
}

// Stats summarises what a Reader changed.
type Stats struct {
	AttributesRewritten int
	TextRewritten       int
	ElementsStripped    int
	CommentsRemoved     int
}

// Reader is an io.Reader producing the rewritten document.
type Reader struct {
	z         *html.Tokenizer
	ctx       *urlmask.Context
	analytics urlmask.HostSet

	out []byte
	off int
	raw []byte
	err error

	// rawTag is the open raw-text element (script, style, noscript, ...).
	rawTag string
	// skipUntil drops every token up to and including this end tag.
	skipUntil string
	// held is an inline script or noscript start tag waiting for its body,
	// which decides whether the element loads a tracker.
	held    []byte
	heldTag string

	stats Stats
}

// NewReader wraps src. ctx supplies the per-request coordinates.
func NewReader(src io.Reader, ctx *urlmask.Context, opts Options) *Reader {
	analytics := opts.AnalyticsHosts
	if analytics == nil {
		analytics = DefaultAnalyticsHosts
	}
	return &Reader{
		z:         html.NewTokenizer(src),
		ctx:       ctx,
		analytics: analytics,
	}
}

// Stats returns the counters gathered so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for r.off >= len(r.out) {
		if r.err != nil {
			return 0, r.err
		}
		r.out = r.out[:0]
		r.off = 0
		r.step()
	}
	n := copy(p, r.out[r.off:])
	r.off += n
	return n, nil
}

func (r *Reader) emit(b []byte) {
	r.out = append(r.out, b...)
}

func (r *Reader) emitString(s string) {
	r.out = append(r.out, s...)
}

// step consumes exactly one token.
func (r *Reader) step() {
	tt := r.z.Next()
	// Token() lower-cases names in place, so keep an untouched copy first.
	r.raw = append(r.raw[:0], r.z.Raw()...)

	if tt == html.ErrorToken {
		r.finish()
		return
	}

	if r.skipUntil != "" {
		if tt == html.EndTagToken && r.tagName() == r.skipUntil {
			r.skipUntil = ""
			r.rawTag = ""
		}
		return
	}

	switch tt {
	case html.CommentToken:
		r.stats.CommentsRemoved++
	case html.StartTagToken, html.SelfClosingTagToken:
		r.startTag(tt)
	case html.EndTagToken:
		r.endTag()
	case html.TextToken:
		r.text()
	default:
		r.emit(r.raw)
	}
}

func (r *Reader) finish() {
	err := r.z.Err()
	if len(r.held) > 0 {
		r.emit(r.held)
		r.held = nil
	}
	if r.skipUntil == "" {
		r.emit(r.raw)
	}
	r.err = err
}

func (r *Reader) tagName() string {
	name, _ := r.z.TagName()
	return string(name)
}

func (r *Reader) endTag() {
	name := r.tagName()
	if name == r.rawTag {
		r.rawTag = ""
	}
	if len(r.held) > 0 && name == r.heldTag {
		r.emit(r.held)
		r.held = nil
		r.heldTag = ""
	}
	r.emit(r.raw)
}

func (r *Reader) startTag(tt html.TokenType) {
	tok := r.z.Token()

	verdict := r.rewriteElement(&tok)
	if verdict.drop {
		r.stats.ElementsStripped++
		if tt == html.StartTagToken && isRawTextElement(tok.Data) {
			r.skipUntil = tok.Data
		}
		return
	}

	var serialized []byte
	if verdict.changed {
		serialized = []byte(tok.String())
	} else {
		serialized = append([]byte(nil), r.raw...)
	}

	if tt == html.StartTagToken && isRawTextElement(tok.Data) {
		r.rawTag = tok.Data
		if verdict.hold {
			r.held = serialized
			r.heldTag = tok.Data
			return
		}
	}
	r.emit(serialized)
}

func (r *Reader) text() {
	body := string(r.raw)

	if len(r.held) > 0 {
		held := r.held
		r.held = nil
		if r.analytics.LoadsFrom(body, r.ctx.Target) {
			r.stats.ElementsStripped++
			r.skipUntil = r.heldTag
			r.heldTag = ""
			return
		}
		r.heldTag = ""
		r.emit(held)
	}

	var rewritten string
	switch r.rawTag {
	case "style":
		rewritten = r.ctx.RewriteHosts(cssText(r.ctx, body))
	default:
		// Plain text, inline scripts, noscript, title and textarea all carry
		// host references as tokens; the matcher handles escaped forms.
		rewritten = r.ctx.RewriteHosts(body)
	}
	if rewritten != body {
		r.stats.TextRewritten++
	}
	r.emitString(rewritten)
}

func isRawTextElement(name string) bool {
	switch name {
	case "iframe", "noembed", "noframes", "noscript", "plaintext", "script", "style", "textarea", "title", "xmp":
		return true
	}
	return false
}
