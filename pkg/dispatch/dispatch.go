// Package dispatch picks the body rewriter for a response from its media type.
package dispatch

import (
	"io"
	"mime"
	"strings"

	"golang.org/x/text/transform"

	"github.com/polisai/domainmask/pkg/markup"
	"github.com/polisai/domainmask/pkg/textrewrite"
	"github.com/polisai/domainmask/pkg/urlmask"
)

// Kind identifies a body rewriter.
type Kind int

const (
	Passthrough Kind = iota
	HTML
	JSON
	CSS
	JavaScript
	XML
)

func (k Kind) String() string {
	switch k {
	case HTML:
		return "html"
	case JSON:
		return "json"
	case CSS:
		return "css"
	case JavaScript:
		return "javascript"
	case XML:
		return "xml"
	default:
		return "passthrough"
	}
}

// Classify maps a Content-Type header value to a Kind. Unknown, missing and
// unparsable types pass through.
func Classify(contentType string) Kind {
	if strings.TrimSpace(contentType) == "" {
		return Passthrough
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Tolerate junk parameters as long as the type itself is readable.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return HTML
	case "application/json", "text/json":
		return JSON
	case "text/css":
		return CSS
	case "application/javascript", "text/javascript", "application/x-javascript",
		"application/ecmascript", "text/ecmascript":
		return JavaScript
	case "application/xml", "text/xml":
		return XML
	}
	switch {
	case strings.HasSuffix(mediaType, "+json"):
		return JSON
	case strings.HasSuffix(mediaType, "+xml"):
		return XML
	}
	return Passthrough
}

// Identity reports whether a Content-Encoding value leaves the body readable.
func Identity(contentEncoding string) bool {
	ce := strings.ToLower(strings.TrimSpace(contentEncoding))
	return ce == "" || ce == "identity"
}

// Select returns the rewriter kind for a response, forcing pass-through for
// encoded bodies.
func Select(contentType, contentEncoding string) Kind {
	if !Identity(contentEncoding) {
		return Passthrough
	}
	return Classify(contentType)
}

// Options carries per-deployment rewriter settings.
type Options struct {
	AnalyticsHosts urlmask.HostSet
}

// Body wraps body with the rewriter for kind. Passthrough returns body itself.
func Body(kind Kind, body io.Reader, ctx *urlmask.Context, opts Options) io.Reader {
	switch kind {
	case HTML:
		return markup.NewReader(body, ctx, markup.Options{AnalyticsHosts: opts.AnalyticsHosts})
	case JSON:
		return transform.NewReader(body, textrewrite.NewJSONTransformer(ctx))
	case CSS:
		return transform.NewReader(body, textrewrite.NewCSSTransformer(ctx))
	case JavaScript:
		return transform.NewReader(body, textrewrite.NewJavaScriptTransformer(ctx))
	case XML:
		return transform.NewReader(body, textrewrite.NewHostsTransformer(ctx))
	default:
		return body
	}
}

// String runs the rewriter for kind over a whole body.
func String(kind Kind, body string, ctx *urlmask.Context, opts Options) (string, error) {
	switch kind {
	case JSON:
		return textrewrite.JSON(ctx, body), nil
	case CSS:
		return textrewrite.CSS(ctx, body), nil
	case JavaScript:
		return textrewrite.JavaScript(ctx, body), nil
	case XML:
		return textrewrite.Hosts(ctx, body), nil
	case Passthrough:
		return body, nil
	}
	out, err := io.ReadAll(Body(kind, strings.NewReader(body), ctx, opts))
	return string(out), err
}
