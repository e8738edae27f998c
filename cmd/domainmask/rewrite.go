package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/polisai/domainmask/pkg/dispatch"
	"github.com/polisai/domainmask/pkg/markup"
	"github.com/polisai/domainmask/pkg/urlmask"
)

func newRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Run the body rewriter over stdin",
		Long: `Reads a response body from stdin, rewrites it exactly as the data plane would
for the given content type and writes the result to stdout.

Example:
  curl -s https://target.org/ | domainmask rewrite --target target.org --url https://alias.com/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			contentType, _ := cmd.Flags().GetString("content-type")
			requestURL, _ := cmd.Flags().GetString("url")
			target, _ := cmd.Flags().GetString("target")
			analytics, _ := cmd.Flags().GetStringSlice("analytics-host")
			return runRewrite(cmd.InOrStdin(), cmd.OutOrStdout(), contentType, requestURL, target, analytics)
		},
	}

	cmd.Flags().String("content-type", "text/html; charset=utf-8", "Content-Type of the body on stdin")
	cmd.Flags().String("url", "", "Alias-facing URL the body was requested under")
	cmd.Flags().String("target", "", "Target origin the body came from")
	cmd.Flags().StringSlice("analytics-host", nil, "Extra analytics host to strip from HTML")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runRewrite(in io.Reader, out io.Writer, contentType, requestURL, target string, analytics []string) error {
	request, err := url.Parse(requestURL)
	if err != nil || request.Host == "" {
		return fmt.Errorf("invalid --url %q", requestURL)
	}
	if request.Scheme == "" {
		request.Scheme = urlmask.DefaultScheme
	}

	domains, err := urlmask.NewDomains([]string{request.Scheme + "://" + request.Host}, target)
	if err != nil {
		return err
	}
	alias, _ := domains.MatchAlias(request.Host)
	ctx := domains.NewContext(alias, request)

	var opts dispatch.Options
	if len(analytics) > 0 {
		opts.AnalyticsHosts = append(opts.AnalyticsHosts, markup.DefaultAnalyticsHosts...)
		opts.AnalyticsHosts = append(opts.AnalyticsHosts, analytics...)
	}

	kind := dispatch.Classify(contentType)
	w := bufio.NewWriter(out)
	if _, err := io.Copy(w, dispatch.Body(kind, in, ctx, opts)); err != nil {
		return fmt.Errorf("rewrite %s body: %w", kind, err)
	}
	return w.Flush()
}
