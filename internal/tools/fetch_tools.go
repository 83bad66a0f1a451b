package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pentland/scribe/internal/fetch"
)

// RegisterFetchTools adds the web page retrieval builtin.
func RegisterFetchTools(r *Registry, fetcher *fetch.Fetcher) error {
	return r.Register(&Tool{
		Name:        "fetch_url",
		Description: "Download a web page and return its readable text. Use when the user shares a link or asks about a page.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page to fetch",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			result, err := fetcher.Fetch(ctx, url)
			if err != nil {
				return "", err
			}
			if result.StatusCode >= 400 {
				return "", fmt.Errorf("fetch %s: status %d", result.URL, result.StatusCode)
			}

			var b strings.Builder
			if result.Title != "" {
				fmt.Fprintf(&b, "# %s\n\n", result.Title)
			}
			b.WriteString(result.Content)
			if result.Truncated {
				b.WriteString("\n\n[content truncated]")
			}
			return b.String(), nil
		},
	})
}
