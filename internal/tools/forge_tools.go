package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pentland/scribe/internal/forge"
)

// RegisterForgeTools adds the GitHub issue builtins.
func RegisterForgeTools(r *Registry, client *forge.Client) error {
	tools := []*Tool{
		{
			Name:        "create_issue",
			Description: "Open a GitHub issue. Use when the user asks to file a bug or track a task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Issue title",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "Issue body in Markdown",
					},
					"repo": map[string]any{
						"type":        "string",
						"description": "Repository as owner/repo; omit to use the configured default",
					},
					"labels": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Labels to apply",
					},
				},
				"required": []string{"title"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				title, _ := args["title"].(string)
				body, _ := args["body"].(string)
				repo, _ := args["repo"].(string)
				var labels []string
				if raw, ok := args["labels"].([]any); ok {
					for _, l := range raw {
						if s, ok := l.(string); ok {
							labels = append(labels, s)
						}
					}
				}

				issue, err := client.CreateIssue(ctx, repo, title, body, labels)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created issue #%d: %s", issue.Number, issue.URL), nil
			},
		},
		{
			Name:        "list_issues",
			Description: "List open GitHub issues in a repository.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{
						"type":        "string",
						"description": "Repository as owner/repo; omit to use the configured default",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum issues to return (default 20)",
					},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				repo, _ := args["repo"].(string)
				limit := 0
				if n, ok := args["limit"].(float64); ok {
					limit = int(n)
				}

				issues, err := client.ListIssues(ctx, repo, limit)
				if err != nil {
					return "", err
				}
				if len(issues) == 0 {
					return "No open issues.", nil
				}
				var b strings.Builder
				for _, i := range issues {
					fmt.Fprintf(&b, "- #%d %s (%s)\n", i.Number, i.Title, i.Author)
				}
				return b.String(), nil
			},
		},
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
