// Package forge talks to the code host. Issues the assistant files on
// the user's behalf go through here.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

// Issue is the host-independent view of an issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	State     string    `json:"state"`
	Author    string    `json:"author,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client wraps the GitHub API for the small slice of it the assistant
// uses.
type Client struct {
	logger      *slog.Logger
	gh          *gogithub.Client
	defaultRepo string // owner/repo used when a tool call names none
}

// New creates a forge client. token may be empty for anonymous,
// read-only access.
func New(logger *slog.Logger, token, defaultRepo string) *Client {
	gh := gogithub.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &Client{logger: logger, gh: gh, defaultRepo: defaultRepo}
}

// DefaultRepo returns the configured fallback repository.
func (c *Client) DefaultRepo() string {
	return c.defaultRepo
}

// resolveRepo picks the explicit repo when given, else the default.
func (c *Client) resolveRepo(repo string) (string, string, error) {
	if repo == "" {
		repo = c.defaultRepo
	}
	if repo == "" {
		return "", "", fmt.Errorf("no repository given and no default configured")
	}
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit warns when the remaining API budget runs low.
func (c *Client) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time)
	}
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (*Issue, error) {
	owner, name, err := c.resolveRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{
		Title: &title,
		Body:  &body,
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	result, resp, err := c.gh.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	c.checkRateLimit(resp)
	return convertIssue(result), nil
}

// ListIssues returns open issues, newest first.
func (c *Client) ListIssues(ctx context.Context, repo string, limit int) ([]*Issue, error) {
	owner, name, err := c.resolveRepo(repo)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: limit},
	}
	results, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	c.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		// The issues endpoint also returns pull requests.
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

// SearchIssues runs a GitHub issue search scoped to the repository.
func (c *Client) SearchIssues(ctx context.Context, repo, query string) ([]*Issue, error) {
	owner, name, err := c.resolveRepo(repo)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("%s repo:%s/%s is:issue", query, owner, name)
	result, resp, err := c.gh.Search.Issues(ctx, q, &gogithub.SearchOptions{
		ListOptions: gogithub.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	c.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(result.Issues))
	for _, r := range result.Issues {
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
