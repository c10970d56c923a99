// Package github implements gitprovider.Provider using the GitHub API.
package github

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/backupManager/vibekit-ai/pkg/gitprovider"
)

// Client wraps the GitHub API.
type Client struct {
	gh *gogh.Client
}

var _ gitprovider.Provider = (*Client)(nil)

// New creates a GitHub client authenticated with the given token.
func New(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// CreatePR opens a pull request and applies its labels. A base of "" targets
// the repository's default branch.
func (c *Client) CreatePR(ctx context.Context, opts gitprovider.PROptions) (*gitprovider.PullRequest, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return nil, err
	}

	base := opts.Base
	if base == "" {
		if base, err = c.GetDefaultBranch(ctx, opts.Repo); err != nil {
			return nil, err
		}
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Branch),
		Base:  gogh.Ptr(base),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	if len(opts.Labels) > 0 {
		if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, pr.GetNumber(), opts.Labels); err != nil {
			return nil, fmt.Errorf("labelling pull request #%d: %w", pr.GetNumber(), err)
		}
	}

	return &gitprovider.PullRequest{HTMLURL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}

// GetDefaultBranch returns the default branch for a repository.
func (c *Client) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
