// Package gitprovider defines the git hosting operations needed to turn a
// sandbox change set into a pull request.
package gitprovider

import (
	"context"
	"fmt"
	"strings"
)

// PROptions configures a new pull request.
type PROptions struct {
	Repo   string // "owner/repo"
	Branch string // source branch
	Base   string // target branch (default: the repository's default branch)
	Title  string
	Body   string
	Labels []string
}

// PullRequest is an opened pull request.
type PullRequest struct {
	HTMLURL string
	Number  int
}

// Provider is the interface for git hosting operations.
type Provider interface {
	CreatePR(ctx context.Context, opts PROptions) (*PullRequest, error)
	GetDefaultBranch(ctx context.Context, repo string) (string, error)
}

// ParseRepo normalizes "owner/repo", an https URL or an scp-style ssh
// remote into "owner/repo".
func ParseRepo(s string) (string, error) {
	r := strings.TrimSpace(s)
	r = strings.TrimSuffix(r, "/")
	r = strings.TrimSuffix(r, ".git")
	switch {
	case strings.HasPrefix(r, "git@"):
		if i := strings.Index(r, ":"); i >= 0 {
			r = r[i+1:]
		}
	case strings.Contains(r, "://"):
		r = r[strings.Index(r, "://")+3:]
		if i := strings.Index(r, "/"); i >= 0 {
			r = r[i+1:]
		} else {
			r = ""
		}
	}
	parts := strings.Split(r, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid repo %q, expected \"owner/repo\" or a repository URL", s)
	}
	return r, nil
}

// CloneURL returns an https clone URL for repo that authenticates with token.
func CloneURL(repo, token string) string {
	if token == "" {
		return "https://github.com/" + repo + ".git"
	}
	return "https://x-access-token:" + token + "@github.com/" + repo + ".git"
}
