package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/artpar/shipyard/internal/shell/retry"
	"github.com/google/go-github/v66/github"
)

// GitHubConfig configures the GitHub repository host.
type GitHubConfig struct {
	Token string
	// Owner is the organisation repositories are created in. Empty means
	// the authenticated user.
	Owner string
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string
}

// GitHub implements RepositoryHost against the GitHub REST API.
type GitHub struct {
	client *github.Client
	org    string

	mu    sync.Mutex
	login string
}

// NewGitHub creates a GitHub repository host.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github: %w", ErrUnauthorized)
	}
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github: parse base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client, org: cfg.Owner}, nil
}

// Owner returns the configured organisation or the authenticated login.
func (g *GitHub) Owner(ctx context.Context) (string, error) {
	if g.org != "" {
		return g.org, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.login != "" {
		return g.login, nil
	}

	user, resp, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", classify(resp, fmt.Errorf("github: get authenticated user: %w", err))
	}
	g.login = user.GetLogin()
	return g.login, nil
}

// GetRepository looks up owner/name.
func (g *GitHub) GetRepository(ctx context.Context, owner, name string) (RepoHandle, error) {
	repo, resp, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return RepoHandle{}, fmt.Errorf("github: %s/%s: %w", owner, name, ErrRepositoryNotFound)
		}
		return RepoHandle{}, classify(resp, fmt.Errorf("github: get %s/%s: %w", owner, name, err))
	}
	handle := toHandle(repo)
	handle.Reused = true
	return handle, nil
}

// CreateRepository creates owner/name. If the name is already taken the
// existing repository is returned as reused.
func (g *GitHub) CreateRepository(ctx context.Context, owner, name string, private bool) (RepoHandle, error) {
	org := ""
	if g.org != "" && strings.EqualFold(owner, g.org) {
		org = g.org
	}

	repo, resp, err := g.client.Repositories.Create(ctx, org, &github.Repository{
		Name:     github.String(name),
		Private:  github.Bool(private),
		AutoInit: github.Bool(false),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity && alreadyExists(err) {
			return g.GetRepository(ctx, owner, name)
		}
		return RepoHandle{}, classify(resp, fmt.Errorf("github: create %s/%s: %w", owner, name, err))
	}
	return toHandle(repo), nil
}

func toHandle(repo *github.Repository) RepoHandle {
	return RepoHandle{
		ID:       repo.GetID(),
		Owner:    repo.GetOwner().GetLogin(),
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
		CloneURL: repo.GetCloneURL(),
		HTMLURL:  repo.GetHTMLURL(),
	}
}

func alreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Field == "name" && strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(ghErr.Message), "already exists")
}

// classify marks client errors permanent. Rate limiting stays transient.
func classify(resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}
	if resp == nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return retry.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}
	return retry.FromStatus(resp.StatusCode, err)
}
