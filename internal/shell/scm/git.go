package scm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/artpar/shipyard/internal/shell/retry"
)

// GitPusherConfig configures the git CLI pusher.
type GitPusherConfig struct {
	Token       string
	AuthorName  string
	AuthorEmail string
	Branch      string
	// Binary is the git executable. Defaults to "git".
	Binary string
}

// GitPusher pushes directories with the git binary. Every push creates a
// fresh single-commit history and force-pushes it, so repeating a push
// against a reused repository converges on the same state.
type GitPusher struct {
	cfg GitPusherConfig
}

// NewGitPusher creates a pusher.
func NewGitPusher(cfg GitPusherConfig) *GitPusher {
	if cfg.Binary == "" {
		cfg.Binary = "git"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "shipyard"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "shipyard@users.noreply.github.com"
	}
	return &GitPusher{cfg: cfg}
}

// Push commits everything in dir and force-pushes it to repo's main branch.
func (p *GitPusher) Push(ctx context.Context, dir string, repo RepoHandle) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return retry.Permanent(fmt.Errorf("git: read %s: %w", dir, err))
	}
	if len(entries) == 0 {
		return retry.Permanent(fmt.Errorf("git: %s: %w", dir, ErrEmptyDirectory))
	}

	remote, err := p.remoteURL(repo)
	if err != nil {
		return retry.Permanent(err)
	}

	// A previous attempt may have left a repository behind.
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("git: reset %s: %w", dir, err)
	}

	steps := [][]string{
		{"init", "--quiet", "--initial-branch", p.cfg.Branch},
		{"add", "--all"},
		{"-c", "user.name=" + p.cfg.AuthorName, "-c", "user.email=" + p.cfg.AuthorEmail,
			"commit", "--quiet", "--no-verify", "--allow-empty", "-m", "Deploy " + repo.Name},
		{"push", "--force", "--quiet", remote, "HEAD:refs/heads/" + p.cfg.Branch},
	}
	for _, args := range steps {
		if err := p.run(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

func (p *GitPusher) remoteURL(repo RepoHandle) (string, error) {
	if repo.CloneURL == "" {
		return "", fmt.Errorf("git: repository %s has no clone url", repo.FullName)
	}
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("git: parse clone url: %w", err)
	}
	if p.cfg.Token != "" && (u.Scheme == "https" || u.Scheme == "http") {
		u.User = url.UserPassword("x-access-token", p.cfg.Token)
	}
	return u.String(), nil
}

func (p *GitPusher) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		verb := args[0]
		if verb == "-c" {
			verb = "commit"
		}
		failure := fmt.Errorf("git %s failed: %s: %s", verb, p.redact(err.Error()), p.redact(strings.TrimSpace(string(output))))
		if authFailure(string(output)) {
			return retry.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, failure))
		}
		return failure
	}
	return nil
}

// authMarkers are what git prints when the remote rejects the credentials.
var authMarkers = []string{
	"authentication failed",
	"invalid username or password",
	"could not read username",
	"permission to",
	"permission denied (publickey)",
	"returned error: 401",
	"returned error: 403",
}

func authFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (p *GitPusher) redact(s string) string {
	if p.cfg.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, p.cfg.Token, "***")
}
