// Package scm talks to the source-control host: it finds or creates
// repositories and pushes prepared service directories into them.
package scm

import (
	"context"
	"errors"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrUnauthorized       = errors.New("source control credentials rejected")
	ErrEmptyDirectory     = errors.New("nothing to push")
)

// RepoHandle identifies a repository on the host.
type RepoHandle struct {
	ID       int64  `json:"id"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
	// Reused is set when the repository existed before this run.
	Reused bool `json:"reused"`
}

// RepositoryHost manages repositories.
type RepositoryHost interface {
	// Owner returns the account repositories are created under.
	Owner(ctx context.Context) (string, error)
	GetRepository(ctx context.Context, owner, name string) (RepoHandle, error)
	CreateRepository(ctx context.Context, owner, name string, private bool) (RepoHandle, error)
}

// Pusher publishes a directory's contents as the repository's main branch.
type Pusher interface {
	Push(ctx context.Context, dir string, repo RepoHandle) error
}
