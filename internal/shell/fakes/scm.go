package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/shipyard/internal/shell/scm"
)

// SCM is an in-memory repository host and pusher.
type SCM struct {
	recorder

	mu     sync.Mutex
	owner  string
	repos  map[string]scm.RepoHandle
	pushes map[string][]string
	nextID int64
}

// NewSCM creates a host whose account is owner.
func NewSCM(owner string) *SCM {
	return &SCM{
		owner:  owner,
		repos:  make(map[string]scm.RepoHandle),
		pushes: make(map[string][]string),
	}
}

// Seed adds an existing repository.
func (s *SCM) Seed(owner, name string) scm.RepoHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(owner, name)
}

func (s *SCM) add(owner, name string) scm.RepoHandle {
	s.nextID++
	full := owner + "/" + name
	repo := scm.RepoHandle{
		ID:       s.nextID,
		Owner:    owner,
		Name:     name,
		FullName: full,
		CloneURL: "https://github.com/" + full + ".git",
		HTMLURL:  "https://github.com/" + full,
	}
	s.repos[full] = repo
	return repo
}

func (s *SCM) Owner(ctx context.Context) (string, error) {
	if err := s.record("Owner"); err != nil {
		return "", err
	}
	return s.owner, nil
}

func (s *SCM) GetRepository(ctx context.Context, owner, name string) (scm.RepoHandle, error) {
	if err := s.record("GetRepository", owner, name); err != nil {
		return scm.RepoHandle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[owner+"/"+name]
	if !ok {
		return scm.RepoHandle{}, fmt.Errorf("%s/%s: %w", owner, name, scm.ErrRepositoryNotFound)
	}
	repo.Reused = true
	return repo, nil
}

func (s *SCM) CreateRepository(ctx context.Context, owner, name string, private bool) (scm.RepoHandle, error) {
	if err := s.record("CreateRepository", owner, name); err != nil {
		return scm.RepoHandle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[owner+"/"+name]; ok {
		return scm.RepoHandle{}, fmt.Errorf("%s/%s already exists", owner, name)
	}
	return s.add(owner, name), nil
}

func (s *SCM) Push(ctx context.Context, dir string, repo scm.RepoHandle) error {
	if err := s.record("Push", dir, repo.FullName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes[repo.FullName] = append(s.pushes[repo.FullName], dir)
	return nil
}

// Repositories returns the full names of every repository.
func (s *SCM) Repositories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.repos))
	for name := range s.repos {
		names = append(names, name)
	}
	return names
}

// Pushes returns the directories pushed to a repository.
func (s *SCM) Pushes(fullName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushes[fullName]...)
}
