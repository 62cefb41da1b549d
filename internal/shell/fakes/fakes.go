// Package fakes provides in-memory platform implementations that record
// every call. They back the provisioner and orchestrator tests and the
// dry-run mode of the CLI.
package fakes

import (
	"strings"
	"sync"

	"github.com/artpar/shipyard/internal/shell/archive"
	"github.com/artpar/shipyard/internal/shell/compute"
	"github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/scm"
)

var (
	_ scm.RepositoryHost = (*SCM)(nil)
	_ scm.Pusher         = (*SCM)(nil)
	_ compute.Platform   = (*Compute)(nil)
	_ dns.Provider       = (*DNS)(nil)
	_ archive.Uploader   = (*Uploader)(nil)
)

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []string
}

func (c Call) String() string {
	return c.Method + "(" + strings.Join(c.Args, ", ") + ")"
}

// recorder keeps the call log and injected failures of a fake.
type recorder struct {
	mu     sync.Mutex
	calls  []Call
	next   map[string][]error
	always map[string]error
}

func (r *recorder) record(method string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})

	if err, ok := r.always[method]; ok {
		return err
	}
	if queue := r.next[method]; len(queue) > 0 {
		r.next[method] = queue[1:]
		return queue[0]
	}
	return nil
}

// FailNext makes the next len(errs) calls of method return errs in order.
func (r *recorder) FailNext(method string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == nil {
		r.next = make(map[string][]error)
	}
	r.next[method] = append(r.next[method], errs...)
}

// FailAlways makes every call of method return err.
func (r *recorder) FailAlways(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.always == nil {
		r.always = make(map[string]error)
	}
	r.always[method] = err
}

// Calls returns a copy of the call log.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how often method was called.
func (r *recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
