package command

import (
	"context"
	"sync"
)

// Fake records requests and answers them from Handler. A nil Handler succeeds with an empty result.
type Fake struct {
	Handler func(req Request) (Result, error)

	mu   sync.Mutex
	reqs []Request
}

func (f *Fake) Run(_ context.Context, req Request) (Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.Handler == nil {
		return Result{}, nil
	}
	return f.Handler(req)
}

func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Request(nil), f.reqs...)
}
