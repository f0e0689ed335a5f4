package extractor

import (
	"errors"
	"sync"
	"time"
)

type fakePage struct {
	text     string
	textErr  error
	gotoErr  error
	evals    map[string]any
	evalErr  error
	visited  string
	timeout  time.Duration
	closed   bool
	closeErr error
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	p.visited = url
	p.timeout = timeout
	return p.gotoErr
}

func (p *fakePage) Text() (string, error) { return p.text, p.textErr }

func (p *fakePage) Evaluate(script string) (any, error) {
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return p.evals[script], nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return p.closeErr
}

type fakeSession struct {
	mu     sync.Mutex
	page   *fakePage
	err    error
	opened int
}

func (s *fakeSession) NewPage() (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.opened++
	return s.page, nil
}

func (s *fakeSession) Close() error { return nil }

var errBoom = errors.New("boom")
