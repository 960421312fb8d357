package xpush

import (
	"sync"
)

// future is completed exactly once, by a matching response or a failure.
type future struct {
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) complete(resp *Response, err error) bool {
	ok := false
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed once the future holds a result.
func (f *future) Done() <-chan struct{} { return f.done }

func (f *future) result() (*Response, error) { return f.resp, f.err }

// pendingRegistry maps request ids to the futures of callers waiting on them.
// An entry is cleared by whichever happens first: its response, its timeout,
// or the caller giving up.
type pendingRegistry struct {
	mu      sync.Mutex
	waiting map[string]*future
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{waiting: make(map[string]*future)}
}

// register must be called before the request is submitted.
func (p *pendingRegistry) register(id string) (*future, error) {
	if id == "" {
		return nil, &InvalidRequestError{Reason: "request has no id"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.waiting[id]; dup {
		return nil, &InvalidRequestError{ID: id, Reason: "a request with this id is already pending"}
	}
	f := newFuture()
	p.waiting[id] = f
	return f, nil
}

// resolve hands resp to the waiter for resp.ID and clears the entry.
// It reports false for ids that are not pending: unknown, already answered,
// or timed out.
func (p *pendingRegistry) resolve(resp *Response) bool {
	if resp == nil || resp.ID == "" {
		return false
	}
	p.mu.Lock()
	f, ok := p.waiting[resp.ID]
	if ok {
		delete(p.waiting, resp.ID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	return f.complete(resp, nil)
}

// remove clears id if it still maps to f.
func (p *pendingRegistry) remove(id string, f *future) {
	p.mu.Lock()
	if cur, ok := p.waiting[id]; ok && cur == f {
		delete(p.waiting, id)
	}
	p.mu.Unlock()
}

// failAll completes every waiter with err and empties the registry.
func (p *pendingRegistry) failAll(err error) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]*future)
	p.mu.Unlock()
	for _, f := range waiting {
		f.complete(nil, err)
	}
}

func (p *pendingRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
