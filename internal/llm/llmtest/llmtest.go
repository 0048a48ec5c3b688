// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ziadkadry99/fingraph/internal/llm"
)

// ErrUnscripted is returned when a request arrives for a purpose with no
// queued or default reply.
var ErrUnscripted = errors.New("llmtest: no reply scripted")

// Reply is one scripted outcome.
type Reply struct {
	Content string
	Err     error
}

// Text is a successful reply.
func Text(s string) Reply { return Reply{Content: s} }

// Fail is a failed reply. A nil err becomes an llm.ErrUpstream failure.
func Fail(err error) Reply {
	if err == nil {
		err = fmt.Errorf("%w: scripted failure", llm.ErrUpstream)
	}
	return Reply{Err: err}
}

// Provider answers requests by purpose. Queued replies are consumed in order;
// once a queue is empty the purpose's default reply is used.
type Provider struct {
	mu       sync.Mutex
	queues   map[llm.Purpose][]Reply
	defaults map[llm.Purpose]Reply
	calls    []llm.CompletionRequest

	// Delay is applied before answering, honouring context cancellation.
	Delay time.Duration
}

// New returns an empty fake.
func New() *Provider {
	return &Provider{
		queues:   make(map[llm.Purpose][]Reply),
		defaults: make(map[llm.Purpose]Reply),
	}
}

// On queues replies for purpose.
func (p *Provider) On(purpose llm.Purpose, replies ...Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[purpose] = append(p.queues[purpose], replies...)
	return p
}

// Always sets the reply used when purpose's queue is empty.
func (p *Provider) Always(purpose llm.Purpose, reply Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[purpose] = reply
	return p
}

func (p *Provider) Name() string { return "llmtest" }

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	var (
		reply Reply
		ok    bool
	)
	if q := p.queues[req.Purpose]; len(q) > 0 {
		reply, ok = q[0], true
		p.queues[req.Purpose] = q[1:]
	} else {
		reply, ok = p.defaults[req.Purpose]
	}
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w for purpose %q", ErrUnscripted, req.Purpose)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.CompletionResponse{
		Content:      reply.Content,
		InputTokens:  len(req.Messages) * 10,
		OutputTokens: len(reply.Content) / 4,
		Model:        "llmtest",
		FinishReason: "stop",
	}, nil
}

// Calls returns the requests received so far, optionally filtered by purpose.
func (p *Provider) Calls(purpose ...llm.Purpose) []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(purpose) == 0 {
		return append([]llm.CompletionRequest(nil), p.calls...)
	}
	var out []llm.CompletionRequest
	for _, c := range p.calls {
		for _, want := range purpose {
			if c.Purpose == want {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// CallCount returns the number of requests for purpose, or all requests
// when purpose is empty.
func (p *Provider) CallCount(purpose ...llm.Purpose) int {
	return len(p.Calls(purpose...))
}

// LastPrompt returns the concatenated message text of the most recent
// request for purpose.
func (p *Provider) LastPrompt(purpose llm.Purpose) string {
	calls := p.Calls(purpose)
	if len(calls) == 0 {
		return ""
	}
	var s string
	for _, m := range calls[len(calls)-1].Messages {
		s += m.Content + "\n"
	}
	return s
}
