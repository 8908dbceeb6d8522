package chat

import (
	"context"
	"sync"
	"time"
)

// ScriptedGenerator yields a fixed list of fragments. When Err is set, the
// stream fails with it after FailAt fragments.
type ScriptedGenerator struct {
	Fragments []string
	FailAt    int
	Err       error
	OpenErr   error
	Delay     time.Duration

	mu       sync.Mutex
	requests []GenerateRequest
}

func (*ScriptedGenerator) Name() string { return "scripted" }

func (g *ScriptedGenerator) Open(ctx context.Context, req GenerateRequest) (FragmentStream, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	return &sliceStream{parts: g.Fragments, failAt: g.FailAt, failErr: g.Err, delay: g.Delay}, nil
}

// Requests returns every request Open has seen.
func (g *ScriptedGenerator) Requests() []GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateRequest(nil), g.requests...)
}
