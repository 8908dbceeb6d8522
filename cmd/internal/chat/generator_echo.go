package chat

import (
	"context"
	"io"
	"strings"
	"time"
)

// EchoGenerator replies with the prompt, one word per fragment. It is the
// development default when no LLM is configured.
type EchoGenerator struct {
	Delay time.Duration
}

func (*EchoGenerator) Name() string { return "echo" }

func (g *EchoGenerator) Open(ctx context.Context, req GenerateRequest) (FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceStream{parts: splitWords(req.Text), delay: g.Delay}, nil
}

// splitWords keeps the separating whitespace on the preceding word, so the
// fragments concatenate back to the input.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexAny(s, " \t\n")
		if i < 0 {
			out = append(out, s)
			break
		}
		j := i
		for j < len(s) && strings.ContainsRune(" \t\n", rune(s[j])) {
			j++
		}
		out = append(out, s[:j])
		s = s[j:]
	}
	return out
}

type sliceStream struct {
	parts   []string
	failAt  int
	failErr error
	delay   time.Duration
	i       int
}

func (s *sliceStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.failErr != nil && s.i == s.failAt {
		return "", s.failErr
	}
	if s.i >= len(s.parts) {
		return "", io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	p := s.parts[s.i]
	s.i++
	return p, nil
}

func (s *sliceStream) Close() error { return nil }
