package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPromptConfirmerAfterCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := newPromptConfirmer(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := p.Confirm(ctx, "first?"); ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Confirm = %v, %v", ok, err)
	}

	// The abandoned question must not leave a second reader behind.
	answers := []struct {
		line string
		want bool
	}{
		{"y\n", true},
		{"no\n", false},
		{"\n", true},
	}
	for _, a := range answers {
		go func(line string) {
			_, _ = io.WriteString(w, line)
		}(a.line)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := p.Confirm(ctx, "again?")
		cancel()
		if err != nil {
			t.Fatalf("Confirm(%q): %v", a.line, err)
		}
		if ok != a.want {
			t.Errorf("Confirm(%q) = %v, want %v", a.line, ok, a.want)
		}
	}
}

func TestPromptConfirmerInputClosed(t *testing.T) {
	r, w := io.Pipe()
	p := newPromptConfirmer(r, io.Discard)
	w.Close()

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := p.Confirm(ctx, "closed?")
		cancel()
		if ok || !errors.Is(err, io.EOF) {
			t.Errorf("Confirm #%d = %v, %v; want EOF", i, ok, err)
		}
	}
}
