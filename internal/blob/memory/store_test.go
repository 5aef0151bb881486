package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"chemplumb/internal/blob/core"
)

func TestCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"a": "1"}
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["a"] = "changed"

	info, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	info.Metadata["a"] = "mutated"
	if b, _ := io.ReadAll(rc); string(b) != "abc" {
		t.Fatalf("expected body abc, got %q", b)
	}

	head, err := s.Head(ctx, "k")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["a"] != "1" {
		t.Fatalf("stored metadata changed through a caller's map: %v", head.Metadata)
	}
}

func TestConcurrentPutSingleWinner(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Put(context.Background(), "same", bytes.NewReader([]byte{byte(i)}), core.PutOptions{})
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful put, got %d", ok)
	}
}
