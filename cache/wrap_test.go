package cache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

type listing struct {
	Items []string `json:"items"`
	Total int      `json:"total"`
}

func TestWrapServesHitsWithoutCallingHandler(t *testing.T) {
	mr, m, _ := newTestManager(t, Config{})
	calls := 0
	handler := Wrap(m, "catalog.List", time.Minute, func(ctx context.Context, req Request) (listing, error) {
		calls++
		return listing{Items: []string{"a", "b"}, Total: 2}, nil
	})

	req := Request{Method: "GET", Path: "/catalog", Query: url.Values{"page": {"1"}}}
	ctx := context.Background()

	first, err := handler(ctx, req)
	if err != nil || first.Total != 2 {
		t.Fatalf("unexpected first result %+v err=%v", first, err)
	}
	second, err := handler(ctx, req)
	if err != nil || second.Total != 2 || len(second.Items) != 2 {
		t.Fatalf("unexpected cached result %+v err=%v", second, err)
	}
	if calls != 1 {
		t.Fatalf("expected handler called once, got %d", calls)
	}

	other := req
	other.Query = url.Values{"page": {"2"}}
	if _, err := handler(ctx, other); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("different request must miss, calls=%d", calls)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := handler(ctx, req); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected recompute after ttl, calls=%d", calls)
	}
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	_, m, _ := newTestManager(t, Config{})
	calls := 0
	boom := errors.New("boom")
	handler := Wrap(m, "catalog.Get", time.Minute, func(ctx context.Context, req Request) (listing, error) {
		calls++
		return listing{}, boom
	})

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), Request{Path: "/x"}); !errors.Is(err, boom) {
			t.Fatalf("expected handler error, got %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("errors must not be cached, calls=%d", calls)
	}
}

type streamResult struct {
	Events chan string
}

func TestWrapSkipsUnserializableResults(t *testing.T) {
	mr, m, _ := newTestManager(t, Config{})
	calls := 0
	handler := Wrap(m, "events.Stream", time.Minute, func(ctx context.Context, req Request) (streamResult, error) {
		calls++
		return streamResult{Events: make(chan string)}, nil
	})

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), Request{Path: "/events"}); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler called each time, got %d", calls)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected nothing stored, got %v", mr.Keys())
	}
}

func TestWrapFailsOpen(t *testing.T) {
	mr, m, _ := newTestManager(t, Config{})
	mr.SetError("down")
	calls := 0
	handler := Wrap(m, "catalog.List", time.Minute, func(ctx context.Context, req Request) (listing, error) {
		calls++
		return listing{Total: 1}, nil
	})

	for i := 0; i < 2; i++ {
		out, err := handler(context.Background(), Request{Path: "/catalog"})
		if err != nil || out.Total != 1 {
			t.Fatalf("expected handler result, got %+v err=%v", out, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected no caching while store is down, calls=%d", calls)
	}
}

func TestWrapNilManager(t *testing.T) {
	handler := Wrap[int](nil, "n", time.Minute, func(ctx context.Context, req Request) (int, error) {
		return 7, nil
	})
	if v, _ := handler(context.Background(), Request{}); v != 7 {
		t.Fatalf("expected passthrough, got %d", v)
	}
}
