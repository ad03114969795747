package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"imagingqc/internal/blob/core"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	st := New()
	if st.Driver() != core.DriverMemory {
		t.Fatalf("driver mismatch")
	}
	if _, _, err := st.Get(ctx, "missing"); !core.IsNotFound(err) {
		t.Fatalf("expected get not found, got %v", err)
	}
	if _, err := st.Head(ctx, "missing"); !core.IsNotFound(err) {
		t.Fatalf("expected head not found, got %v", err)
	}
	info, err := st.Put(ctx, "ucsd/sessions.json", bytes.NewReader([]byte("data")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"x": "y"}})
	if err != nil || info.Key != "ucsd/sessions.json" || info.ETag == "" {
		t.Fatalf("put failed: %+v %v", info, err)
	}
	if _, err := st.Put(ctx, "ucsd/sessions.json", bytes.NewReader([]byte("d2")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}
	if _, err := st.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	h, err := st.Head(ctx, "ucsd/sessions.json")
	if err != nil || h.Size != 4 || h.ETag != info.ETag {
		t.Fatalf("head failed: %+v %v", h, err)
	}
	h.Metadata["x"] = "mutated"
	gInfo, r, err := st.Get(ctx, "ucsd/sessions.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(r)
	if string(b) != "data" || gInfo.Metadata["x"] != "y" {
		t.Fatalf("get returned %q %+v", b, gInfo)
	}
	if _, err := st.PresignURL(ctx, "ucsd/sessions.json", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
	if ok, err := st.Delete(ctx, "ucsd/sessions.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := st.Delete(ctx, "ucsd/sessions.json"); ok {
		t.Fatalf("expected second delete false")
	}
}

func TestStore_ListPrefixSorted(t *testing.T) {
	ctx := context.Background()
	st := New()
	for _, k := range []string{"b/2", "a/2", "a/1", "c"} {
		if _, err := st.Put(ctx, k, bytes.NewReader([]byte(k)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := st.List(ctx, "a/")
	if err != nil || len(list) != 2 || list[0].Key != "a/1" || list[1].Key != "a/2" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	all, _ := st.List(ctx, "")
	if len(all) != 4 {
		t.Fatalf("expected 4, got %d", len(all))
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := New()
	if _, err := st.Put(ctx, "k", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if _, _, err := st.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	st := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = st.Put(ctx, fmt.Sprintf("k%02d", i), bytes.NewReader([]byte("v")), core.PutOptions{})
		}(i)
	}
	wg.Wait()
	list, _ := st.List(ctx, "k")
	if len(list) != 16 {
		t.Fatalf("expected 16 objects, got %d", len(list))
	}
}
