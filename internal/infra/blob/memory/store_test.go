package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"trackcore/internal/blob/core"
)

func TestPutGetHead(t *testing.T) {
	store := New()
	ctx := context.Background()

	info, err := store.Put(ctx, "reports/ledger/1.json", strings.NewReader(`{"ok":true}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": "ledger"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "reports/ledger/1.json" || info.Size != 11 {
		t.Fatalf("info = %+v", info)
	}

	got, rc, err := store.Get(ctx, "reports/ledger/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_ = rc.Close()
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
	if got.Metadata["kind"] != "ledger" {
		t.Fatalf("metadata = %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "reports/ledger/1.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ContentType != "application/json" {
		t.Fatalf("head = %+v", head)
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("a"), core.PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("b"), core.PutOptions{}); err == nil {
		t.Fatalf("second put must fail")
	}
}

func TestDeleteAndList(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"reports/a", "reports/b", "other/c"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "reports/a" || infos[1].Key != "reports/b" {
		t.Fatalf("list = %+v", infos)
	}

	ok, err := store.Delete(ctx, "reports/a")
	if err != nil || !ok {
		t.Fatalf("delete = %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "reports/a")
	if err != nil || ok {
		t.Fatalf("second delete = %v %v", ok, err)
	}
}

func TestPresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestGetCopiesData(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("abc"), core.PutOptions{Metadata: map[string]string{"a": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = rc.Close()
	info.Metadata["a"] = "tampered"
	again, err := store.Head(ctx, "k")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if again.Metadata["a"] != "1" {
		t.Fatalf("metadata aliased internal state")
	}
}
