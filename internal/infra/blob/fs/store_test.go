package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldtrial/internal/blob/core"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "uploads/e1/s1/descriptors", strings.NewReader("column_id,column_name\n"), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"kind": "descriptors"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("column_id,column_name\n")) || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "uploads/e1/s1/descriptors", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "uploads/e1/s1/descriptors")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "column_id,column_name\n" || got.ContentType != "text/csv" || got.Metadata["kind"] != "descriptors" {
		t.Fatalf("unexpected get result %+v %q", got, body)
	}

	if _, err := s.Put(ctx, "cursors/e1.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	list, err := s.List(ctx, "uploads/")
	if err != nil || len(list) != 1 || list[0].Key != "uploads/e1/s1/descriptors" {
		t.Fatalf("unexpected list %v %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "cursors/e1.json" {
		t.Fatalf("expected sorted keys, got %v", all)
	}

	url, err := s.PresignURL(ctx, "cursors/e1.json", core.SignedURLOptions{})
	if err != nil || !strings.HasSuffix(url, "/cursors/e1.json") {
		t.Fatalf("unexpected url %q %v", url, err)
	}
	if _, err := s.PresignURL(ctx, "cursors/e1.json", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	if ok, err := s.Delete(ctx, "cursors/e1.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "cursors/e1.json"); ok {
		t.Fatalf("expected missing delete to report false")
	}
	if _, err := s.Head(ctx, "cursors/e1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Head, got %v", err)
	}
	if _, _, err := s.Get(ctx, "cursors/e1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestFilesystemStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../../b", "plots.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestFilesystemStoreCorruptSidecar(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Put(context.Background(), "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "k.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := s.Head(context.Background(), "k"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := s.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	wd, _ := os.Getwd()
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	s, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Root() != DefaultRoot {
		t.Fatalf("expected default root, got %s", s.Root())
	}
}
