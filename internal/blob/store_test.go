package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if m.Driver() != DriverMemory {
		t.Fatalf("driver: %s", m.Driver())
	}

	info, err := m.Put(ctx, "runs/1/weights.bin", bytes.NewReader([]byte("payload")),
		PutOptions{ContentType: "application/octet-stream", Metadata: map[string]string{"run": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "application/octet-stream" {
		t.Fatalf("info: %+v", info)
	}
	if _, err := m.Put(ctx, "runs/1/weights.bin", bytes.NewReader(nil), PutOptions{}); err == nil {
		t.Fatalf("duplicate put must fail")
	}

	got, rc, err := m.Get(ctx, "runs/1/weights.bin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" || got.Metadata["run"] != "1" {
		t.Fatalf("get: %q %+v", data, got)
	}

	if _, err := m.Head(ctx, "missing"); err == nil {
		t.Fatalf("head of missing key must fail")
	}
	if _, err := m.PresignURL(ctx, "runs/1/weights.bin", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("presign on memory: %v", err)
	}

	if _, err := m.Put(ctx, "runs/2/weights.bin", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	list, err := m.List(ctx, "runs/1/")
	if err != nil || len(list) != 1 || list[0].Key != "runs/1/weights.bin" {
		t.Fatalf("list: %+v err=%v", list, err)
	}

	if ok, err := m.Delete(ctx, "runs/1/weights.bin"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := m.Delete(ctx, "runs/1/weights.bin"); err != nil || ok {
		t.Fatalf("delete of missing: ok=%v err=%v", ok, err)
	}
}

func TestFilesystemRoundTrip(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("driver: %s", fsStore.Driver())
	}

	info, err := fsStore.Put(ctx, "runs/1/model.pt", bytes.NewReader([]byte("weights")),
		PutOptions{ContentType: "application/octet-stream", Metadata: map[string]string{"epoch": "3"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("info: %+v", info)
	}
	if _, err := fsStore.Put(ctx, "runs/1/model.pt", bytes.NewReader(nil), PutOptions{}); err == nil {
		t.Fatalf("duplicate put must fail")
	}

	head, err := fsStore.Head(ctx, "runs/1/model.pt")
	if err != nil || head.ETag != info.ETag || head.Metadata["epoch"] != "3" {
		t.Fatalf("head: %+v err=%v", head, err)
	}
	_, rc, err := fsStore.Get(ctx, "runs/1/model.pt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "weights" {
		t.Fatalf("content: %q", data)
	}

	if _, err := fsStore.Put(ctx, "runs/2/model.pt", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	list, err := fsStore.List(ctx, "runs/")
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %+v err=%v", list, err)
	}
	if list[0].Key != "runs/1/model.pt" {
		t.Fatalf("list order: %+v", list)
	}

	if ok, err := fsStore.Delete(ctx, "runs/1/model.pt"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := fsStore.Delete(ctx, "runs/1/model.pt"); err != nil || ok {
		t.Fatalf("delete of missing: ok=%v err=%v", ok, err)
	}
	if _, err := fsStore.PresignURL(ctx, "runs/2/model.pt", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("presign on fs: %v", err)
	}
}

func TestFilesystemRejectsBadKeys(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "  ", "/abs/path", "../escape", "a/../../b"} {
		if _, err := fsStore.Put(ctx, key, bytes.NewReader(nil), PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
	// Dot segments that stay inside the root are fine after cleaning.
	if _, err := fsStore.Put(ctx, "a/../b.txt", bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("clean in-root key: %v", err)
	}
}

func TestOpenFactory(t *testing.T) {
	ctx := context.Background()
	t.Setenv("MODELDB_BLOB_DRIVER", "memory")
	s, err := Open(ctx)
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v err=%v", s, err)
	}

	t.Setenv("MODELDB_BLOB_DRIVER", "fs")
	t.Setenv("MODELDB_BLOB_FS_ROOT", filepath.Join(t.TempDir(), "root"))
	s, err = Open(ctx)
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("fs driver: %v err=%v", s, err)
	}
	if _, err := os.Stat(os.Getenv("MODELDB_BLOB_FS_ROOT")); err != nil {
		t.Fatalf("fs root not created: %v", err)
	}

	t.Setenv("MODELDB_BLOB_DRIVER", "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("unknown driver must fail")
	}

	t.Setenv("MODELDB_BLOB_DRIVER", "s3")
	t.Setenv("MODELDB_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("s3 without bucket must fail")
	}
}
