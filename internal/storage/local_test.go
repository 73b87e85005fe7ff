package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "test.json")
	writeFile(t, srcPath, `{"song_id":"S1"}`)

	ctx := context.Background()
	key := "song_data/A/A/A/TRAAAAW128F429D538.json"

	if err := storage.Upload(ctx, srcPath, key); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	objects, err := storage.ListObjects(ctx, "song_data/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 1 || objects[0].Key != key {
		t.Errorf("expected uploaded object, got %v", objects)
	}

	dstPath := filepath.Join(srcDir, "nested", "downloaded.json")
	if err := storage.Download(ctx, key, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != `{"song_id":"S1"}` {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.DeleteObjects(ctx, []string{key}); err != nil {
		t.Fatalf("DeleteObjects failed: %v", err)
	}
	if err := storage.Download(ctx, key, dstPath); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound after delete, got %v", err)
	}

	// Deleting again is not an error
	if err := storage.DeleteObjects(ctx, []string{key}); err != nil {
		t.Errorf("second DeleteObjects failed: %v", err)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	err := storage.Download(context.Background(), "missing.json", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	base := t.TempDir()
	storage, _ := NewLocalStorage(base)

	writeFile(t, filepath.Join(base, "log_data", "2018", "11", "b.json"), "bb")
	writeFile(t, filepath.Join(base, "log_data", "2018", "11", "a.json"), "a")
	writeFile(t, filepath.Join(base, "song_data", "c.json"), "c")

	ctx := context.Background()
	objects, err := storage.ListObjects(ctx, "log_data/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %v", objects)
	}
	if objects[0].Key != "log_data/2018/11/a.json" || objects[1].Key != "log_data/2018/11/b.json" {
		t.Errorf("unexpected keys: %v", objects)
	}
	if objects[1].Size != 2 {
		t.Errorf("expected size 2, got %d", objects[1].Size)
	}

	missing, err := storage.ListObjects(ctx, "nothing/")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected empty list, got %v", missing)
	}
}

func TestLocalStorage_DeleteObjects(t *testing.T) {
	base := t.TempDir()
	storage, _ := NewLocalStorage(base)
	writeFile(t, filepath.Join(base, "out", "a"), "a")
	writeFile(t, filepath.Join(base, "out", "b"), "b")

	ctx := context.Background()
	if err := storage.DeleteObjects(ctx, []string{"out/a", "out/b", "out/missing"}); err != nil {
		t.Fatalf("DeleteObjects failed: %v", err)
	}
	objects, _ := storage.ListObjects(ctx, "out/")
	if len(objects) != 0 {
		t.Errorf("expected no objects, got %v", objects)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := storage.ListObjects(ctx, ""); err == nil {
		t.Error("expected error from cancelled context")
	}
	if err := storage.Upload(ctx, "x", "y"); err == nil {
		t.Error("expected error from cancelled context")
	}
}
