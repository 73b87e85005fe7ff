package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Transfer coordinates parallel object copies between a Root and the local
// filesystem.
type Transfer struct {
	concurrency int
}

// DownloadResult describes a staged prefix.
type DownloadResult struct {
	// Files are the local paths written, sorted.
	Files []string
	Bytes int64
}

// PublishResult describes a published dataset.
type PublishResult struct {
	Uploaded []string
	Bytes    int64
	// Stale is the number of pre-existing keys removed from the prefix.
	Stale int
}

// NewTransfer creates a transfer with at most concurrency copies in flight.
func NewTransfer(concurrency int) *Transfer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Transfer{concurrency: concurrency}
}

// DownloadPrefix stages every object under rel (a directory relative to root)
// whose key passes keep into dest, preserving the relative layout. A nil keep
// accepts every object.
func (t *Transfer) DownloadPrefix(ctx context.Context, root *Root, rel, dest string, keep func(key string) bool) (*DownloadResult, error) {
	prefix := root.Dir(rel)
	objects, err := root.Store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}

	type job struct {
		key   string
		local string
		size  int64
	}
	var jobs []job
	for _, obj := range objects {
		if keep != nil && !keep(obj.Key) {
			continue
		}
		local, err := localPath(dest, strings.TrimPrefix(obj.Key, prefix))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job{key: obj.Key, local: local, size: obj.Size})
	}

	result := &DownloadResult{}
	var mu sync.Mutex
	err = t.run(ctx, len(jobs), func(ctx context.Context, i int) error {
		j := jobs[i]
		if err := root.Store.Download(ctx, j.key, j.local); err != nil {
			return fmt.Errorf("download %s: %w", root.URI(strings.TrimPrefix(j.key, root.Key(""))), err)
		}
		mu.Lock()
		result.Files = append(result.Files, j.local)
		result.Bytes += j.size
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(result.Files)
	return result, nil
}

// UploadDir uploads every regular file under src to rel (a directory relative
// to root), preserving the relative layout. Returns the keys written.
func (t *Transfer) UploadDir(ctx context.Context, root *Root, rel, src string) ([]string, int64, error) {
	type job struct {
		local string
		key   string
		size  int64
	}
	var jobs []job
	prefix := root.Dir(rel)
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		r, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{local: p, key: prefix + filepath.ToSlash(r), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", src, err)
	}

	var bytes int64
	var mu sync.Mutex
	err = t.run(ctx, len(jobs), func(ctx context.Context, i int) error {
		j := jobs[i]
		if err := root.Store.Upload(ctx, j.local, j.key); err != nil {
			return err
		}
		mu.Lock()
		bytes += j.size
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	keys := make([]string, len(jobs))
	for i, j := range jobs {
		keys[i] = j.key
	}
	sort.Strings(keys)
	return keys, bytes, nil
}

// Publish replaces the contents of rel with the files under src: the new
// files are uploaded first, then every key under rel that was not just
// written is deleted.
func (t *Transfer) Publish(ctx context.Context, root *Root, rel, src string) (*PublishResult, error) {
	existing, err := root.Store.ListObjects(ctx, root.Dir(rel))
	if err != nil {
		return nil, err
	}

	uploaded, bytes, err := t.UploadDir(ctx, root, rel, src)
	if err != nil {
		return nil, err
	}

	written := make(map[string]struct{}, len(uploaded))
	for _, k := range uploaded {
		written[k] = struct{}{}
	}
	var stale []string
	for _, obj := range existing {
		if _, ok := written[obj.Key]; !ok {
			stale = append(stale, obj.Key)
		}
	}
	if len(stale) > 0 {
		if err := root.Store.DeleteObjects(ctx, stale); err != nil {
			return nil, err
		}
	}

	return &PublishResult{Uploaded: uploaded, Bytes: bytes, Stale: len(stale)}, nil
}

// run executes n jobs with at most t.concurrency in flight, stopping at the
// first error.
func (t *Transfer) run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(t.concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			return fn(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// localPath maps a relative key under dest, rejecting keys that would escape it.
func localPath(dest, relKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relKey))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes staging directory", relKey)
	}
	return filepath.Join(dest, clean), nil
}
