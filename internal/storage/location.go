package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Scheme identifies the backend of a Location.
type Scheme string

const (
	SchemeS3   Scheme = "s3"
	SchemeFile Scheme = "file"
)

// Location is a parsed storage root such as s3://bucket/prefix/ or a local
// directory.
type Location struct {
	Scheme Scheme
	// Bucket is set for S3 locations only.
	Bucket string
	// Path is the key prefix (S3, no leading slash) or the directory (file).
	Path string
}

// ParseLocation accepts s3://bucket/prefix, s3a://bucket/prefix,
// file:///abs/path or a bare filesystem path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("empty location")
	}

	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Path: filepath.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3", "s3a", "s3n":
		if u.Host == "" {
			return Location{}, fmt.Errorf("location %q has no bucket", raw)
		}
		return Location{
			Scheme: SchemeS3,
			Bucket: u.Host,
			Path:   normalizePrefix(u.Path),
		}, nil
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/dir
			p = u.Host + u.Path
		}
		if p == "" {
			return Location{}, fmt.Errorf("location %q has no path", raw)
		}
		return Location{Scheme: SchemeFile, Path: filepath.Clean(filepath.FromSlash(p))}, nil
	default:
		return Location{}, fmt.Errorf("unsupported location scheme %q in %q", u.Scheme, raw)
	}
}

// normalizePrefix strips the leading slash and guarantees a trailing one
// for non-empty prefixes.
func normalizePrefix(p string) string {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// String renders the location as a URI.
func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Path
	}
	return "file://" + filepath.ToSlash(l.Path)
}

// Root is an opened Location: a store plus the key prefix all relative keys
// resolve against.
type Root struct {
	Store    ObjectStorage
	Location Location
	prefix   string
}

// NewRoot wraps an existing store.
func NewRoot(store ObjectStorage, loc Location) *Root {
	prefix := ""
	if loc.Scheme == SchemeS3 {
		prefix = loc.Path
	}
	return &Root{Store: store, Location: loc, prefix: prefix}
}

// Open creates the backend for loc. S3 settings apply to s3 locations only.
func Open(ctx context.Context, loc Location, cfg S3Config) (*Root, error) {
	switch loc.Scheme {
	case SchemeS3:
		store, err := NewS3Storage(ctx, loc.Bucket, cfg)
		if err != nil {
			return nil, err
		}
		return NewRoot(store, loc), nil
	case SchemeFile:
		store, err := NewLocalStorage(loc.Path)
		if err != nil {
			return nil, err
		}
		return NewRoot(store, loc), nil
	default:
		return nil, fmt.Errorf("unsupported location scheme %q", loc.Scheme)
	}
}

// Key resolves a slash-separated relative path to a store key.
func (r *Root) Key(rel string) string {
	return r.prefix + strings.TrimLeft(rel, "/")
}

// Dir resolves a relative directory to a store prefix ending in "/".
func (r *Root) Dir(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return r.prefix
	}
	return r.prefix + rel + "/"
}

// URI renders a relative path under this root for logs and errors.
func (r *Root) URI(rel string) string {
	if r.Location.Scheme == SchemeS3 {
		return "s3://" + r.Location.Bucket + "/" + r.Key(rel)
	}
	return "file://" + path.Join(filepath.ToSlash(r.Location.Path), rel)
}
