package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Location is a bucket and key pair parsed from an s3:// style URL.
type Location struct {
	Bucket string
	Key    string
}

// ParseS3URL accepts s3://, s3a:// and s3n:// URLs.
func ParseS3URL(raw string) (Location, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("parse s3 url %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "s3", "s3a", "s3n":
	default:
		return Location{}, fmt.Errorf("invalid s3 url %q: unsupported scheme %q", raw, parsed.Scheme)
	}
	if parsed.Host == "" {
		return Location{}, fmt.Errorf("invalid s3 url %q: bucket is required", raw)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return Location{}, fmt.Errorf("invalid s3 url %q: key is required", raw)
	}
	return Location{Bucket: parsed.Host, Key: key}, nil
}

// ObjectKey resolves a batch kwargs s3 value to a key relative to a store
// rooted at bucket/prefix. URL values name the full bucket key and must fall
// under prefix; plain keys are already relative and are returned cleaned.
func ObjectKey(value, bucket, prefix string) (string, error) {
	if strings.Contains(value, "://") {
		location, err := ParseS3URL(value)
		if err != nil {
			return "", err
		}
		if bucket != "" && location.Bucket != bucket {
			return "", fmt.Errorf("s3 url %q is outside bucket %q", value, bucket)
		}
		key := path.Clean(location.Key)
		prefix = strings.Trim(path.Clean("/"+strings.TrimSpace(prefix)), "/")
		if prefix == "" {
			return key, nil
		}
		relative, ok := strings.CutPrefix(key, prefix+"/")
		if !ok || relative == "" {
			return "", fmt.Errorf("s3 url %q is outside prefix %q", value, prefix)
		}
		return relative, nil
	}
	key := strings.TrimPrefix(strings.TrimSpace(value), "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	return path.Clean(key), nil
}
