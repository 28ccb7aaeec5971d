package models

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// BlobRef locates an object in the storage gateway.
type BlobRef struct {
	Bucket string
	Path   string
}

func (b BlobRef) String() string {
	return "s3://" + b.Bucket + "/" + b.Path
}

// ParseBlobURL accepts s3://bucket/key or a path-style http(s)://host/bucket/key.
func ParseBlobURL(raw string) (BlobRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BlobRef{}, fmt.Errorf("parse blob url: %w", err)
	}

	switch u.Scheme {
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return BlobRef{}, fmt.Errorf("blob url %q: missing bucket or key", raw)
		}
		return BlobRef{Bucket: u.Host, Path: key}, nil
	case "http", "https":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return BlobRef{}, fmt.Errorf("blob url %q: expected /bucket/key path", raw)
		}
		return BlobRef{Bucket: parts[0], Path: parts[1]}, nil
	default:
		return BlobRef{}, fmt.Errorf("blob url %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// OutputName swaps the extension of the original file name for target.
func OutputName(original, target string) string {
	base := path.Base(strings.ReplaceAll(original, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "converted"
	}
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == '?', r == '#', r == '%':
			return '_'
		}
		return r
	}, base)
	return base + "." + strings.ToLower(target)
}

// OutputKey is the deterministic location of a job's converted artifact.
func OutputKey(job *ConversionJob) string {
	return job.Owner() + "/" + job.ConversionID + "/" + OutputName(job.OriginalFileName, job.TargetFormat)
}
