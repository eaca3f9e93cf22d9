package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Location is a parsed INPUT_PATH: a local file or an s3://bucket/key object.
type Location struct {
	Path   string
	Bucket string
	Key    string
}

func (l Location) IsS3() bool {
	return l.Key != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// Compressed reports whether the input is gzip compressed, judged by the
// .gz suffix ConceptNet dumps are published with.
func (l Location) Compressed() bool {
	name := l.Path
	if l.IsS3() {
		name = l.Key
	}
	return strings.EqualFold(path.Ext(name), ".gz")
}

// ParseLocation parses raw. s3:// locations may omit the bucket
// (s3:///key) when defaultBucket is set.
func ParseLocation(raw, defaultBucket string) (Location, error) {
	if raw == "" {
		return Location{}, errors.New("input path is empty")
	}
	if !strings.HasPrefix(raw, "s3://") {
		return Location{Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid s3 location %q: %w", raw, err)
	}
	bucket := u.Host
	if bucket == "" {
		bucket = defaultBucket
	}
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return Location{}, fmt.Errorf("s3 location %q needs a bucket and a key", raw)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Input opens a Location on every call to Open, decompressing .gz data.
type Input struct {
	loc    Location
	client ObjectGetter
}

// NewInput creates an input for loc. client may be nil for local files.
func NewInput(loc Location, client ObjectGetter) (*Input, error) {
	if loc.IsS3() && client == nil {
		return nil, fmt.Errorf("no s3 client configured for %s", loc)
	}
	return &Input{loc: loc, client: client}, nil
}

func (in *Input) Name() string {
	return in.loc.String()
}

func (in *Input) Open(ctx context.Context) (io.ReadCloser, error) {
	var raw io.ReadCloser
	if in.loc.IsS3() {
		body, err := GetObjectStream(ctx, in.client, in.loc.Bucket, in.loc.Key)
		if err != nil {
			return nil, err
		}
		raw = body
	} else {
		f, err := os.Open(in.loc.Path)
		if err != nil {
			return nil, err
		}
		raw = f
	}

	if !in.loc.Compressed() {
		return raw, nil
	}
	zr, err := gzip.NewReader(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", in.loc, err)
	}
	return &gzipReadCloser{Reader: zr, underlying: raw}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.underlying.Close())
}
