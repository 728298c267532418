package mvarload_api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
)

const defaultMaxLineBytes = 8 * 1000000 // 8 MB

// errStopScan ends ScanLines early without reporting an error.
var errStopScan = errors.New("stop scan")

// ObjectGetter is the part of the S3 client used to stream inputs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves input locations to decompressed line streams.
// Locations are local paths or s3://bucket/key URIs.
type Opener struct {
	// S3 is created on first use from the default AWS credential chain when nil.
	S3 ObjectGetter
}

// Environment variables:
//   MVARLOAD_S3_REGION=<region> (default us-east-1)
//   MVARLOAD_S3_ENDPOINT=<url> (optional, for MinIO)
//   MVARLOAD_S3_PATH_STYLE=true|false (default false)

func newS3Client(ctx context.Context) (*s3.Client, error) {
	region := os.Getenv("MVARLOAD_S3_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := os.Getenv("MVARLOAD_S3_ENDPOINT")
	pathStyle := strings.EqualFold(os.Getenv("MVARLOAD_S3_PATH_STYLE"), "true")
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if pathStyle {
			o.UsePathStyle = true
		}
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Open returns the decompressed content of location.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	raw, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}
	r, err := Decompress(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return r, nil
}

func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, ok := parseS3URI(location)
	if !ok {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		return f, nil
	}
	if o.S3 == nil {
		client, err := newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		o.S3 = client
	}
	out, err := o.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func parseS3URI(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Decompress sniffs the first bytes of r and unwraps BGZF or plain gzip.
// Anything else is returned as is.
func Decompress(r io.ReadCloser) (io.ReadCloser, error) {
	buffered := bufio.NewReader(r)
	magic, err := buffered.Peek(14)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	switch {
	case isBgzf(magic):
		bgReader, err := bgzf.NewReader(buffered, 1)
		if err != nil {
			return nil, fmt.Errorf("read bgzf: %w", err)
		}
		return &stackedReader{Reader: bgReader, closers: []io.Closer{bgReader, r}}, nil
	case isGzip(magic):
		gzReader, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("read gzip: %w", err)
		}
		return &stackedReader{Reader: gzReader, closers: []io.Closer{gzReader, r}}, nil
	}
	return &stackedReader{Reader: buffered, closers: []io.Closer{r}}, nil
}

func isGzip(magic []byte) bool {
	return len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b
}

// A BGZF block is a gzip member with FEXTRA set and a 'BC' subfield first.
func isBgzf(magic []byte) bool {
	return len(magic) >= 14 && isGzip(magic) && magic[3]&0x04 != 0 && magic[12] == 'B' && magic[13] == 'C'
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanLines calls fn for every line of r with its 1-based line number.
// Returning errStopScan from fn ends the scan cleanly.
func ScanLines(ctx context.Context, r io.Reader, maxLineBytes int, fn func(line string, lineNo int) error) error {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := string(bytes.TrimRight(scanner.Bytes(), "\r"))
		if line == "" {
			continue
		}
		if err := fn(line, lineNo); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", lineNo+1, err)
	}
	return nil
}
