package keysource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/keydir/internal/keyfile"
)

// s3API is the slice of the S3 client used by the source; fakes implement
// it in tests.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 treats the objects directly under a bucket prefix as entries. The
// key suffix after the prefix is the entry name; common prefixes (the
// "/"-delimited pseudo-directories) list as directory entries so the
// builder skips them the same way it skips local subdirectories.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 creates an S3 source. prefix may be empty for the bucket root;
// a non-empty prefix is normalized to end with "/".
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) String() string { return "s3:" + s.bucket + "/" + s.prefix }

func (s *S3) List(ctx context.Context) ([]keyfile.Entry, error) {
	objects, prefixes, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]keyfile.Entry, 0, len(objects)+len(prefixes))
	for _, obj := range objects {
		name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
		if name == "" {
			continue // the prefix placeholder object itself
		}
		out = append(out, &s3Entry{src: s, key: aws.ToString(obj.Key), name: name})
	}
	for _, cp := range prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
		out = append(out, &s3Entry{src: s, name: name, dir: true})
	}
	return out, nil
}

// Fingerprint hashes object keys and ETags from a list pass, so polling
// change detection never downloads object bodies.
func (s *S3) Fingerprint(ctx context.Context) (string, error) {
	objects, _, err := s.scan(ctx)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, obj := range objects {
		fmt.Fprintf(h, "%s|%s\n", aws.ToString(obj.Key), aws.ToString(obj.ETag))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *S3) scan(ctx context.Context) ([]s3types.Object, []s3types.CommonPrefix, error) {
	var (
		objects  []s3types.Object
		prefixes []s3types.CommonPrefix
		token    *string
	)
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: list s3://%s/%s: %w", keyfile.ErrSourceUnavailable, s.bucket, s.prefix, err)
		}
		objects = append(objects, resp.Contents...)
		prefixes = append(prefixes, resp.CommonPrefixes...)
		if !aws.ToBool(resp.IsTruncated) {
			return objects, prefixes, nil
		}
		token = resp.NextContinuationToken
	}
}

type s3Entry struct {
	src  *S3
	key  string
	name string
	dir  bool
}

func (e *s3Entry) Name() string { return e.name }
func (e *s3Entry) IsDir() bool  { return e.dir }

func (e *s3Entry) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := e.src.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.src.bucket),
		Key:    aws.String(e.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", e.src.bucket, e.key, err)
	}
	return resp.Body, nil
}
