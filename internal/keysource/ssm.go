package keysource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/keydir/internal/keyfile"
)

// ssmLister is the subset of the SSM API the source needs. Extracted as
// an interface to enable unit testing without live AWS credentials.
type ssmLister interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSM surfaces the direct children of an SSM Parameter Store path as
// entries: the last path segment becomes the entry name, the decrypted
// parameter value becomes the content. There is no recursion, matching
// the top-level-only scan of the directory source.
type SSM struct {
	client ssmLister
	path   string
}

// NewSSM creates an SSM source rooted at a parameter path like
// "/prod/myapp/secrets".
func NewSSM(client *ssm.Client, path string) *SSM {
	return &SSM{client: client, path: strings.TrimRight(path, "/")}
}

func (s *SSM) String() string { return "ssm:" + s.path }

func (s *SSM) List(ctx context.Context) ([]keyfile.Entry, error) {
	params, err := s.parameters(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]keyfile.Entry, 0, len(params))
	for _, p := range params {
		out = append(out, &ssmEntry{
			name:  path.Base(aws.ToString(p.Name)),
			value: aws.ToString(p.Value),
		})
	}
	return out, nil
}

// Fingerprint hashes parameter names and versions. SSM bumps the version
// on every write, so this catches value changes without decrypting.
func (s *SSM) Fingerprint(ctx context.Context) (string, error) {
	params, err := s.parameters(ctx)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, p := range params {
		fmt.Fprintf(h, "%s|%d\n", aws.ToString(p.Name), p.Version)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *SSM) parameters(ctx context.Context) ([]ssmtypes.Parameter, error) {
	if !strings.HasPrefix(s.path, "/") {
		return nil, fmt.Errorf("%w: ssm path %q", keyfile.ErrNotAbsolute, s.path)
	}

	var out []ssmtypes.Parameter
	var next *string
	for {
		resp, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:           aws.String(s.path + "/"),
			Recursive:      aws.Bool(false),
			WithDecryption: aws.Bool(true),
			NextToken:      next,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: get parameters by path %s: %w", keyfile.ErrSourceUnavailable, s.path, err)
		}
		out = append(out, resp.Parameters...)
		if resp.NextToken == nil || aws.ToString(resp.NextToken) == "" {
			return out, nil
		}
		next = resp.NextToken
	}
}

// ssmEntry captures the parameter value at List time; Open replays it.
type ssmEntry struct {
	name  string
	value string
}

func (e *ssmEntry) Name() string { return e.name }
func (e *ssmEntry) IsDir() bool  { return false }

func (e *ssmEntry) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(e.value)), nil
}
