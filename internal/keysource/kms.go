package keysource

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/keydir/internal/keyfile"
)

// kmsDecrypter is the single-call slice of the KMS client the wrapper
// uses.
type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSDecrypt wraps another source and decrypts every entry's content
// with KMS before it reaches the snapshot builder. Entry names pass
// through unchanged, so key normalization and the ignore policy behave
// exactly as they would against the inner source.
type KMSDecrypt struct {
	inner  keyfile.Source
	client kmsDecrypter
	keyID  string
}

// NewKMSDecrypt wraps inner so entry contents are treated as KMS
// ciphertext blobs. keyID may be empty; KMS then resolves the key from
// the ciphertext metadata.
func NewKMSDecrypt(inner keyfile.Source, client *kms.Client, keyID string) *KMSDecrypt {
	return &KMSDecrypt{inner: inner, client: client, keyID: keyID}
}

func (k *KMSDecrypt) String() string { return "kms(" + k.inner.String() + ")" }

func (k *KMSDecrypt) List(ctx context.Context) ([]keyfile.Entry, error) {
	entries, err := k.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]keyfile.Entry, len(entries))
	for i, e := range entries {
		out[i] = &kmsEntry{src: k, inner: e}
	}
	return out, nil
}

// Fingerprint delegates to the inner source when it supports
// fingerprinting; ciphertext changes whenever plaintext does.
func (k *KMSDecrypt) Fingerprint(ctx context.Context) (string, error) {
	fp, ok := k.inner.(interface {
		Fingerprint(ctx context.Context) (string, error)
	})
	if !ok {
		return "", fmt.Errorf("source %s does not support fingerprinting", k.inner.String())
	}
	return fp.Fingerprint(ctx)
}

type kmsEntry struct {
	src   *KMSDecrypt
	inner keyfile.Entry
}

func (e *kmsEntry) Name() string { return e.inner.Name() }
func (e *kmsEntry) IsDir() bool  { return e.inner.IsDir() }

func (e *kmsEntry) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := e.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	blob, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read ciphertext for %s: %w", e.inner.Name(), err)
	}

	in := &kms.DecryptInput{CiphertextBlob: blob}
	if e.src.keyID != "" {
		in.KeyId = aws.String(e.src.keyID)
	}
	resp, err := e.src.client.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms decrypt %s: %w", e.inner.Name(), err)
	}
	return io.NopCloser(bytes.NewReader(resp.Plaintext)), nil
}
