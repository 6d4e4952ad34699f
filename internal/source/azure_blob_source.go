package source

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"ringstream/internal/ringbuf"
)

// AzureBlobSource reads an Azure Blob Storage blob through ranged
// DownloadStream calls, a second concrete source alongside HTTPRangeSource
// exercising the same seek-heavy read pattern against a different
// transport.
type AzureBlobSource struct {
	client *blockblob.Client

	mu      sync.Mutex
	pos     int64
	size    int64
	body    io.ReadCloser
	bodyPos int64
}

var _ ringbuf.Source = (*AzureBlobSource)(nil)

// NewAzureBlobSourceNoCredential opens a public or SAS-authorized blob URL
// and probes its size with GetProperties.
func NewAzureBlobSourceNoCredential(ctx context.Context, blobURL string, options *azcore.ClientOptions) (*AzureBlobSource, error) {
	client, err := blockblob.NewClientWithNoCredential(blobURL, &blockblob.ClientOptions{ClientOptions: derefClientOptions(options)})
	if err != nil {
		return nil, fmt.Errorf("source: create blob client: %w", err)
	}
	return newAzureBlobSource(ctx, client)
}

// NewAzureBlobSourceSharedKey opens a blob using an account shared-key
// credential.
func NewAzureBlobSourceSharedKey(ctx context.Context, blobURL string, cred *blob.SharedKeyCredential, options *azcore.ClientOptions) (*AzureBlobSource, error) {
	client, err := blockblob.NewClientWithSharedKeyCredential(blobURL, cred, &blockblob.ClientOptions{ClientOptions: derefClientOptions(options)})
	if err != nil {
		return nil, fmt.Errorf("source: create blob client: %w", err)
	}
	return newAzureBlobSource(ctx, client)
}

func derefClientOptions(options *azcore.ClientOptions) azcore.ClientOptions {
	if options == nil {
		return azcore.ClientOptions{}
	}
	return *options
}

func newAzureBlobSource(ctx context.Context, client *blockblob.Client) (*AzureBlobSource, error) {
	props, err := client.GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("source: get blob properties: %w", err)
	}
	size := int64(0)
	if props.ContentLength != nil {
		size = *props.ContentLength
	}
	return &AzureBlobSource{client: client, size: size}, nil
}

func (s *AzureBlobSource) Read(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= s.size {
		return 0, io.EOF
	}
	if s.body == nil || s.bodyPos != s.pos {
		if err := s.openStreamLocked(ctx); err != nil {
			return 0, err
		}
	}

	n, err := s.body.Read(p)
	if n > 0 {
		s.pos += int64(n)
		s.bodyPos = s.pos
	}
	if err == io.EOF {
		s.closeStreamLocked()
		if s.pos < s.size {
			return n, fmt.Errorf("source: blob stream ended at %d, expected %d", s.pos, s.size)
		}
	} else if err != nil {
		s.closeStreamLocked()
		return n, fmt.Errorf("source: blob stream read: %w", err)
	}
	return n, nil
}

// openStreamLocked starts a ranged DownloadStream at s.pos. Callers hold
// s.mu.
func (s *AzureBlobSource) openStreamLocked(ctx context.Context) error {
	s.closeStreamLocked()
	count := s.size - s.pos
	resp, err := s.client.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: s.pos, Count: count},
	})
	if err != nil {
		return fmt.Errorf("source: download stream at %d: %w", s.pos, err)
	}
	s.body = resp.Body
	s.bodyPos = s.pos
	return nil
}

func (s *AzureBlobSource) closeStreamLocked() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *AzureBlobSource) Seek(_ context.Context, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset > s.size {
		return fmt.Errorf("source: seek offset %d out of range [0,%d]", offset, s.size)
	}
	if offset != s.pos {
		s.closeStreamLocked()
	}
	s.pos = offset
	return nil
}

func (s *AzureBlobSource) Tell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *AzureBlobSource) Size() int64       { return s.size }
func (s *AzureBlobSource) CanSeek() bool     { return true }
func (s *AzureBlobSource) CanFastSeek() bool { return false }

// Close releases any open download stream body.
func (s *AzureBlobSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStreamLocked()
	return nil
}
