// Package azblob implements offsite.Backend over an Azure Blob Storage
// container.
package azblob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azcontainer "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"tapevault/internal/offsite"
)

// Backend stores catalog objects as blobs in a single Azure container.
type Backend struct {
	container *azcontainer.Client
}

var _ offsite.Backend = (*Backend)(nil)

// New opens containerURL (e.g. "https://account.blob.core.windows.net/container")
// with cred.
func New(containerURL string, cred azcore.TokenCredential) (*Backend, error) {
	client, err := azcontainer.NewClient(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("offsite/azblob: new container client: %w", err)
	}
	return &Backend{container: client}, nil
}

func (b *Backend) Put(ctx context.Context, key string, body []byte) error {
	blockBlob := b.container.NewBlockBlobClient(key)
	_, err := blockBlob.UploadBuffer(ctx, body, nil)
	if err != nil {
		return fmt.Errorf("offsite/azblob: upload %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	blockBlob := b.container.NewBlockBlobClient(key)
	resp, err := blockBlob.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("offsite/azblob: download %s: %w", key, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("offsite/azblob: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// NewBlobServiceClient is a thin wrapper so callers without a per-container
// URL can discover containers from a plain account URL before calling New.
func NewBlobServiceClient(accountURL string, cred azcore.TokenCredential) (*azblob.Client, error) {
	return azblob.NewClient(accountURL, cred, nil)
}
