// Package storage archives purchase receipts in object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/types"
)

const receiptContentType = "application/json"

// PutOptions describe an uploaded object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	Bucket() string
}

// Storage wraps an ObjectStorage backend with receipt-specific operations.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open connects to the backend named in cfg and ensures its bucket exists.
// It returns nil when no backend is configured.
func Open(ctx context.Context, cfg config.ReceiptsConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.BackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown receipts backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewStorage(backend), nil
}

// ReceiptKey returns the object key of a receipt.
func ReceiptKey(userID int, receiptID string) string {
	return fmt.Sprintf("receipts/%d/%s.json", userID, receiptID)
}

// ArchiveReceipt writes the receipt as JSON under ReceiptKey.
func (s *Storage) ArchiveReceipt(ctx context.Context, receipt types.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	key := ReceiptKey(receipt.UserID, receipt.ID)
	opts := PutOptions{
		ContentType: receiptContentType,
		Metadata: map[string]string{
			"user-id": strconv.Itoa(receipt.UserID),
			"total":   strconv.Itoa(receipt.Total),
		},
	}
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}


// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
