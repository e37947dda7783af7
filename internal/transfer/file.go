// Package transfer implements File Transfer Control (C7): switching the
// session's transport to raw bytes, persisting the payload to the media
// root and a metadata row, then handing control back to the framer.
//
// Grounded on internal/blob/store.go's temp-file-then-rename pattern,
// generalized from the teacher's multipart HTTP upload to the spec's
// in-band length-prefixed stream switch (spec.md §4.7, §9).
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/objectstore"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/store"
)

// Persister is the slice of C9 the transfer handler needs.
type Persister interface {
	InsertMedia(ctx context.Context, m store.Media) error
}

// Uploader is the optional object-store hook (spec.md §4.7, §9).
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64)
}

// Transfer is C7.
type Transfer struct {
	mediaRoot string
	store     Persister
	uploader  Uploader
	collector metrics.Collector
	log       *zap.Logger
}

// New constructs a Transfer handler rooted at mediaRoot (spec.md §6's
// STORAGE_MEDIA). uploader may be nil to disable the object-store hook.
func New(mediaRoot string, persister Persister, uploader Uploader, collector metrics.Collector, log *zap.Logger) *Transfer {
	return &Transfer{mediaRoot: mediaRoot, store: persister, uploader: uploader, collector: collector, log: log}
}

// Handle consumes the announced payload from r, implementing
// session.FileHandler. On short read, truncation, or I/O failure the
// transfer is abandoned and the error propagates — the session loop
// terminates the connection, per spec.md §4.7, §7.
func (t *Transfer) Handle(ctx context.Context, body []byte, r io.Reader, connUUID string) error {
	var req protocol.FileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("transfer: decode file request: %w", err)
	}
	meta := req.File

	if err := os.MkdirAll(t.mediaRoot, 0o755); err != nil {
		return fmt.Errorf("transfer: create media root: %w", err)
	}

	diskName := meta.UUID
	if ext := extensionOf(meta.Name); ext != "" {
		diskName = meta.UUID + "." + ext
	}
	finalPath := filepath.Join(t.mediaRoot, diskName)

	tmp, err := os.CreateTemp(t.mediaRoot, ".upload-*")
	if err != nil {
		return fmt.Errorf("transfer: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	copied, copyErr := io.CopyN(tmp, r, meta.LenBytes)
	closeErr := tmp.Close()
	if copyErr != nil || copied != meta.LenBytes {
		_ = os.Remove(tmpPath)
		if copyErr == nil {
			copyErr = fmt.Errorf("short read: copied %d of %d bytes", copied, meta.LenBytes)
		}
		return fmt.Errorf("transfer: read payload: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("transfer: close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("transfer: move payload into place: %w", err)
	}

	row := store.Media{
		UUID:      meta.UUID,
		Name:      meta.Name,
		Path:      finalPath,
		Kind:      meta.MediaType.String(),
		Sender:    meta.Sender,
		CreatedAt: meta.CreatedAt,
	}
	if err := t.store.InsertMedia(ctx, row); err != nil {
		// Persistence faults never block the real-time path (spec.md §7);
		// the payload is already safely on disk.
		t.log.Warn("media metadata persistence failed", zap.String("uuid", meta.UUID), zap.Error(err))
	}

	t.log.Info("file transfer complete", zap.String("uuid", meta.UUID), zap.Int64("bytes", copied))
	t.collector.FileTransferCompleted(copied)

	if t.uploader != nil {
		if bucket := objectstore.BucketFor(row.Kind); bucket != "" {
			go func() {
				f, err := os.Open(finalPath)
				if err != nil {
					t.log.Warn("reopen payload for object store upload failed", zap.String("uuid", meta.UUID), zap.Error(err))
					return
				}
				defer f.Close()
				t.uploader.Upload(context.Background(), bucket, diskName, f, meta.LenBytes)
			}()
		}
	}

	return nil
}

func extensionOf(name string) string {
	name = strings.TrimSpace(name)
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}
