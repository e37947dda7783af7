package transfer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/store"
)

type fakeMediaStore struct {
	inserted []store.Media
}

func (f *fakeMediaStore) InsertMedia(_ context.Context, m store.Media) error {
	f.inserted = append(f.inserted, m)
	return nil
}

func TestHandleWritesPayloadAndMetadata(t *testing.T) {
	dir := t.TempDir()
	persister := &fakeMediaStore{}
	tr := New(dir, persister, nil, metrics.NoopCollector{}, zap.NewNop())

	payload := "hello world payload"
	body, _ := json.Marshal(protocol.FileRequest{
		File: protocol.MediaFileMeta{
			UUID:      "file-1",
			LenBytes:  int64(len(payload)),
			Name:      "notes.txt",
			MediaType: protocol.MediaFile,
			Sender:    "alice",
			CreatedAt: 123,
		},
	})

	if err := tr.Handle(context.Background(), body, strings.NewReader(payload), "conn-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "file-1.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("unexpected file content: %q", data)
	}

	if len(persister.inserted) != 1 || persister.inserted[0].UUID != "file-1" {
		t.Fatalf("unexpected persisted rows: %+v", persister.inserted)
	}
}

func TestHandleShortReadAbandonsTransfer(t *testing.T) {
	dir := t.TempDir()
	persister := &fakeMediaStore{}
	tr := New(dir, persister, nil, metrics.NoopCollector{}, zap.NewNop())

	body, _ := json.Marshal(protocol.FileRequest{
		File: protocol.MediaFileMeta{
			UUID:     "file-2",
			LenBytes: 100, // advertises more than is actually sent.
			Name:     "short.bin",
		},
	})

	if err := tr.Handle(context.Background(), body, strings.NewReader("too short"), "conn-1"); err == nil {
		t.Fatal("expected error on short read")
	}

	if _, err := os.Stat(filepath.Join(dir, "file-2.bin")); !os.IsNotExist(err) {
		t.Fatal("expected no file to be left behind on short read")
	}
	if len(persister.inserted) != 0 {
		t.Fatal("expected no metadata row on abandoned transfer")
	}
}

func TestHandleNoExtension(t *testing.T) {
	dir := t.TempDir()
	persister := &fakeMediaStore{}
	tr := New(dir, persister, nil, metrics.NoopCollector{}, zap.NewNop())

	payload := "x"
	body, _ := json.Marshal(protocol.FileRequest{
		File: protocol.MediaFileMeta{UUID: "file-3", LenBytes: 1, Name: "noext"},
	})

	if err := tr.Handle(context.Background(), body, strings.NewReader(payload), "conn-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "file-3")); err != nil {
		t.Fatalf("expected file without extension suffix: %v", err)
	}
}
