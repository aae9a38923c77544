package attach

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	err error

	mu    sync.Mutex
	calls []Job
	body  string
	ch    chan struct{}
}

func (f *fakeUploader) UploadFile(_ context.Context, token, itemID, columnID string, file io.Reader, fileName string) (string, error) {
	data, _ := io.ReadAll(file)

	f.mu.Lock()
	f.calls = append(f.calls, Job{Token: token, ItemID: itemID, ColumnID: columnID, FileName: fileName})
	f.body = string(data)
	f.mu.Unlock()

	if f.ch != nil {
		defer func() { f.ch <- struct{}{} }()
	}
	if f.err != nil {
		return "", f.err
	}
	return "file_1", nil
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec-1.webm")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestEnqueueUploadsAndDeletesTempFile(t *testing.T) {
	uploader := &fakeUploader{ch: make(chan struct{}, 1)}
	q := New(log.New(io.Discard, "", 0), uploader)
	path := writeTempFile(t, "video-bytes")

	q.Enqueue(Job{Token: "tok", ItemID: "item_1", ColumnID: "file_col", FilePath: path, FileName: "rec-1.webm"})

	select {
	case <-uploader.ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for upload")
	}
	if !q.Drain(time.Second) {
		t.Fatalf("drain timed out")
	}

	if uploader.body != "video-bytes" {
		t.Fatalf("unexpected upload body: %q", uploader.body)
	}
	if len(uploader.calls) != 1 || uploader.calls[0].ItemID != "item_1" {
		t.Fatalf("unexpected calls: %+v", uploader.calls)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file deleted after successful attach, got %v", err)
	}
}

func TestFailedAttachKeepsTempFile(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("upstream down"), ch: make(chan struct{}, 1)}
	q := New(log.New(io.Discard, "", 0), uploader)
	path := writeTempFile(t, "video-bytes")

	q.Enqueue(Job{Token: "tok", ItemID: "item_1", ColumnID: "file_col", FilePath: path, FileName: "rec-1.webm"})

	select {
	case <-uploader.ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for upload attempt")
	}
	if !q.Drain(time.Second) {
		t.Fatalf("drain timed out")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected temp file kept after failed attach, got %v", err)
	}
}

func TestMissingTempFileIsLoggedNotFatal(t *testing.T) {
	uploader := &fakeUploader{}
	q := New(log.New(io.Discard, "", 0), uploader)

	q.Enqueue(Job{Token: "tok", ItemID: "item_1", ColumnID: "file_col", FilePath: "/nonexistent/rec.webm", FileName: "rec.webm"})
	if !q.Drain(time.Second) {
		t.Fatalf("drain timed out")
	}

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if len(uploader.calls) != 0 {
		t.Fatalf("expected no upload attempt for missing file, got %d", len(uploader.calls))
	}
}

func TestDrainTimesOutOnStuckJob(t *testing.T) {
	block := make(chan struct{})
	q := New(log.New(io.Discard, "", 0), blockingUploader{block})
	path := writeTempFile(t, "x")

	q.Enqueue(Job{Token: "tok", ItemID: "item_1", ColumnID: "c", FilePath: path, FileName: "rec-1.webm"})

	if q.Drain(50 * time.Millisecond) {
		t.Fatalf("expected drain to time out")
	}
	close(block)
}

type blockingUploader struct{ block chan struct{} }

func (b blockingUploader) UploadFile(context.Context, string, string, string, io.Reader, string) (string, error) {
	<-b.block
	return "file_1", nil
}
