package attach

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Uploader is the slice of the item-store client the queue needs.
type Uploader interface {
	UploadFile(ctx context.Context, token, itemID, columnID string, file io.Reader, fileName string) (string, error)
}

// Job attaches one temp file to an already-created item.
type Job struct {
	Token    string
	ItemID   string
	ColumnID string
	FilePath string
	FileName string
}

// Queue runs file attachments in the background, after the submission
// response has already been written. Item creation succeeded by the time a
// job is enqueued, so a failed attach is logged and the ticket stays
// successful; the temp file is deleted only after a successful attach.
type Queue struct {
	logger   *log.Logger
	uploader Uploader
	wg       sync.WaitGroup
}

func New(logger *log.Logger, uploader Uploader) *Queue {
	return &Queue{logger: logger, uploader: uploader}
}

func (q *Queue) Enqueue(job Job) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(context.Background(), job)
	}()
}

func (q *Queue) run(ctx context.Context, job Job) {
	f, err := os.Open(job.FilePath)
	if err != nil {
		q.logger.Printf("attach skipped item=%s: open temp file: %v", job.ItemID, err)
		return
	}

	fileID, err := q.uploader.UploadFile(ctx, job.Token, job.ItemID, job.ColumnID, f, job.FileName)
	_ = f.Close()
	if err != nil {
		// The item exists; losing the video leg is an accepted degradation.
		q.logger.Printf("attach failed item=%s column=%s file=%s: %v", job.ItemID, job.ColumnID, job.FileName, err)
		return
	}

	q.logger.Printf("attach done item=%s column=%s file_id=%s", job.ItemID, job.ColumnID, fileID)
	if err := os.Remove(job.FilePath); err != nil {
		q.logger.Printf("temp file cleanup failed path=%s: %v", job.FilePath, err)
	}
}

// Drain waits for in-flight jobs up to the timeout and reports whether all
// of them finished. Jobs still running after the timeout are abandoned.
func (q *Queue) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		q.logger.Printf("attach queue drain timed out after %s", timeout)
		return false
	}
}
