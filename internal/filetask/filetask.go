// Package filetask defines the cancellable, pausable, progress-reporting
// copy/download abstraction (spec.md §4.3, C3) that feeds both the
// installer's payload-extraction pipeline and the metadata/downloader
// pipeline (C4/C5). The interface matches the teacher's narrow-Downloader
// pattern (internal/installer/download.Downloader in the teacher repo)
// generalized from "http download" to "any cancellable unit of I/O".
package filetask

import (
	"context"
	"io"
	"os"

	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/checksum"
	"github.com/installforge/core/internal/progress"
)

// blockSize is the suggested cancellation-check granularity from spec.md
// §4.3(b).
const blockSize = 32 * 1024

// Item is the abstract work unit a FileTask consumes: a source (URL or
// path), an optional target path, an optional expected checksum, optional
// auth, and an open-ended extras bag the downloader uses to stash
// per-task metadata (e.g. which repository a download belongs to)
// transparently.
type Item struct {
	Source string
	Target string // empty => a fresh tempfile is allocated
	Checksum []byte
	Auth     *Credential
	Extras   map[string]any
}

// Credential is a username/password pair attached to an Item for server or
// proxy authentication (spec.md §4.4).
type Credential struct {
	Username string
	Password string
}

// Result is what a successful FileTask run produces.
type Result struct {
	TargetPath string
	Checksum   []byte
	Item       Item
}

// Task is the abstract cancellable unit of I/O described by spec.md §4.3.
// Implementations must: report Start() before any I/O, check
// handle.IsCanceled() at every block boundary, honor Pause via
// handle.WaitOnResume, report bytes-transferred progress, and on error
// still call handle.Finish() before returning.
type Task interface {
	Run(ctx context.Context, handle *progress.TaskHandle) (Result, error)
}

// Error wraps a FileTask failure with the originating item for context,
// matching spec.md §4.3(e)'s FileTaskError{message} contract.
type Error struct {
	Item    Item
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// CopyTask copies Source (a local path) to Target (or a fresh tempfile),
// accumulating a running SHA-1 checksum and reporting throughput as it
// goes, per spec.md §4.3's CopyFileTask.
type CopyTask struct {
	Item Item
}

// NewCopyTask builds a CopyTask for the given item.
func NewCopyTask(item Item) *CopyTask {
	return &CopyTask{Item: item}
}

// Run implements Task.
func (c *CopyTask) Run(ctx context.Context, handle *progress.TaskHandle) (Result, error) {
	handle.Start()
	defer handle.Finish()

	src, err := os.Open(c.Item.Source)
	if err != nil {
		return Result{}, &Error{Item: c.Item, Message: "open source", Cause: err}
	}
	defer src.Close()

	target := c.Item.Target
	var dst *os.File
	if target == "" {
		tmp, err := os.CreateTemp("", "installforge-copy-*")
		if err != nil {
			return Result{}, &Error{Item: c.Item, Message: "create tempfile", Cause: err}
		}
		dst = tmp
		target = tmp.Name()
	} else {
		dst, err = os.Create(target)
		if err != nil {
			return Result{}, &Error{Item: c.Item, Message: "create target", Cause: err}
		}
	}

	run := checksum.NewRunning()
	written, err := copyWithCancellation(ctx, handle, dst, io.TeeReader(src, run))
	if err != nil {
		closeErr := dst.Close()
		if closeErr != nil {
			return Result{}, &Error{Item: c.Item, Message: "close target after write error", Cause: closeErr}
		}
		if insterrors.IsCanceled(err) {
			// Cancellation mid-stream: partial target is kept for
			// post-mortem and NOT returned in the result, per spec.md §4.3.
			return Result{}, err
		}
		return Result{}, &Error{Item: c.Item, Message: "copy", Cause: err}
	}

	if err := dst.Close(); err != nil {
		return Result{}, &Error{Item: c.Item, Message: "close target", Cause: err}
	}

	handle.ReportProgress(100, target)
	_ = written
	return Result{TargetPath: target, Checksum: run.Sum(), Item: c.Item}, nil
}

// copyWithCancellation copies in blockSize chunks, checking cancellation and
// honoring pause at every boundary, per spec.md §4.3(b)/(c).
func copyWithCancellation(ctx context.Context, handle *progress.TaskHandle, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, blockSize)
	var total int64
	for {
		if handle.IsCanceled() {
			return total, insterrors.New(insterrors.CategoryCanceled, insterrors.CodeCanceled, "copy canceled")
		}
		handle.WaitOnResume()
		if handle.IsCanceled() {
			return total, insterrors.New(insterrors.CategoryCanceled, insterrors.CodeCanceled, "copy canceled")
		}
		select {
		case <-ctx.Done():
			return total, insterrors.Wrap(insterrors.CategoryCanceled, insterrors.CodeCanceled, "copy canceled by context", ctx.Err())
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			handle.ReportProgress(0, "")
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
