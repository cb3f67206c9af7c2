// Package download implements C4: parallel HTTP(S)/file fetch across a
// list of filetask.Items, with redirect-loop detection, server/proxy
// authentication, checksum verification, and the tolerant-missing-
// Updates.xml rule, per spec.md §4.4. Concurrency is driven by
// golang.org/x/sync/errgroup bounded by a semaphore, the same primitive
// the teacher's engine.go uses for parallel node execution, standing in
// for the source's single-threaded cooperative event loop.
package download

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/installforge/core/internal/checksum"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/filetask"
	"github.com/installforge/core/internal/progress"
)

// maxRedirects bounds redirect-following independent of loop detection, as
// a sane backstop against pathological chains.
const maxRedirects = 20

// Client is the narrow HTTP surface Downloader needs, satisfied by
// *http.Client; tests substitute a fake to script redirects/auth/errors
// without a real network.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader fetches a list of filetask.Items in parallel, bounded by
// parallelism, and reports aggregate progress through a
// progress.Coordinator.
type Downloader struct {
	client      Client
	parallelism int64
}

// New returns a Downloader using http.DefaultClient with the given bound
// on concurrent in-flight transfers.
func New(parallelism int64) *Downloader {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Downloader{client: http.DefaultClient, parallelism: parallelism}
}

// NewWithClient is for tests: supply a fake Client to script redirects,
// auth challenges, and transient errors deterministically.
func NewWithClient(client Client, parallelism int64) *Downloader {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Downloader{client: client, parallelism: parallelism}
}

// Client returns the HTTP client this Downloader fetches through, so a
// caller needing a one-off GET outside FetchAll's batched item model (e.g.
// a signature sidecar probe) goes through the same fake in tests.
func (d *Downloader) Client() Client { return d.client }

// Outcome pairs a completed item with its result or error, since a single
// tolerably-missing item (spec.md §4.4) must not fail the whole batch.
type Outcome struct {
	Item   filetask.Item
	Result filetask.Result
	Err    error
}

// FetchAll downloads every item, running up to d.parallelism transfers
// concurrently, and returns one Outcome per item in input order.
// A network error on an item whose URL ends in "Updates.xml" is tolerated
// (logged, not fatal to the batch); every other error aborts the whole
// group.
func (d *Downloader) FetchAll(ctx context.Context, items []filetask.Item, coord *progress.Coordinator) ([]Outcome, error) {
	outcomes := make([]Outcome, len(items))
	sem := semaphore.NewWeighted(d.parallelism)
	g, gctx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(ctx, 1); err != nil {
			return outcomes, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			handle := progress.NewTaskHandle()
			if coord != nil {
				coord.Track(handle)
			}
			task := NewTask(d.client, item)
			result, err := task.Run(gctx, handle)
			outcomes[i] = Outcome{Item: item, Result: result, Err: err}
			if err != nil && !tolerable(item, err) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	return outcomes, err
}

// tolerable implements spec.md §4.4's "A 404-like error whose URL ends in
// Updates.xml is logged but does NOT abort the aggregate job" rule. The
// match is by substring rather than suffix since MetadataJob's cache-busting
// query parameter (Updates.xml?<random>) follows the filename itself.
func tolerable(item filetask.Item, err error) bool {
	if !strings.Contains(item.Source, "Updates.xml") {
		return false
	}
	e, ok := asNetworkError(err)
	if !ok {
		return false
	}
	return e.Code == insterrors.CodeTolerableMissing
}

func asNetworkError(err error) (*insterrors.Error, bool) {
	var e *insterrors.Error
	for err != nil {
		if ie, ok := err.(*insterrors.Error); ok {
			e = ie
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e, e != nil
}

// Task drives a single item's download through redirect-following,
// auth-retry, and checksum verification, implementing filetask.Task.
type Task struct {
	client Client
	item   filetask.Item
}

// NewTask builds a download Task for item, issued against client.
func NewTask(client Client, item filetask.Item) *Task {
	return &Task{client: client, item: item}
}

// Run implements filetask.Task.
func (t *Task) Run(ctx context.Context, handle *progress.TaskHandle) (filetask.Result, error) {
	handle.Start()
	defer handle.Finish()

	item := t.item
	visitedOrder := []string{item.Source}
	visited := map[string]bool{item.Source: true}
	var credential *filetask.Credential

	for redirects := 0; ; redirects++ {
		if redirects > maxRedirects {
			return filetask.Result{}, redirectLoopError([]string{item.Source})
		}

		result, redirectTo, retry, authErr, err := t.attempt(ctx, handle, &item, &credential)
		if err != nil {
			return filetask.Result{}, err
		}
		if authErr != nil {
			return filetask.Result{}, authErr
		}
		if retry {
			// Credential applied after a 401; item.Auth was cleared in
			// attempt so a second 401 on the same URL now falls through
			// to the terminal AuthServer error instead of looping.
			continue
		}
		if redirectTo == "" {
			return result, nil
		}

		if visited[redirectTo] {
			return filetask.Result{}, redirectLoopError(append(append([]string{}, visitedOrder...), redirectTo))
		}
		visited[redirectTo] = true
		visitedOrder = append(visitedOrder, redirectTo)
		item.Source = redirectTo
	}
}

// attempt issues one GET, handling a single redirect hop and a single
// 401/407 challenge. It returns (result, redirectURL, retry, authError,
// fatalErr). item is mutated in place (credential clearing on 401).
func (t *Task) attempt(ctx context.Context, handle *progress.TaskHandle, item *filetask.Item, credential **filetask.Credential) (filetask.Result, string, bool, error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.Source, nil)
	if err != nil {
		return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "build request", err).WithDetail("url", item.Source)
	}
	if *credential != nil {
		req.SetBasicAuth((*credential).Username, (*credential).Password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if tolerableNetworkError(*item, err) {
			return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryNetwork, insterrors.CodeTolerableMissing, "fetch failed, tolerated", err).WithDetail("url", item.Source)
		}
		return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "do request", err).WithDetail("url", item.Source)
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" && isRedirectStatus(resp.StatusCode) {
		next, err := resolveRedirect(item.Source, loc)
		if err != nil {
			return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "resolve redirect target", err)
		}
		return filetask.Result{}, next, false, nil, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if item.Auth != nil {
			// Apply the credential to the retry and clear it from the
			// item so a second 401 fails instead of looping.
			*credential = item.Auth
			item.Auth = nil
			return filetask.Result{}, "", true, nil, nil
		}
		return filetask.Result{}, "", false, insterrors.New(insterrors.CategoryNetwork, insterrors.CodeAuthServer, "server requires authentication").
			WithDetail("url", item.Source), nil
	}
	if resp.StatusCode == http.StatusProxyAuthRequired {
		return filetask.Result{}, "", false, insterrors.New(insterrors.CategoryNetwork, insterrors.CodeAuthProxy, "proxy requires authentication").
			WithDetail("url", item.Source), nil
	}

	if resp.StatusCode == http.StatusNotFound {
		if tolerableURL(item.Source) {
			return filetask.Result{}, "", false, nil, insterrors.New(insterrors.CategoryNetwork, insterrors.CodeTolerableMissing, "404 on tolerated resource").WithDetail("url", item.Source)
		}
		return filetask.Result{}, "", false, nil, insterrors.New(insterrors.CategoryNetwork, "", "404 not found").WithDetail("url", item.Source)
	}
	if resp.StatusCode != http.StatusOK {
		return filetask.Result{}, "", false, nil, insterrors.New(insterrors.CategoryNetwork, "", "unexpected status").WithDetail("url", item.Source).WithDetail("status", resp.StatusCode)
	}

	target := item.Target
	var out *os.File
	if target == "" {
		tmp, err := os.CreateTemp("", "installforge-download-*")
		if err != nil {
			return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryIO, "", "create tempfile", err)
		}
		out = tmp
		target = tmp.Name()
	} else {
		out, err = os.Create(target)
		if err != nil {
			return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryIO, "", "create target", err)
		}
	}

	run := checksum.NewRunning()
	if _, err := io.Copy(out, io.TeeReader(resp.Body, run)); err != nil {
		out.Close()
		os.Remove(target)
		return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryIO, "", "write response body", err)
	}
	if err := out.Close(); err != nil {
		return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryIO, "", "close target", err)
	}
	handle.ReportProgress(100, target)

	if item.Checksum != nil {
		if err := checksum.Verify(target, item.Checksum); err != nil {
			os.Remove(target)
			return filetask.Result{}, "", false, nil, insterrors.Wrap(insterrors.CategoryNetwork, insterrors.CodeChecksumMismatch, "checksum mismatch", err).WithDetail("url", item.Source)
		}
	}

	return filetask.Result{TargetPath: target, Checksum: run.Sum(), Item: *item}, "", false, nil, nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveRedirect(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(loc).String(), nil
}

func tolerableURL(u string) bool {
	return strings.Contains(u, "Updates.xml")
}

func tolerableNetworkError(item filetask.Item, _ error) bool {
	return tolerableURL(item.Source)
}

func redirectLoopError(urls []string) error {
	return insterrors.New(insterrors.CategoryNetwork, insterrors.CodeRedirectLoop, "redirect loop detected").WithDetail("urls", urls)
}
