package download_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/download"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/filetask"
	"github.com/installforge/core/internal/progress"
)

// scriptedClient replays a canned sequence of responses keyed by request
// URL, letting tests drive redirect loops and auth challenges without a
// real HTTP server.
type scriptedClient struct {
	responses map[string][]*http.Response
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	queue := c.responses[req.URL.String()]
	if len(queue) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	resp := queue[0]
	c.responses[req.URL.String()] = queue[1:]
	return resp, nil
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{},
	}
}

func redirectResponse(location string) *http.Response {
	h := http.Header{}
	h.Set("Location", location)
	return &http.Response{
		StatusCode: http.StatusFound,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     h,
	}
}

func TestTask_FollowsRedirectAndDownloads(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{responses: map[string][]*http.Response{
		"http://a.example/file": {redirectResponse("http://b.example/file")},
		"http://b.example/file": {okResponse("payload")},
	}}

	task := download.NewTask(client, filetask.Item{Source: "http://a.example/file"})
	result, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.NoError(t, err)
	require.NotEmpty(t, result.TargetPath)
	require.Equal(t, "http://b.example/file", result.Item.Source)
}

func TestTask_RedirectLoopDetected(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{responses: map[string][]*http.Response{
		"http://a.example/file": {redirectResponse("http://b.example/file")},
		"http://b.example/file": {redirectResponse("http://a.example/file")},
	}}

	task := download.NewTask(client, filetask.Item{Source: "http://a.example/file"})
	_, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.Error(t, err)

	e, ok := err.(*insterrors.Error)
	require.True(t, ok)
	require.Equal(t, insterrors.CodeRedirectLoop, e.Code)
	require.Equal(t, []string{"http://a.example/file", "http://b.example/file", "http://a.example/file"}, e.Details["urls"])
}

func TestTask_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{responses: map[string][]*http.Response{
		"http://a.example/file": {okResponse("payload")},
	}}

	task := download.NewTask(client, filetask.Item{
		Source:   "http://a.example/file",
		Checksum: []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
	})
	_, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.Error(t, err)

	e, ok := err.(*insterrors.Error)
	require.True(t, ok)
	require.Equal(t, insterrors.CodeChecksumMismatch, e.Code)
}

func TestTask_ServerAuthRetriesOnceThenFails(t *testing.T) {
	t.Parallel()
	authResp := func() *http.Response {
		return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
	}
	client := &scriptedClient{responses: map[string][]*http.Response{
		"http://a.example/file": {authResp(), authResp()},
	}}

	task := download.NewTask(client, filetask.Item{
		Source: "http://a.example/file",
		Auth:   &filetask.Credential{Username: "u", Password: "p"},
	})
	_, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.Error(t, err)
	e, ok := err.(*insterrors.Error)
	require.True(t, ok)
	require.Equal(t, insterrors.CodeAuthServer, e.Code)
}

func TestTask_TolerableMissingUpdatesXML(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{responses: map[string][]*http.Response{
		"http://a.example/Updates.xml": {{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}},
	}}

	task := download.NewTask(client, filetask.Item{Source: "http://a.example/Updates.xml"})
	_, err := task.Run(context.Background(), progress.NewTaskHandle())
	require.Error(t, err)
	e, ok := err.(*insterrors.Error)
	require.True(t, ok)
	require.Equal(t, insterrors.CodeTolerableMissing, e.Code)
}
