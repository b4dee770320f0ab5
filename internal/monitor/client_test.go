package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/kravscan/internal/http"
	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
)

func newTestAPI(t *testing.T) (*Client, *review.Merger) {
	t.Helper()
	dir := t.TempDir()
	svc := jobs.NewService(jobs.NewMemoryStore(), jobs.NewMemoryQueue(8), nil)
	merger := review.NewMerger(filepath.Join(dir, "corpus.csv"), filepath.Join(dir, "negatives.txt"), nil)
	server, err := httpserver.NewServer(svc, zap.NewNop(), nil, httpserver.WithReview(merger, nil))
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/"), merger
}

func TestClient_JobLifecycle(t *testing.T) {
	client, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	job, err := client.Submit(ctx, pipeline.Params{WorkDir: "/data/batch-1", MinScore: pipeline.Score(60)})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatePending, job.State)

	got, err := client.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/batch-1", got.Params.WorkDir)

	revoked, err := client.Revoke(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRevoked, revoked.State)

	_, err = client.Revoke(ctx, job.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestClient_Errors(t *testing.T) {
	client, _ := newTestAPI(t)
	ctx := context.Background()

	_, err := client.Status(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "job not found", apiErr.Message)

	_, err = client.Submit(ctx, pipeline.Params{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = NewClient("http://127.0.0.1:1").Status(ctx, "x")
	assert.ErrorContains(t, err, "request failed")
}

func TestClient_Review(t *testing.T) {
	client, merger := newTestAPI(t)
	ctx := context.Background()

	res, err := client.Review(ctx, []review.Correction{
		{Text: "Rør skal isoleres.", Discipline: "rør", Status: "active"},
	}, false)
	require.NoError(t, err)
	require.NotNil(t, res.Merge)
	assert.Equal(t, 1, res.Merge.Upserted)
	assert.FileExists(t, merger.CorpusPath())

	_, err = client.Review(ctx, []review.Correction{{Text: "x", Status: "active"}}, false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	_, err = client.Review(ctx, nil, true)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
}
