package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runveil/codeq/pkg/client"
	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
	storefs "github.com/runveil/codeq/pkg/store/fs"
)

const ownerIdentity = "owner@datasite.org"

func newMemServer(t *testing.T) (*Server, *storefs.Store) {
	t.Helper()
	st := storefs.NewWithFs(afero.NewMemMapFs(), "/data/code-queue")
	srv, err := New(Config{
		Store:    st,
		Identity: ownerIdentity,
		DataRoot: "/data/code-queue",
	})
	require.NoError(t, err)
	return srv, st
}

func putPending(t *testing.T, st store.Store, target string) *queue.Job {
	t.Helper()
	j := queue.NewJob("alice@lab.org", target, "/tmp/code", "analysis")
	require.NoError(t, st.Put(context.Background(), j))
	return j
}

func TestNew_Validation(t *testing.T) {
	st := storefs.NewWithFs(afero.NewMemMapFs(), "/data/code-queue")

	_, err := New(Config{Identity: ownerIdentity, DataRoot: "/data"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")

	_, err = New(Config{Store: st, DataRoot: "/data"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity is required")

	_, err = New(Config{Store: st, Identity: ownerIdentity, DataRoot: "/data",
		Queue: queue.Config{JobTimeout: -time.Second}})
	require.Error(t, err)

	// The default runner inherits the command patterns; a bad one fails
	// construction.
	_, err = New(Config{Store: st, Identity: ownerIdentity, DataRoot: "/data",
		Queue: queue.Config{CommandDenylist: []string{"["}}})
	require.Error(t, err)
}

func TestServer_Approve(t *testing.T) {
	srv, st := newMemServer(t)
	job := putPending(t, st, ownerIdentity)

	updated, err := srv.Approve(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusApproved, updated.Status)
	require.NotNil(t, updated.DecidedAt)
	assert.Empty(t, updated.RejectionReason)

	// Deciding twice is a stale call, not a race.
	_, err = srv.Approve(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, store.IsInvalidState(err))
}

func TestServer_Reject(t *testing.T) {
	srv, st := newMemServer(t)
	job := putPending(t, st, ownerIdentity)

	updated, err := srv.Reject(context.Background(), job.ID, "touches raw rows")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRejected, updated.Status)
	assert.Equal(t, "touches raw rows", updated.RejectionReason)
	require.NotNil(t, updated.DecidedAt)

	_, err = srv.Approve(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, store.IsInvalidState(err))
}

func TestServer_DecisionRequiresMatchingIdentity(t *testing.T) {
	srv, st := newMemServer(t)
	foreign := putPending(t, st, "other@datasite.org")

	_, err := srv.Approve(context.Background(), foreign.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongTarget))

	_, err = srv.Reject(context.Background(), foreign.ID, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongTarget))

	// The foreign job is untouched.
	got, err := st.Get(context.Background(), foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, got.Status)
}

func TestServer_DecisionUnknownJob(t *testing.T) {
	srv, _ := newMemServer(t)

	_, err := srv.Approve(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestServer_ListPending(t *testing.T) {
	srv, st := newMemServer(t)
	a := putPending(t, st, ownerIdentity)
	b := putPending(t, st, ownerIdentity)
	putPending(t, st, "other@datasite.org")

	pending, err := srv.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := map[string]bool{pending[0].ID: true, pending[1].ID: true}
	assert.True(t, ids[a.ID] && ids[b.ID])
}

func TestServer_Accessors(t *testing.T) {
	srv, st := newMemServer(t)
	job := putPending(t, st, ownerIdentity)

	assert.Equal(t, ownerIdentity, srv.Identity())
	assert.Equal(t, 0, srv.InFlight())

	got, err := srv.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	all, err := srv.List(context.Background(), store.Filter{Status: queue.StatusPending})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// TestServer_EndToEnd drives the whole mailbox on a real directory: a client
// stages and submits a code folder, the owner approves it, the scheduler
// executes it with the default runner, and the client reads logs and output.
func TestServer_EndToEnd(t *testing.T) {
	dataRoot := t.TempDir()
	st := storefs.New(dataRoot)
	ctx := context.Background()

	cli, err := client.New(client.Config{
		Store:    st,
		DataRoot: dataRoot,
		Identity: "alice@lab.org",
	})
	require.NoError(t, err)

	srcDir := t.TempDir()
	script := `echo "hello from $CODEQ_JOB_NAME"
echo 42 > "$CODEQ_OUTPUT_DIR/answer.txt"
`
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "run.sh"), []byte(script), 0o755))

	job, err := cli.Submit(ctx, client.SubmitRequest{
		TargetIdentity: ownerIdentity,
		CodeLocation:   srcDir,
		Name:           "hello",
		Tags:           []string{"demo"},
	})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, queue.CodeDir(dataRoot, job.ID), job.CodeLocation)

	srv, err := New(Config{
		Store:    st,
		Identity: ownerIdentity,
		DataRoot: dataRoot,
		Queue:    queue.Config{PollInterval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	_, err = srv.Approve(ctx, job.ID)
	require.NoError(t, err)

	var done *queue.Job
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.Get(ctx, job.ID)
		require.NoError(t, err)
		if got.Status == queue.StatusCompleted {
			done = got
			break
		}
		require.NotEqual(t, queue.StatusFailed, got.Status, "job failed: %s", got.ErrorDetail)
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, done, "job never completed")

	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)
	assert.True(t, done.Duration() >= 0)

	logs, err := cli.Logs(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, logs, "hello from hello")

	outDir, err := cli.Output(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.OutputDir(dataRoot, job.ID), outDir)

	answer, err := os.ReadFile(filepath.Join(outDir, "answer.txt"))
	require.NoError(t, err)
	assert.Equal(t, "42", strings.TrimSpace(string(answer)))
}
