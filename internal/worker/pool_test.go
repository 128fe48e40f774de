package worker_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	signflow "github.com/YannKr/signflow"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
	"github.com/YannKr/signflow/internal/worker"
)

type stubRecomputer struct {
	calls int
	res   signing.Completion
	err   error
}

func (s *stubRecomputer) RecomputeDocumentStatus(context.Context, string) (signing.Completion, error) {
	s.calls++
	return s.res, s.err
}

func setup(t *testing.T) (*sql.DB, string) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, signflow.MigrationFS))

	ctx := context.Background()
	acct := &model.Account{ID: uuid.New().String(), Email: "o@example.com", Name: "O", PasswordHash: "x"}
	require.NoError(t, db.CreateAccount(database, acct))
	doc := &model.Document{ID: uuid.New().String(), OwnerID: acct.ID, Title: "T", FileName: "t.pdf",
		FilePath: "/tmp/t.pdf", MimeType: "application/pdf", TotalPages: 1, Status: model.DocumentPending}
	require.NoError(t, db.CreateDocument(ctx, database, doc))

	job := &model.Job{ID: uuid.New().String(), JobType: model.JobComposite, DocumentID: doc.ID,
		RunAfter: time.Now().Add(-time.Second)}
	_, err = db.EnqueueJobIfNotExists(ctx, database, job)
	require.NoError(t, err)
	return database, job.ID
}

func dueNow(t *testing.T, database *sql.DB, id string) {
	t.Helper()
	_, err := database.Exec(`UPDATE jobs SET run_after = '2000-01-01T00:00:00.000Z' WHERE id = ?`, id)
	require.NoError(t, err)
}

func TestSuccessfulRecomputeCompletesJob(t *testing.T) {
	database, id := setup(t)
	svc := &stubRecomputer{res: signing.Completion{Status: model.DocumentCompleted, Composited: true}}
	p := worker.NewPool(database, svc, worker.Options{})
	ctx := context.Background()

	ran, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	job, err := db.GetJob(ctx, database, id)
	require.NoError(t, err)
	assert.Equal(t, db.JobCompleted, job.State)
	assert.Equal(t, 1, job.Attempts)

	ran, err = p.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, svc.calls)
}

func TestPipelineFailureRetriesThenFails(t *testing.T) {
	database, id := setup(t)
	svc := &stubRecomputer{res: signing.Completion{
		Status: model.DocumentPending,
		Err:    &signing.Error{Code: signing.CodePipelineFailure, Message: "stamp failed"},
	}}
	p := worker.NewPool(database, svc, worker.Options{MaxAttempts: 2, BaseDelay: time.Hour})
	ctx := context.Background()

	_, err := p.RunOnce(ctx)
	require.NoError(t, err)
	job, err := db.GetJob(ctx, database, id)
	require.NoError(t, err)
	assert.Equal(t, db.JobPending, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "stamp failed", job.ErrorMessage)
	assert.WithinDuration(t, time.Now().Add(time.Hour), job.RunAfter, time.Minute)

	ran, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "backoff not elapsed")

	dueNow(t, database, id)
	_, err = p.RunOnce(ctx)
	require.NoError(t, err)
	job, err = db.GetJob(ctx, database, id)
	require.NoError(t, err)
	assert.Equal(t, db.JobFailed, job.State)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, 2, svc.calls)
}

func TestStorageErrorIsRetried(t *testing.T) {
	database, id := setup(t)
	svc := &stubRecomputer{err: errors.New("database is locked")}
	p := worker.NewPool(database, svc, worker.Options{})

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	job, err := db.GetJob(context.Background(), database, id)
	require.NoError(t, err)
	assert.Equal(t, db.JobPending, job.State)
	assert.Contains(t, job.ErrorMessage, "database is locked")
}

func TestMissingDocumentDropsJob(t *testing.T) {
	database, id := setup(t)
	svc := &stubRecomputer{err: signing.NotFound("Document not found.")}
	p := worker.NewPool(database, svc, worker.Options{})

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	job, err := db.GetJob(context.Background(), database, id)
	require.NoError(t, err)
	assert.Equal(t, db.JobCompleted, job.State)
}

func TestStartStop(t *testing.T) {
	database, id := setup(t)
	svc := &stubRecomputer{res: signing.Completion{Status: model.DocumentCompleted}}
	p := worker.NewPool(database, svc, worker.Options{Workers: 2, PollInterval: 10 * time.Millisecond})

	p.Start(context.Background())
	require.Eventually(t, func() bool {
		job, err := db.GetJob(context.Background(), database, id)
		return err == nil && job.State == db.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()
}
