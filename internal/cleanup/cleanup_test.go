package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	signflow "github.com/YannKr/signflow"
	"github.com/YannKr/signflow/internal/cleanup"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
)

type sweeper struct{ cutoff time.Time }

func (s *sweeper) RemoveStaleTemps(cutoff time.Time) (int, error) {
	s.cutoff = cutoff
	return 0, nil
}

func TestRunOnce(t *testing.T) {
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, signflow.MigrationFS))

	acct := &model.Account{ID: uuid.New().String(), Email: "o@example.com", Name: "O", PasswordHash: "x"}
	require.NoError(t, db.CreateAccount(database, acct))
	now := time.Now()
	expired := &model.Session{ID: "old", AccountID: acct.ID, ExpiresAt: now.Add(-time.Minute)}
	live := &model.Session{ID: "live", AccountID: acct.ID, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, db.CreateSession(database, expired))
	require.NoError(t, db.CreateSession(database, live))

	s := &sweeper{}
	c := &cleanup.Cleaner{DB: database, Files: s}
	c.RunOnce(context.Background(), now)

	got, err := db.GetSession(database, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = db.GetSession(database, "live")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, now.Add(-time.Hour), s.cutoff)
}
