package diskstat_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/signflow/internal/diskstat"
)

func TestWarningLevel(t *testing.T) {
	s := diskstat.Stats{TotalBytes: 100, FreeBytes: 12}
	assert.Equal(t, diskstat.WarnYellow, s.WarningLevel(15, 10, 5))
	assert.Equal(t, diskstat.WarnNone, s.WarningLevel(10, 5, 2))
	s.FreeBytes = 4
	assert.Equal(t, diskstat.WarnBlock, s.WarningLevel(15, 10, 5))
	assert.Equal(t, "block", diskstat.LevelName(diskstat.WarnBlock))
	assert.Equal(t, 100.0, diskstat.Stats{}.PctFree())
}

func TestCacheCountsArtifacts(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string, n int) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, make([]byte, n), 0644))
	}
	write("originals/d1/nda.pdf", 100)
	write("signed/d1/signed-nda.pdf", 150)
	write("db/signflow.db", 10)

	c := diskstat.New(dir, time.Hour)
	c.Refresh()
	s := c.Get()
	assert.Equal(t, uint64(100), s.OriginalsBytes)
	assert.Equal(t, uint64(150), s.SignedBytes)
	assert.Equal(t, uint64(260), s.AppBytes)
	assert.NotZero(t, s.TotalBytes)
	c.Stop()
	c.Stop()
}
