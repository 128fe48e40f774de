package diskstat

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Warning levels for disk space.
const (
	WarnNone   = 0
	WarnYellow = 1
	WarnRed    = 2
	WarnBlock  = 3
)

var levelNames = [...]string{"ok", "yellow", "red", "block"}

// LevelName returns the label reported by the health endpoint.
func LevelName(level int) string {
	if level < 0 || level >= len(levelNames) {
		return "unknown"
	}
	return levelNames[level]
}

// Stats is a point-in-time snapshot of disk usage.
type Stats struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AppBytes       uint64 // bytes under DATA_DIR
	OriginalsBytes uint64
	SignedBytes    uint64
	CapturedAt     time.Time
}

// PctFree returns the percentage of disk space that is free (0–100).
func (s Stats) PctFree() float64 {
	if s.TotalBytes == 0 {
		return 100
	}
	return float64(s.FreeBytes) / float64(s.TotalBytes) * 100
}

// WarningLevel returns the warning level given threshold percentages.
func (s Stats) WarningLevel(yellowPct, redPct, blockPct float64) int {
	pct := s.PctFree()
	switch {
	case pct <= blockPct:
		return WarnBlock
	case pct <= redPct:
		return WarnRed
	case pct <= yellowPct:
		return WarnYellow
	default:
		return WarnNone
	}
}

// Cache is a goroutine-safe cached disk stats value, refreshed periodically.
type Cache struct {
	mu       sync.RWMutex
	stats    Stats
	dataDir  string
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func New(dataDir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		dataDir: dataDir,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
}

// Start refreshes once and then polls in the background.
func (c *Cache) Start() {
	c.refresh()
	go func() {
		t := time.NewTicker(c.ttl)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.refresh()
			}
		}
	}()
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Get returns the latest cached stats.
func (c *Cache) Get() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Refresh forces an immediate update.
func (c *Cache) Refresh() {
	c.refresh()
}

func (c *Cache) refresh() {
	total, free, err := statFS(c.dataDir)
	if err != nil {
		// Not fatal; leave previous values in place
		return
	}
	app, originals, signed := walkDirSizes(c.dataDir)
	s := Stats{
		TotalBytes:     total,
		FreeBytes:      free,
		AppBytes:       app,
		OriginalsBytes: originals,
		SignedBytes:    signed,
		CapturedAt:     time.Now(),
	}
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

func statFS(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return bsize * stat.Blocks, bsize * stat.Bavail, nil
}

func walkDirSizes(dataDir string) (total, originals, signed uint64) {
	filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		total += size
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return nil
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		switch top {
		case "originals":
			originals += size
		case "signed":
			signed += size
		}
		return nil
	})
	return
}
