package handler

import (
	"net/http"

	"github.com/YannKr/signflow/internal/diskstat"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.DB.PingContext(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	body := map[string]any{"status": status}
	if h.Disk != nil {
		s := h.Disk.Get()
		level := s.WarningLevel(h.Cfg.DiskWarnYellowPct, h.Cfg.DiskWarnRedPct, h.Cfg.DiskWarnBlockPct)
		body["disk"] = map[string]any{
			"level":          diskstat.LevelName(level),
			"pctFree":        s.PctFree(),
			"freeBytes":      s.FreeBytes,
			"totalBytes":     s.TotalBytes,
			"originalsBytes": s.OriginalsBytes,
			"signedBytes":    s.SignedBytes,
			"capturedAt":     s.CapturedAt,
		}
	}
	renderJSON(w, code, body)
}
