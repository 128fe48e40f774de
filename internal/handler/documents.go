package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/YannKr/signflow/internal/auth"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/diskstat"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
	"github.com/YannKr/signflow/internal/sse"
	"github.com/YannKr/signflow/internal/stamp"
	"github.com/YannKr/signflow/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type documentJSON struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	FileName     string     `json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	MimeType     string     `json:"mimeType"`
	TotalPages   int        `json:"totalPages"`
	Status       string     `json:"status"`
	HasSignedPDF bool       `json:"hasSignedPdf"`
	FieldsTotal  *int       `json:"fieldsTotal,omitempty"`
	FieldsSigned *int       `json:"fieldsSigned,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func documentToJSON(d *model.Document) documentJSON {
	return documentJSON{
		ID:           d.ID,
		Title:        d.Title,
		FileName:     d.FileName,
		FileSize:     d.FileSize,
		MimeType:     d.MimeType,
		TotalPages:   d.TotalPages,
		Status:       d.Status,
		HasSignedPDF: d.SignedFilePath != nil,
		CompletedAt:  d.CompletedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func summaryToJSON(s model.DocumentSummary) documentJSON {
	j := documentToJSON(&s.Document)
	total, signed := s.FieldsTotal, s.FieldsSigned
	j.FieldsTotal, j.FieldsSigned = &total, &signed
	return j
}

func (h *Handler) uploadBlocked() bool {
	if h.Disk == nil {
		return false
	}
	s := h.Disk.Get()
	if s.CapturedAt.IsZero() {
		return false
	}
	return s.WarningLevel(h.Cfg.DiskWarnYellowPct, h.Cfg.DiskWarnRedPct, h.Cfg.DiskWarnBlockPct) == diskstat.WarnBlock
}

func (h *Handler) DocumentUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploadBlocked() {
		renderJSONError(w, http.StatusInsufficientStorage, "STORAGE_FULL", "The server is out of disk space; uploads are paused.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderJSONError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "File exceeds the upload limit.")
			return
		}
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Expected a multipart form.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", "A PDF file is required.")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	if http.DetectContentType(head) != "application/pdf" {
		renderJSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Only PDF files are accepted.")
		return
	}

	docID := uuid.New().String()
	name := storage.SafeName(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	path, size, err := h.Files.SaveOriginal(docID, name, io.MultiReader(bytes.NewReader(head), file), h.Cfg.MaxUploadBytes)
	if errors.Is(err, storage.ErrTooLarge) {
		renderJSONError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "File exceeds the upload limit.")
		return
	}
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	discard := func() {
		if err := h.Files.RemoveDocument(docID); err != nil {
			slog.Warn("remove rejected upload", "document", docID, "error", err)
		}
	}

	src, err := h.Files.ReadOriginal(path)
	if err != nil {
		discard()
		renderServiceError(w, r, err)
		return
	}
	pages, err := stamp.PageCount(src)
	if err != nil {
		discard()
		msg := "The file is not a readable PDF."
		if errors.Is(err, stamp.ErrEncrypted) {
			msg = "Encrypted PDFs are not supported."
		}
		renderJSONError(w, http.StatusBadRequest, "VALIDATION", msg)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	doc := &model.Document{
		ID:         docID,
		OwnerID:    auth.AccountFromContext(r.Context()),
		Title:      title,
		FileName:   name,
		FilePath:   path,
		FileSize:   size,
		MimeType:   "application/pdf",
		TotalPages: pages,
		Status:     model.DocumentDraft,
	}
	if err := db.CreateDocument(r.Context(), h.DB, doc); err != nil {
		discard()
		renderServiceError(w, r, err)
		return
	}
	stored, err := db.GetDocument(r.Context(), h.DB, docID)
	if err == nil && stored != nil {
		doc = stored
	}

	h.recordAudit(r, doc, model.AuditDocumentUploaded, map[string]any{
		"fileName": doc.FileName,
		"fileSize": doc.FileSize,
		"pages":    doc.TotalPages,
	})
	slog.Info("document uploaded", "document", doc.ID, "pages", pages, "bytes", size)
	renderJSON(w, http.StatusCreated, map[string]any{"document": documentToJSON(doc)})
}

func (h *Handler) DocumentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	docs, total, err := db.ListDocuments(r.Context(), h.DB, db.DocumentFilter{
		OwnerID: auth.AccountFromContext(r.Context()),
		Status:  q.Get("status"),
		Search:  strings.TrimSpace(q.Get("search")),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	out := make([]documentJSON, len(docs))
	for i, d := range docs {
		out[i] = summaryToJSON(d)
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"documents": out,
		"pagination": map[string]int{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": (total + limit - 1) / limit,
		},
	})
}

func (h *Handler) DocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	fields, err := db.ListFieldsByDocument(r.Context(), h.DB, doc.ID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	out := make([]fieldJSON, len(fields))
	for i := range fields {
		out[i] = h.fieldToJSON(&fields[i])
	}
	renderJSON(w, http.StatusOK, map[string]any{"document": documentToJSON(doc), "fields": out})
}

func (h *Handler) DocumentFile(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	serveFile(w, r, doc.FilePath, doc.FileName, "inline")
}

// DocumentDownload serves the signed artifact when there is one and the
// original otherwise.
func (h *Handler) DocumentDownload(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	path, name, signed := doc.FilePath, doc.FileName, false
	if doc.SignedFilePath != nil {
		if _, err := os.Stat(*doc.SignedFilePath); err == nil {
			path, name, signed = *doc.SignedFilePath, storage.SignedName(doc.FileName), true
		} else {
			slog.Warn("signed artifact missing, serving original", "document", doc.ID, "error", err)
		}
	}
	h.recordAudit(r, doc, model.AuditDocumentDownloaded, map[string]any{"signed": signed})
	serveFile(w, r, path, name, "attachment")
}

func serveFile(w http.ResponseWriter, r *http.Request, path, name, disposition string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("open artifact", "path", path, "error", err)
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "File not found.")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		renderServiceError(w, r, fmt.Errorf("stat artifact: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handler) DocumentDelete(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := db.DeleteDocument(r.Context(), h.DB, doc.ID); err != nil {
		renderServiceError(w, r, err)
		return
	}
	if err := h.Files.RemoveDocument(doc.ID); err != nil {
		slog.Error("remove document files", "document", doc.ID, "error", err)
	}
	h.recordAudit(r, doc, model.AuditDocumentDeleted, map[string]any{"title": doc.Title})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DocumentRegenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		renderJSONError(w, http.StatusNotFound, string(signing.CodeNotFound), "Document not found.")
		return
	}
	c, err := h.Svc.Regenerate(r.Context(), id, auth.AccountFromContext(r.Context()), actor(r))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	if c.Err != nil {
		renderServiceError(w, r, c.Err)
		return
	}
	doc, err := db.GetDocument(r.Context(), h.DB, id)
	if err != nil || doc == nil {
		renderServiceError(w, r, fmt.Errorf("reload document %s: %w", id, err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"document":   documentToJSON(doc),
		"composited": c.Composited,
	})
}

// DocumentEvents streams the document's live events to its owner.
func (h *Handler) DocumentEvents(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming not supported.")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.SSE.Subscribe(sse.DocumentTopic(doc.ID))
	defer unsub()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if _, err := evt.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
