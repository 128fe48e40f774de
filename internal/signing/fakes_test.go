package signing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

// memStore is an in-memory DocumentStore and FieldStore. Every method holds
// the lock for its whole body, so conditional updates are atomic the same
// way the SQL guards are.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]*model.Document
	claims  map[string]time.Time
	fields  []*model.SignatureField
	owners  map[string]string
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{
		docs:   map[string]*model.Document{},
		claims: map[string]time.Time{},
		owners: map[string]string{},
	}
}

func (m *memStore) addDocument(id, owner string) *model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &model.Document{ID: id, OwnerID: owner, Title: "Contract " + id, FileName: id + ".pdf",
		FilePath: "/originals/" + id + ".pdf", Status: model.DocumentDraft, TotalPages: 1}
	m.docs[id] = d
	return d
}

func (m *memStore) doc(id string) model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.docs[id]
}

func (m *memStore) field(id string) model.SignatureField {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.ID == id {
			return *f
		}
	}
	return model.SignatureField{}
}

func (m *memStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("store unavailable")
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) OwnerName(_ context.Context, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[ownerID], nil
}

func (m *memStore) MarkDocumentPending(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if d == nil || (d.Status != model.DocumentDraft && d.Status != model.DocumentPending) {
		return false, nil
	}
	d.Status = model.DocumentPending
	return true, nil
}

func (m *memStore) MarkDocumentRejected(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if d == nil || (d.Status != model.DocumentDraft && d.Status != model.DocumentPending) {
		return false, nil
	}
	d.Status = model.DocumentRejected
	return true, nil
}

func (m *memStore) ClaimCompositing(_ context.Context, id, status string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if d == nil || d.Status != status {
		return false, nil
	}
	if at, held := m.claims[id]; held && !at.Before(staleBefore) {
		return false, nil
	}
	m.claims[id] = now
	return true, nil
}

func (m *memStore) ReleaseCompositing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, id)
	return nil
}

func (m *memStore) CompleteDocument(_ context.Context, id, signedPath string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if d == nil || d.Status != model.DocumentPending {
		return false, nil
	}
	d.Status = model.DocumentCompleted
	d.SignedFilePath = &signedPath
	d.CompletedAt = &now
	delete(m.claims, id)
	return true, nil
}

func (m *memStore) SetSignedFile(_ context.Context, id, signedPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.docs[id]; d != nil {
		d.SignedFilePath = &signedPath
	}
	delete(m.claims, id)
	return nil
}

func (m *memStore) claimed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[id]
	return ok
}

func (m *memStore) CreateField(_ context.Context, f *model.SignatureField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.fields {
		if existing.Token == f.Token {
			return errors.New("duplicate token")
		}
	}
	cp := *f
	m.fields = append(m.fields, &cp)
	return nil
}

func (m *memStore) GetField(_ context.Context, id string) (*model.SignatureField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.ID == id {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetFieldByToken(_ context.Context, token string) (*model.SignatureField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.Token == token {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListFields(_ context.Context, docID string) ([]model.SignatureField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SignatureField
	for _, f := range m.fields {
		if f.DocumentID == docID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memStore) SignField(_ context.Context, token, data, kind, ip string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.Token == token && f.Status == model.FieldPending && now.Before(f.TokenExpiresAt) {
			f.Status = model.FieldSigned
			f.SignatureData = &data
			f.SignatureType = kind
			f.SignedAt = &now
			f.IPAddress = &ip
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RejectField(_ context.Context, token, reason, ip string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.Token == token && f.Status == model.FieldPending && now.Before(f.TokenExpiresAt) {
			f.Status = model.FieldRejected
			f.RejectionReason = &reason
			f.IPAddress = &ip
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeletePendingField(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.fields {
		if f.ID == id && f.Status == model.FieldPending {
			m.fields = append(m.fields[:i], m.fields[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// countingCompositor records invocations. When gate is set, each call
// blocks until the gate is closed.
type countingCompositor struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (c *countingCompositor) Composite(_ context.Context, doc *model.Document, _ []model.SignatureField) (string, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return "", c.err
	}
	return "/signed/" + doc.ID + "/signed-" + doc.FileName, nil
}

type recordingSink struct {
	mu      sync.Mutex
	effects []Effect
}

func (r *recordingSink) Apply(_ context.Context, effects []Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, effects...)
}

func (r *recordingSink) count(kind EffectKind, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.effects {
		if e.Kind == kind && (action == "" || e.Action == action) {
			n++
		}
	}
	return n
}
