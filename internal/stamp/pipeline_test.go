package stamp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/stamp"
)

type memFiles struct {
	originals map[string][]byte
	published map[string][]byte
}

func (m *memFiles) ReadOriginal(path string) ([]byte, error) {
	b, ok := m.originals[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return b, nil
}

func (m *memFiles) PublishSigned(docID, name string, data []byte) (string, error) {
	path := "signed/" + docID + "/signed-" + name
	m.published[path] = data
	return path, nil
}

func strptr(s string) *string { return &s }

func TestPipelineComposite(t *testing.T) {
	src := letterPDF(t, 1)
	files := &memFiles{originals: map[string][]byte{"orig/nda.pdf": src}, published: map[string][]byte{}}
	p := &stamp.Pipeline{Files: files}
	doc := &model.Document{ID: "doc-1", FileName: "nda.pdf", FilePath: "orig/nda.pdf"}
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	fields := []model.SignatureField{
		{ID: "f2", Page: 1, X: 300, Y: 700, Width: 200, Height: 50, Status: model.FieldSigned,
			SignatureType: model.PayloadText, SignatureData: strptr("Bob"), SignedAt: &at, CreatedAt: at.Add(time.Second)},
		{ID: "f1", Page: 1, X: 50, Y: 700, Width: 200, Height: 50, Status: model.FieldSigned,
			SignatureType: model.PayloadText, SignatureData: strptr("Alice A."), SignedAt: &at, CreatedAt: at},
		{ID: "f3", Page: 9, X: 50, Y: 700, Status: model.FieldSigned, SignatureType: model.PayloadText,
			SignatureData: strptr("Ghost"), CreatedAt: at.Add(2 * time.Second)},
		{ID: "f4", Page: 1, X: 50, Y: 100, Status: model.FieldPending, CreatedAt: at},
	}

	path, err := p.Composite(context.Background(), doc, fields)
	require.NoError(t, err)
	assert.Equal(t, "signed/doc-1/signed-nda.pdf", path)

	out := files.published[path]
	require.NotEmpty(t, out)
	ov := overlayOf(t, openPDF(t, out), 1)
	alice := indexOf(ov, "(Alice A.) Tj")
	bob := indexOf(ov, "(Bob) Tj")
	assert.True(t, alice >= 0 && bob > alice, "marks drawn in creation order")
	assert.NotContains(t, ov, "Ghost")
	assert.Equal(t, src, out[:len(src)])
}

func TestPipelineFailsOnUnreadableOriginal(t *testing.T) {
	files := &memFiles{originals: map[string][]byte{"orig/bad.pdf": []byte("garbage")}, published: map[string][]byte{}}
	p := &stamp.Pipeline{Files: files}

	_, err := p.Composite(context.Background(), &model.Document{ID: "d", FilePath: "orig/missing.pdf"}, nil)
	assert.Error(t, err)

	_, err = p.Composite(context.Background(), &model.Document{ID: "d", FilePath: "orig/bad.pdf"}, nil)
	assert.Error(t, err)
	assert.Empty(t, files.published)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
