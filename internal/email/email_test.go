package email_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YannKr/signflow/internal/email"
)

func TestSigningRequestEscapesHTML(t *testing.T) {
	msg := email.SigningRequest("bob@example.com", "", "Alice", "<NDA>", "http://localhost:5173/sign/abc")

	assert.Equal(t, "Signature requested: <NDA>", msg.Subject)
	assert.Contains(t, msg.Text, "Hello bob@example.com,")
	assert.Contains(t, msg.Text, "http://localhost:5173/sign/abc")
	assert.Contains(t, msg.HTML, "&lt;NDA&gt;")
	assert.NotContains(t, msg.HTML, "<NDA>")
}

func TestMessageBytes(t *testing.T) {
	raw := string(email.DocumentCompleted("owner@example.com", "Owner", "Lease", 2).Bytes("noreply@example.com"))

	headers, body, ok := strings.Cut(raw, "\r\n\r\n")
	assert.True(t, ok)
	assert.Contains(t, headers, "From: noreply@example.com\r\n")
	assert.Contains(t, headers, "To: owner@example.com\r\n")
	assert.Contains(t, headers, "Subject: Completed: Lease\r\n")
	assert.Contains(t, body, "Content-Type: text/plain; charset=utf-8")
	assert.Contains(t, body, "All 2 signature(s)")
	assert.True(t, strings.HasSuffix(body, "--\r\n"))
}

func TestDisabledMailerIsNoop(t *testing.T) {
	var m *email.Mailer
	assert.False(t, m.Enabled())
	assert.NoError(t, m.SendSigningRequest("a@b.c", "A", "O", "T", "u"))
	assert.NoError(t, (&email.Mailer{}).SendDocumentCompleted("a@b.c", "O", "T", 1))
}
