package email

import (
	"crypto/tls"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
)

const boundary = "----=_Part_signflow_boundary"

type Mailer struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.Host != ""
}

// Message is a rendered multipart/alternative email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

func SigningRequest(to, signerName, ownerName, title, signingURL string) Message {
	if signerName == "" {
		signerName = to
	}
	text := fmt.Sprintf(`Hello %s,

%s has asked you to sign "%s".

Review and sign: %s

The link is personal to you and expires after a limited time. If you did not expect this request, you can ignore this email or reject the request from the link above.
`, signerName, ownerName, title, signingURL)

	body := fmt.Sprintf(`<html><body>
<p>Hello %s,</p>
<p>%s has asked you to sign "<strong>%s</strong>".</p>
<p><a href="%s" style="display:inline-block;padding:10px 24px;background:#4361ee;color:#fff;text-decoration:none;border-radius:4px;">Review &amp; Sign</a></p>
<p style="color:#666;font-size:12px;">The link is personal to you and expires after a limited time.</p>
</body></html>`, html.EscapeString(signerName), html.EscapeString(ownerName), html.EscapeString(title), html.EscapeString(signingURL))

	return Message{To: to, Subject: fmt.Sprintf("Signature requested: %s", title), Text: text, HTML: body}
}

func DocumentCompleted(to, ownerName, title string, signers int) Message {
	text := fmt.Sprintf(`Hello %s,

All %d signature(s) on "%s" have been collected. The signed PDF is ready to download.
`, ownerName, signers, title)

	body := fmt.Sprintf(`<html><body>
<p>Hello %s,</p>
<p>All <strong>%d</strong> signature(s) on "<strong>%s</strong>" have been collected.</p>
<p>The signed PDF is ready to download.</p>
</body></html>`, html.EscapeString(ownerName), signers, html.EscapeString(title))

	return Message{To: to, Subject: fmt.Sprintf("Completed: %s", title), Text: text, HTML: body}
}

func (m *Mailer) SendSigningRequest(to, signerName, ownerName, title, signingURL string) error {
	return m.Send(SigningRequest(to, signerName, ownerName, title, signingURL))
}

func (m *Mailer) SendDocumentCompleted(to, ownerName, title string, signers int) error {
	return m.Send(DocumentCompleted(to, ownerName, title, signers))
}

// Bytes renders the message with CRLF headers.
func (msg Message) Bytes(from string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", mime.QEncoding.Encode("utf-8", msg.Subject)),
		"MIME-Version: 1.0",
		fmt.Sprintf(`Content-Type: multipart/alternative; boundary="%s"`, boundary),
	}

	var b strings.Builder
	b.WriteString(strings.Join(headers, "\r\n") + "\r\n\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Text + "\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTML + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// Send delivers msg. It does nothing when no SMTP host is configured.
func (m *Mailer) Send(msg Message) error {
	if !m.Enabled() {
		return nil
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("invalid recipient %q", msg.To)
	}

	addr := net.JoinHostPort(m.Host, fmt.Sprint(m.Port))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	client, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			slog.Warn("smtp starttls failed, continuing without", "error", err)
		}
	}

	if m.User != "" {
		if err := client.Auth(smtp.PlainAuth("", m.User, m.Pass, m.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg.Bytes(m.From)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	return client.Quit()
}
