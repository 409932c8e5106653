package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/chmdznr/worldbackup/internal/config"
	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/pkg/utils"
)

const emailSubject = "Minecraft Backup Completed"

var emailHTML = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Minecraft Backup Notification</title></head>
<body style="margin:0;padding:0;background:#111827;font-family:Arial,sans-serif;color:#e5e7eb;">
  <div style="max-width:600px;margin:30px auto;background:#1f2937;border-radius:10px;overflow:hidden;">
    <div style="background:linear-gradient(90deg,#10b981,#3b82f6);padding:24px;text-align:center;">
      <h1 style="margin:0;color:#fff;">🎯 Minecraft Backup Successful</h1>
    </div>
    <div style="padding:24px;">
      <p>✅ Your Minecraft server backup has been successfully created.</p>
      <div style="background:#374151;border-radius:8px;padding:16px;margin:16px 0;">
        <p>Backup Name: <strong>{{.BackupName}}</strong></p>
        {{- if .Size}}
        <p>Size: {{.SizeText}}</p>
        {{- end}}
        <p>📁 {{.Storage}}</p>
        <p>🕒 {{.When}}</p>
      </div>
      <p>💾 Keep building, crafting, and exploring without worries.</p>
    </div>
    <div style="padding:16px;text-align:center;color:#9ca3af;font-size:13px;">
      <p>Stay safe and happy mining! ⛏️</p>
    </div>
  </div>
</body>
</html>
`))

type emailView struct {
	BackupName string
	Size       int64
	SizeText   string
	Storage    string
	When       string
}

// Email sends the notification over SMTP.
type Email struct {
	cfg     config.EmailConfig
	timeout time.Duration
}

// NewEmail returns an Email notifier.
func NewEmail(cfg config.EmailConfig) *Email {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Email{cfg: cfg, timeout: timeout}
}

func (e *Email) Name() string { return "email" }

func (e *Email) configured() bool {
	return e.cfg.Host != "" && e.cfg.From != "" && len(e.cfg.To) > 0
}

// Notify sends one message to every configured recipient.
func (e *Email) Notify(ctx context.Context, m Message) error {
	if !e.configured() {
		return ErrNotConfigured
	}

	msg, err := buildEmail(e.cfg.From, e.cfg.To, m)
	if err != nil {
		return err
	}
	if err := e.send(ctx, msg); err != nil {
		return err
	}

	logging.Debug().Strs("to", e.cfg.To).Str("backup", m.BackupName).Msg("Email notification sent")
	return nil
}

func buildEmail(from string, to []string, m Message) ([]byte, error) {
	view := emailView{
		BackupName: m.BackupName,
		Size:       m.Size,
		SizeText:   utils.FormatSize(m.Size),
		Storage:    m.StorageText(),
		When:       m.CreatedAt.Format(time.RFC1123),
	}

	var html bytes.Buffer
	if err := emailHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("rendering email: %w", err)
	}

	text := fmt.Sprintf("Your Minecraft server backup has been successfully created.\r\n\r\nBackup Name: %s\r\n%s\r\nCreated: %s\r\n\r\nStay safe and happy mining!\r\n",
		view.BackupName, view.Storage, view.When)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", "World Backups"), from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", emailSubject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html.String()},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Email) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// net/smtp has no context support; the deadline covers a server that
	// stalls mid-conversation, AfterFunc covers cancellation.
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if e.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("SMTP server %s does not support STARTTLS", e.cfg.Host)
		}
		tlsConfig := &tls.Config{
			ServerName: e.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if e.cfg.Username != "" && e.cfg.Password != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// the message is accepted once DATA closes
	_ = client.Quit()
	return nil
}
