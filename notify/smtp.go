package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
)

// SMTPConfig configures SMTPGateway.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// ResetURL is the page that accepts ?token=; the raw token is sent when empty.
	ResetURL string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	AppName     string
}

// SMTPGateway sends HTML mail over SMTP.
type SMTPGateway struct {
	cfg  SMTPConfig
	send func(ctx context.Context, to string, msg []byte) error
}

var _ authcore.NotificationGateway = (*SMTPGateway)(nil)

var ErrSMTPConfig = errors.New("notify: smtp host and from address are required")

func NewSMTPGateway(cfg SMTPConfig) (*SMTPGateway, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, ErrSMTPConfig
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.AppName == "" {
		cfg.AppName = "authcore"
	}
	g := &SMTPGateway{cfg: cfg}
	g.send = g.deliver
	return g, nil
}

func (g *SMTPGateway) SendTwoFactorToken(ctx context.Context, email, code, displayName string) error {
	return g.mail(ctx, email, "Your verification code", twoFactorTmpl, mailData{
		App:  g.cfg.AppName,
		Name: greetingName(displayName, email),
		Code: code,
	})
}

func (g *SMTPGateway) SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error {
	return g.mail(ctx, email, "Reset your password", resetTmpl, mailData{
		App:  g.cfg.AppName,
		Name: greetingName(displayName, email),
		Code: token,
		Link: g.resetLink(token),
	})
}

func (g *SMTPGateway) SendPasswordResetSuccessEmail(ctx context.Context, email, displayName string) error {
	return g.mail(ctx, email, "Your password was changed", resetDoneTmpl, mailData{
		App:  g.cfg.AppName,
		Name: greetingName(displayName, email),
	})
}

func (g *SMTPGateway) resetLink(token string) string {
	if g.cfg.ResetURL == "" {
		return ""
	}
	u, err := url.Parse(g.cfg.ResetURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *SMTPGateway) mail(ctx context.Context, to, subject string, tmpl *template.Template, data mailData) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("notify: render %q: %w", subject, err)
	}
	msg := composeMessage(g.cfg.From, to, subject, body.String())
	if err := g.send(ctx, to, msg); err != nil {
		return fmt.Errorf("notify: send %q: %w", subject, err)
	}
	return nil
}

func (g *SMTPGateway) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(g.cfg.Host, g.cfg.Port)
	tlsConfig := &tls.Config{ServerName: g.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if g.cfg.ImplicitTLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, g.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if !g.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}

	if g.cfg.Username != "" {
		auth := smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(g.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func composeMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + sanitizeHeader(from) + "\r\n")
	b.WriteString("To: " + sanitizeHeader(to) + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// sanitizeHeader strips CR and LF so values cannot inject headers.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

func greetingName(displayName, email string) string {
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		return displayName
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

type mailData struct {
	App  string
	Name string
	Code string
	Link string
}

var (
	twoFactorTmpl = template.Must(template.New("two_factor").Parse(
		`<p>Hi {{.Name}},</p>
<p>Your {{.App}} verification code is <strong>{{.Code}}</strong>. It expires in a few minutes.</p>
<p>If you did not try to sign in, change your password.</p>`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hi {{.Name}},</p>
<p>We received a request to reset your {{.App}} password.</p>
{{if .Link}}<p><a href="{{.Link}}">Reset password</a></p>{{else}}<p>Reset token: <code>{{.Code}}</code></p>{{end}}
<p>If you did not request this, ignore this email.</p>`))

	resetDoneTmpl = template.Must(template.New("reset_done").Parse(
		`<p>Hi {{.Name}},</p>
<p>Your {{.App}} password was changed and all sessions were signed out.</p>
<p>If this was not you, contact support immediately.</p>`))
)
