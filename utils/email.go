package utils

import (
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net/smtp"

	"Go_Pic/config"

	"github.com/jordan-wright/email"
)

var ErrMailNotConfigured = errors.New("smtp config missing")

type Mailer struct {
	host     string
	port     string
	user     string
	pass     string
	from     string
	useTLS   bool
	startTLS bool
	send     func(e *email.Email) error
}

// NewMailer builds a mailer from SMTP settings.
func NewMailer(cfg config.Config) *Mailer {
	m := &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		pass:     cfg.SMTPPass,
		from:     cfg.SMTPFrom,
		useTLS:   cfg.SMTPTLS,
		startTLS: cfg.SMTPStartTLS,
	}
	m.send = m.sendSMTP
	return m
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.host != "" && m.port != "" && m.user != "" && m.pass != "" && m.from != ""
}

// SendShareMail sends a share link notification.
func (m *Mailer) SendShareMail(to, title, link string) error {
	if !m.Enabled() {
		return ErrMailNotConfigured
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Images shared with you: %s", title)
	e.HTML = []byte(`
		<h2>` + html.EscapeString(title) + `</h2>
		<p>Images have been shared with you. Open the link below to view them:</p>
		<a href="` + html.EscapeString(link) + `">` + html.EscapeString(link) + `</a>
	`)
	return m.send(e)
}

func (m *Mailer) sendSMTP(e *email.Email) error {
	addr := m.host + ":" + m.port
	auth := smtp.PlainAuth("", m.user, m.pass, m.host)
	tlsConfig := &tls.Config{ServerName: m.host}
	if m.useTLS {
		return e.SendWithTLS(addr, auth, tlsConfig)
	}
	if m.startTLS {
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	}
	return e.Send(addr, auth)
}
