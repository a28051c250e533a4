package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

// Template names.
const (
	TemplateVerification    = "verification"
	TemplatePasswordReset   = "password_reset"
	TemplatePasswordChanged = "password_changed"
	TemplateTwoFactor       = "two_factor"
	TemplateInvitation      = "invitation"
)

const layout = `{{define "layout"}}<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">{{template "content" .}}</div>{{end}}
{{define "button"}}<a href="{{.URL}}" style="display: inline-block; background-color: #0070f3; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; margin: 20px 0;">{{.Label}}</a>{{end}}`

var bodies = map[string]string{
	TemplateVerification: `{{define "content"}}<h1>Verify your email</h1>
<p>Click the link below to verify your email address for {{.AppName}}:</p>
{{template "button" (button .Link "Verify Email")}}
<p>This link will expire in 1 hour.</p>{{end}}`,

	TemplatePasswordReset: `{{define "content"}}<h1>Reset your password</h1>
<p>We received a request to reset your password. Click the link below to proceed:</p>
{{template "button" (button .Link "Reset Password")}}
<p>If you didn't request this, you can safely ignore this email.</p>
<p>This link will expire in 1 hour.</p>{{end}}`,

	TemplatePasswordChanged: `{{define "content"}}<h1>Password Changed</h1>
<p>Your {{.AppName}} password has been successfully changed.</p>
<p>If you did not perform this action, please contact support immediately.</p>{{end}}`,

	TemplateTwoFactor: `{{define "content"}}<h1>Two-Factor Authentication</h1>
<p>Your 2FA code is:</p>
<p style="font-size: 24px; font-weight: bold; letter-spacing: 5px;">{{.Code}}</p>
<p>This code will expire in 1 hour.</p>{{end}}`,

	TemplateInvitation: `{{define "content"}}<h1>Join {{.Team}} on {{.AppName}}</h1>
<p>{{if .Inviter}}{{.Inviter}} has invited you{{else}}You have been invited{{end}} to join <strong>{{.Team}}</strong> as {{.Role}}.</p>
{{template "button" (button .Link "Accept Invitation")}}
{{if .NewAccount}}<p>You will be asked to choose a password when you accept.</p>{{end}}{{end}}`,
}

var subjects = map[string]string{
	TemplateVerification:    "Verify your email",
	TemplatePasswordReset:   "Reset your password",
	TemplatePasswordChanged: "Password Changed Successfully",
	TemplateTwoFactor:       "Your two-factor code",
	TemplateInvitation:      "You have been invited to join a team",
}

type buttonData struct {
	URL   string
	Label string
}

// Mailer renders and sends the application's emails.
type Mailer struct {
	sender    Sender
	baseURL   string
	appName   string
	templates map[string]*template.Template
}

// NewMailer creates a Mailer. Links are built from baseURL.
func NewMailer(sender Sender, baseURL, appName string) *Mailer {
	funcs := template.FuncMap{
		"button": func(u, label string) buttonData { return buttonData{URL: u, Label: label} },
	}
	base := template.Must(template.New("layout").Funcs(funcs).Parse(layout))

	templates := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		templates[name] = template.Must(template.Must(base.Clone()).Parse(body))
	}
	return &Mailer{
		sender:    sender,
		baseURL:   strings.TrimRight(baseURL, "/"),
		appName:   appName,
		templates: templates,
	}
}

func (m *Mailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

// Render returns the HTML for a template.
func (m *Mailer) Render(name string, data map[string]any) (string, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("email: unknown template %q", name)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = m.appName

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("email: failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (m *Mailer) send(ctx context.Context, to, name string, data map[string]any) error {
	html, err := m.Render(name, data)
	if err != nil {
		return err
	}
	subject := subjects[name]
	if name == TemplateInvitation {
		if team, ok := data["Team"].(string); ok && team != "" {
			subject = fmt.Sprintf("You have been invited to join %s", team)
		}
	}
	return m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html, Template: name})
}

// SendVerification sends the email verification link.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	return m.send(ctx, to, TemplateVerification, map[string]any{
		"Link": m.link("/new-verification", token),
	})
}

// SendPasswordReset sends the password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	return m.send(ctx, to, TemplatePasswordReset, map[string]any{
		"Link": m.link("/reset-password", token),
	})
}

// SendPasswordChanged confirms a password change.
func (m *Mailer) SendPasswordChanged(ctx context.Context, to string) error {
	return m.send(ctx, to, TemplatePasswordChanged, nil)
}

// SendTwoFactorCode sends a sign-in code.
func (m *Mailer) SendTwoFactorCode(ctx context.Context, to, code string) error {
	return m.send(ctx, to, TemplateTwoFactor, map[string]any{"Code": code})
}

// Invitation describes a team invitation email.
type Invitation struct {
	To         string
	Team       string
	Inviter    string
	Role       string
	Token      string
	NewAccount bool
}

// SendInvitation sends the accept-invitation link.
func (m *Mailer) SendInvitation(ctx context.Context, inv Invitation) error {
	return m.send(ctx, inv.To, TemplateInvitation, map[string]any{
		"Team":       inv.Team,
		"Inviter":    inv.Inviter,
		"Role":       inv.Role,
		"NewAccount": inv.NewAccount,
		"Link":       m.link("/accept-invite", inv.Token),
	})
}
