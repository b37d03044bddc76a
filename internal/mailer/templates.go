package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// TemplateData feeds the transactional templates. IsNewUser only matters for
// the magic-link greeting.
type TemplateData struct {
	Link        string
	DisplayName string
	IsNewUser   bool
}

const verificationTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto;">
	<h2>Verify your email address</h2>
	<p>Hi {{.DisplayName}},</p>
	<p>Thanks for signing up. Confirm your email address to activate your account:</p>
	<p><a href="{{.Link}}" style="display:inline-block;padding:12px 24px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Verify email</a></p>
	<p>This link expires in 24 hours. If you did not create an account, you can ignore this message.</p>
</body>
</html>`

const passwordResetTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto;">
	<h2>Reset your password</h2>
	<p>Hi {{.DisplayName}},</p>
	<p>We received a request to reset your password. This link expires in 1 hour:</p>
	<p><a href="{{.Link}}" style="display:inline-block;padding:12px 24px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Choose a new password</a></p>
	<p>If you did not request a reset, no action is needed; your password is unchanged.</p>
</body>
</html>`

const magicLinkTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto;">
	{{if .IsNewUser}}<h2>Welcome!</h2>
	<p>Hi {{.DisplayName}}, your account has been created. Sign in with the link below:</p>
	{{else}}<h2>Your sign-in link</h2>
	<p>Hi {{.DisplayName}}, use the link below to sign in:</p>
	{{end}}<p><a href="{{.Link}}" style="display:inline-block;padding:12px 24px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px;">Sign in</a></p>
	<p>This link expires in 15 minutes and can be used once.</p>
	{{if .IsNewUser}}<p>If you did not request this, you can safely ignore it; the account stays inactive.</p>
	{{else}}<p>If you did not request this link, someone may have typed your address by mistake. No one can sign in without it.</p>
	{{end}}</body>
</html>`

// Templates renders the three transactional messages.
type Templates struct {
	verification  *template.Template
	passwordReset *template.Template
	magicLink     *template.Template
}

func NewTemplates() (*Templates, error) {
	t := &Templates{}
	var err error
	if t.verification, err = template.New("verification").Parse(verificationTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse verification template: %w", err)
	}
	if t.passwordReset, err = template.New("password_reset").Parse(passwordResetTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse password reset template: %w", err)
	}
	if t.magicLink, err = template.New("magic_link").Parse(magicLinkTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse magic link template: %w", err)
	}
	return t, nil
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func (t *Templates) Verification(data TemplateData) (subject, body string, err error) {
	body, err = render(t.verification, data)
	return "Verify your email address", body, err
}

func (t *Templates) PasswordReset(data TemplateData) (subject, body string, err error) {
	body, err = render(t.passwordReset, data)
	return "Reset your password", body, err
}

func (t *Templates) MagicLink(data TemplateData) (subject, body string, err error) {
	body, err = render(t.magicLink, data)
	subject = "Your sign-in link"
	if data.IsNewUser {
		subject = "Welcome! Your sign-in link"
	}
	return subject, body, err
}
