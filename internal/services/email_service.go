package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/models"
)

type EmailService struct {
	config config.EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{
		config: cfg.Email,
		send:   smtp.SendMail,
	}
}

type EmailData struct {
	To        string
	Subject   string
	Body      string
	IsHTML    bool
	Form      models.Form
	Submitter models.SubmitRequest
	Result    SubmitResult
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #1f77b4; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f9f9f9; }
        .footer { padding: 20px; text-align: center; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{if .Form.Title}}{{.Form.Title}}{{else}}Visite{{end}}</h1>
            <p>Your visit has been recorded</p>
        </div>
        <div class="content">
            <p>Dear {{if .Submitter.SubmitterName}}{{.Submitter.SubmitterName}}{{else}}agent{{end}},</p>
            {{if eq .Result.Outcome "partial"}}
            <p>Your visit was saved, but only {{.Result.CreatedCount}} of {{.Result.ExpectedCount}} answers reached the server. An administrator has been notified.</p>
            {{else}}
            <p>All {{.Result.ExpectedCount}} answers were saved.</p>
            {{end}}
            <p><strong>Reference:</strong> {{.Result.SubmissionUUID}}</p>
            <p><strong>Submitted at:</strong> {{.Result.SubmittedAt.UTC.Format "2006-01-02 15:04:05 UTC"}}</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>`))

// SendConfirmationEmail thanks the submitter once a visit is stored
func (es *EmailService) SendConfirmationEmail(to string, form models.Form, submitter models.SubmitRequest, result SubmitResult) error {
	if !es.config.Enabled {
		return nil
	}
	if to == "" {
		return fmt.Errorf("no email address for submission %s", result.SubmissionUUID)
	}

	emailData := EmailData{
		To:        to,
		Subject:   es.config.Subject,
		IsHTML:    true,
		Form:      form,
		Submitter: submitter,
		Result:    result,
	}

	body, err := renderConfirmation(emailData)
	if err != nil {
		return err
	}
	emailData.Body = body

	return es.sendSMTPEmail(emailData)
}

func renderConfirmation(data EmailData) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}
	return buf.String(), nil
}

func (es *EmailService) sendSMTPEmail(emailData EmailData) error {
	var contentType string
	if emailData.IsHTML {
		contentType = "text/html; charset=UTF-8"
	} else {
		contentType = "text/plain; charset=UTF-8"
	}

	message := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: %s\r\n\r\n%s",
		emailData.To,
		es.config.SMTP.From,
		emailData.Subject,
		contentType,
		emailData.Body,
	)

	addr := fmt.Sprintf("%s:%d", es.config.SMTP.Host, es.config.SMTP.Port)

	// No auth for local relays such as MailHog
	var auth smtp.Auth
	if es.config.SMTP.Username != "" && es.config.SMTP.Password != "" {
		auth = smtp.PlainAuth("",
			es.config.SMTP.Username,
			es.config.SMTP.Password,
			es.config.SMTP.Host,
		)
	}

	if err := es.send(addr, auth, es.config.SMTP.From, []string{emailData.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send SMTP email: %w", err)
	}

	return nil
}

// SendTestEmail checks the SMTP settings by mailing a fixed message to to
func (es *EmailService) SendTestEmail(to string) error {
	if !es.config.Enabled {
		return ErrEmailDisabled
	}
	if to == "" {
		return fmt.Errorf("no email address for test email")
	}
	return es.sendSMTPEmail(EmailData{
		To:      to,
		Subject: "visite-admin - Test Email",
		Body:    "This is a test email from visite-admin. If you received this, email sending is working correctly!",
	})
}
