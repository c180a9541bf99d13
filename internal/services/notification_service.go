package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/models"
)

type NotificationService struct {
	config config.NtfyConfig
	client *http.Client
}

func NewNotificationService(cfg *config.Config) *NotificationService {
	return &NotificationService{
		config: cfg.Notifications.Ntfy,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type NtfyMessage struct {
	Topic    string   `json:"topic"`
	Message  string   `json:"message"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Click    string   `json:"click,omitempty"`
}

// SendSubmissionNotification tells operators how a submission went
func (ns *NotificationService) SendSubmissionNotification(form models.Form, req models.SubmitRequest, result SubmitResult) error {
	if !ns.config.Enabled {
		return nil
	}

	formName := form.Title
	if formName == "" {
		formName = form.UUID
	}

	var status string
	var tags []string
	var priority int

	switch result.Outcome {
	case OutcomeSuccess:
		status = "✅ Visit recorded"
		tags = []string{"white_check_mark", "visite"}
		priority = 3
	case OutcomePartial:
		status = "⚠️ Visit partially recorded"
		tags = []string{"warning", "visite"}
		priority = 4
	default:
		status = "❌ Submission failed"
		tags = []string{"x", "visite", "error"}
		priority = 4
	}

	submitter := req.SubmitterName
	if req.SubmitterEmail != "" {
		submitter = strings.TrimSpace(submitter + " <" + req.SubmitterEmail + ">")
	}
	if submitter == "" {
		submitter = "anonymous"
	}

	message := fmt.Sprintf(`%s

Form: %s
Submission: %s
Submitted by: %s
Submitted: %s
Responses: %d/%d`,
		status,
		formName,
		shortID(result.SubmissionUUID),
		submitter,
		result.SubmittedAt.Format("2006-01-02 15:04:05"),
		result.CreatedCount,
		result.ExpectedCount,
	)

	if result.UsedFallback {
		message += "\nBulk insert failed, responses were sent one by one"
	}
	if result.Message != "" && result.Outcome != OutcomeSuccess {
		message += "\n\nError: " + result.Message
	}
	for _, e := range result.Errors {
		message += "\n   " + e
	}

	return ns.sendNtfyMessage(NtfyMessage{
		Topic:    ns.config.Topic,
		Title:    fmt.Sprintf("Visite: %s", formName),
		Message:  message,
		Tags:     tags,
		Priority: priority,
	})
}

// SendCustomNotification posts an operator-written message to the topic
func (ns *NotificationService) SendCustomNotification(title, message string, tags []string, priority int) error {
	if !ns.config.Enabled {
		return ErrNotificationsDisabled
	}

	return ns.sendNtfyMessage(NtfyMessage{
		Topic:    ns.config.Topic,
		Title:    title,
		Message:  message,
		Tags:     tags,
		Priority: priority,
	})
}

func (ns *NotificationService) sendNtfyMessage(msg NtfyMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal ntfy message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ns.config.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if ns.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ns.config.Token)
	}

	resp, err := ns.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy server returned status %d", resp.StatusCode)
	}

	return nil
}

func (ns *NotificationService) SendTestNotification() error {
	return ns.SendCustomNotification(
		"Test Notification",
		"visite-admin is running and notifications are working!",
		[]string{"gear", "test"},
		3,
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
