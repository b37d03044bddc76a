package email

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
)

// AuditReporter forwards this service's audit entries to the auth service,
// which owns the audit trail. Delivery is fire-and-forget; a lost entry is
// logged, never surfaced.
type AuditReporter interface {
	Report(ctx context.Context, e audit.Entry)
}

type auditPayload struct {
	UserID       *uuid.UUID     `json:"userId,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// HTTPAuditReporter posts to the auth service's internal audit endpoint.
type HTTPAuditReporter struct {
	baseURL       string
	internalToken string
	client        *http.Client
	logger        *slog.Logger
}

func NewHTTPAuditReporter(baseURL, internalToken string, logger *slog.Logger) *HTTPAuditReporter {
	return &HTTPAuditReporter{
		baseURL:       baseURL,
		internalToken: internalToken,
		client:        &http.Client{Timeout: 5 * time.Second},
		logger:        logger,
	}
}

func (r *HTTPAuditReporter) Report(ctx context.Context, e audit.Entry) {
	body, err := json.Marshal(auditPayload{
		UserID:       e.UserID,
		Action:       string(e.Action),
		Resource:     e.Resource,
		IPAddress:    e.IP,
		UserAgent:    e.UserAgent,
		Metadata:     e.Metadata,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
	})
	if err != nil {
		r.logger.Error("audit_report_encode_failed", "action", e.Action, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/internal/audit-log", bytes.NewReader(body))
	if err != nil {
		r.logger.Error("audit_report_failed", "action", e.Action, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.internalToken != "" {
		req.Header.Set("X-Internal-Token", r.internalToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("audit_report_failed", "action", e.Action, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.logger.Error("audit_report_rejected", "action", e.Action, "status", resp.StatusCode)
	}
}

// CapturingReporter records entries in memory, for tests.
type CapturingReporter struct {
	Entries []audit.Entry
}

func (r *CapturingReporter) Report(ctx context.Context, e audit.Entry) {
	r.Entries = append(r.Entries, e)
}
