package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// DayCountResponse is one trend bucket.
type DayCountResponse struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// MetricsResponse mirrors domain.Metrics.
type MetricsResponse struct {
	Total                 int                           `json:"total"`
	Open                  int                           `json:"open"`
	InProgress            int                           `json:"in_progress"`
	ResolvedToday         int                           `json:"resolved_today"`
	MeanResolutionMinutes float64                       `json:"mean_resolution_minutes"`
	ResolutionSamples     int                           `json:"resolution_samples"`
	MeanSatisfaction      float64                       `json:"mean_satisfaction"`
	SatisfactionSamples   int                           `json:"satisfaction_samples"`
	ResolutionRate        float64                       `json:"resolution_rate"`
	ByStatus              map[domain.TicketStatus]int   `json:"by_status"`
	ByPriority            map[domain.TicketPriority]int `json:"by_priority"`
	Trend                 []DayCountResponse            `json:"trend"`
}

// MetricsFromDomain converts metrics for the wire.
func MetricsFromDomain(m domain.Metrics) MetricsResponse {
	trend := make([]DayCountResponse, 0, len(m.Trend))
	for _, d := range m.Trend {
		trend = append(trend, DayCountResponse{Day: d.Day.Format("2006-01-02"), Count: d.Count})
	}
	return MetricsResponse{
		Total:                 m.Total,
		Open:                  m.Open,
		InProgress:            m.InProgress,
		ResolvedToday:         m.ResolvedToday,
		MeanResolutionMinutes: m.MeanResolutionMinutes,
		ResolutionSamples:     m.ResolutionSamples,
		MeanSatisfaction:      m.MeanSatisfaction,
		SatisfactionSamples:   m.SatisfactionSamples,
		ResolutionRate:        m.ResolutionRate,
		ByStatus:              m.ByStatus,
		ByPriority:            m.ByPriority,
		Trend:                 trend,
	}
}

// ConnectivityResponse mirrors domain.ConnectivityState.
type ConnectivityResponse struct {
	Mode        domain.ConnectivityMode `json:"mode"`
	LastCheckAt *time.Time              `json:"last_check_at,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
}

// ConnectivityFromDomain converts the state for the wire.
func ConnectivityFromDomain(s domain.ConnectivityState) ConnectivityResponse {
	resp := ConnectivityResponse{Mode: s.Mode, LastError: s.LastError}
	if !s.LastCheckAt.IsZero() {
		at := s.LastCheckAt
		resp.LastCheckAt = &at
	}
	return resp
}

// SnapshotResponse is the desk's single read model.
type SnapshotResponse struct {
	Tickets      []TicketResponse     `json:"tickets"`
	Metrics      MetricsResponse      `json:"metrics"`
	Connectivity ConnectivityResponse `json:"connectivity"`
}

// MutationResponse wraps a mutation result. Warning is set when the change was
// kept locally because the remote backend was unreachable.
type MutationResponse struct {
	Ticket    *TicketResponse  `json:"ticket,omitempty"`
	Message   *MessageResponse `json:"message,omitempty"`
	Confirmed bool             `json:"confirmed"`
	Warning   *ErrorBody       `json:"warning,omitempty"`
}

// ErrorBody is the error envelope's inner object.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorFromDomain renders a domain error.
func ErrorFromDomain(err *apperrors.DomainError) ErrorBody {
	return ErrorBody{Code: err.Code, Message: err.Message, Details: err.Details}
}

// WarningFrom renders a non-fatal mutation error, or nil when there is none.
func WarningFrom(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	body := ErrorFromDomain(apperrors.ToDomainError(err))
	return &body
}

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// HealthResponse is the remote backend's health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}
