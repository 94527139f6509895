// Package remote is the HTTP client for the ticket backend served by cmd/api.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/syncengine"
)

// ErrNoBaseURL is returned by New when no backend address is configured.
var ErrNoBaseURL = errors.New("remote base url not configured")

// StatusError is a non-2xx answer from the backend. The sync engine classifies
// it through HTTPStatus.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote %d: %s", e.Status, e.Message)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int {
	return e.Status
}

// Options configures a Client. Requests made on behalf of a user carry a token
// minted for that user; other requests use Token or, failing that, a service
// token from Tokens.
type Options struct {
	BaseURL    string
	Token      string
	Tokens     *auth.TokenManager
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implements syncengine.Remote over HTTP.
type Client struct {
	base   *url.URL
	token  string
	tokens *auth.TokenManager
	http   *http.Client
	logger *zap.Logger
}

var _ syncengine.Remote = (*Client)(nil)

// New builds a client for the backend at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, token: opts.Token, tokens: opts.Tokens, http: httpClient, logger: logger}, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (domain.HealthReport, error) {
	var body dto.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &body); err != nil {
		return domain.HealthReport{}, err
	}
	return domain.HealthReport{Status: body.Status, Database: body.Database, Redis: body.Redis}, nil
}

// ListTickets calls GET /tickets with the filter encoded as query parameters.
func (c *Client) ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.Ticket, error) {
	var body envelope[[]dto.TicketResponse]
	if err := c.do(ctx, http.MethodGet, "/tickets", filterQuery(filter), nil, &body); err != nil {
		return nil, err
	}
	tickets := make([]domain.Ticket, 0, len(body.Data))
	for _, t := range body.Data {
		tickets = append(tickets, t.ToDomain())
	}
	return tickets, nil
}

// CreateTicket calls POST /tickets with the client-assigned id and number.
func (c *Client) CreateTicket(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error) {
	var body envelope[dto.TicketResponse]
	if err := c.do(ctx, http.MethodPost, "/tickets", nil, dto.TicketFromDomain(ticket), &body); err != nil {
		return domain.Ticket{}, err
	}
	return body.Data.ToDomain(), nil
}

// PatchTicket calls PATCH /tickets/:id.
func (c *Client) PatchTicket(ctx context.Context, id string, change domain.TicketChange) (domain.Ticket, error) {
	var body envelope[dto.TicketResponse]
	if err := c.do(ctx, http.MethodPatch, "/tickets/"+url.PathEscape(id), nil, dto.ChangeFromDomain(change), &body); err != nil {
		return domain.Ticket{}, err
	}
	return body.Data.ToDomain(), nil
}

// AddMessage calls POST /tickets/:id/messages.
func (c *Client) AddMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	created := msg.CreatedAt
	req := dto.CreateMessageRequest{ID: msg.ID, AuthorID: msg.AuthorID, Body: msg.Body, Kind: msg.Kind, CreatedAt: &created}
	var body envelope[dto.MessageResponse]
	if err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(msg.TicketID)+"/messages", nil, req, &body); err != nil {
		return domain.Message{}, err
	}
	return body.Data.ToDomain(), nil
}

// ListMessages calls GET /tickets/:id/messages.
func (c *Client) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	var body envelope[[]dto.MessageResponse]
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID)+"/messages", nil, nil, &body); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(body.Data))
	for _, m := range body.Data {
		msgs = append(msgs, m.ToDomain())
	}
	return msgs, nil
}

// ListUsers calls GET /users.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var body envelope[[]dto.UserResponse]
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &body); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(body.Data))
	for _, u := range body.Data {
		users = append(users, u.ToDomain())
	}
	return users, nil
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := readStatusError(resp)
		c.logger.Debug("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", statusErr.Status),
			zap.String("code", statusErr.Code))
		return statusErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if actor, ok := syncengine.ActorFromContext(ctx); ok && c.tokens != nil {
		token, _, err := c.tokens.GenerateToken(actor)
		return token, err
	}
	if c.token != "" {
		return c.token, nil
	}
	if c.tokens != nil {
		token, _, err := c.tokens.GenerateServiceToken("helpdesk")
		return token, err
	}
	return "", nil
}

func readStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	statusErr := &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body dto.ErrorEnvelope
	if json.Unmarshal(raw, &body) == nil && body.Error.Code != "" {
		statusErr.Code = body.Error.Code
		statusErr.Message = body.Error.Message
	}
	return statusErr
}

func filterQuery(f domain.TicketFilter) url.Values {
	q := url.Values{}
	if f.RequesterID != nil {
		q.Set("requester_id", *f.RequesterID)
	}
	if f.AssignedTechnicianID != nil {
		q.Set("assigned_technician_id", *f.AssignedTechnicianID)
	}
	if f.Unassigned {
		q.Set("unassigned", "true")
	}
	if len(f.Statuses) > 0 {
		parts := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			parts = append(parts, string(s))
		}
		q.Set("status", strings.Join(parts, ","))
	}
	if len(f.Priorities) > 0 {
		parts := make([]string, 0, len(f.Priorities))
		for _, p := range f.Priorities {
			parts = append(parts, string(p))
		}
		q.Set("priority", strings.Join(parts, ","))
	}
	if term := strings.TrimSpace(f.SearchTerm); term != "" {
		q.Set("search", term)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}
