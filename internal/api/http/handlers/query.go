package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/domain"
)

const maxPageSize = 500

// parseTicketFilter reads the ticket list query: requester_id,
// assigned_technician_id, unassigned, status and priority (comma separated),
// search, limit and offset.
func parseTicketFilter(c *fiber.Ctx) domain.TicketFilter {
	filter := domain.TicketFilter{SearchTerm: strings.TrimSpace(c.Query("search"))}
	if v := strings.TrimSpace(c.Query("requester_id")); v != "" {
		filter.RequesterID = &v
	}
	if v := strings.TrimSpace(c.Query("assigned_technician_id")); v != "" {
		filter.AssignedTechnicianID = &v
	}
	filter.Unassigned = c.QueryBool("unassigned", false)
	for _, part := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.ToUpper(part)))
	}
	for _, part := range splitList(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(strings.ToUpper(part)))
	}
	filter.Limit = parseInt(c.Query("limit"), 0)
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	filter.Offset = parseInt(c.Query("offset"), 0)
	return filter
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
