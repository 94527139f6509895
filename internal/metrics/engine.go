// Package metrics derives dashboard figures from a ticket collection.
package metrics

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TrendDays is the length of the trailing creation trend.
const TrendDays = 7

// Compute aggregates tickets. Day boundaries are evaluated in loc; a nil loc means
// time.Local.
func Compute(tickets []domain.Ticket, now time.Time, loc *time.Location) domain.Metrics {
	if loc == nil {
		loc = time.Local
	}
	today := startOfDay(now, loc)

	m := domain.Metrics{
		Total:      len(tickets),
		ByStatus:   make(map[domain.TicketStatus]int, len(domain.AllStatuses)),
		ByPriority: make(map[domain.TicketPriority]int, len(domain.AllPriorities)),
		Trend:      make([]domain.DayCount, TrendDays),
	}
	for _, s := range domain.AllStatuses {
		m.ByStatus[s] = 0
	}
	for _, p := range domain.AllPriorities {
		m.ByPriority[p] = 0
	}
	for i := range m.Trend {
		m.Trend[i].Day = today.AddDate(0, 0, i-(TrendDays-1))
	}

	var minutes, score, finished int
	for _, t := range tickets {
		m.ByStatus[t.Status]++
		m.ByPriority[t.Priority]++

		if t.Status.IsActive() {
			m.Open++
		}
		if t.Status == domain.TicketStatusInProgress {
			m.InProgress++
		}
		if t.Status.IsFinished() {
			finished++
			if t.ClosedAt != nil && startOfDay(*t.ClosedAt, loc).Equal(today) {
				m.ResolvedToday++
			}
		}
		if t.TimeSpentMinutes != nil {
			minutes += *t.TimeSpentMinutes
			m.ResolutionSamples++
		}
		if t.Satisfaction != nil {
			score += *t.Satisfaction
			m.SatisfactionSamples++
		}

		created := startOfDay(t.CreatedAt, loc)
		for i := range m.Trend {
			if m.Trend[i].Day.Equal(created) {
				m.Trend[i].Count++
				break
			}
		}
	}

	if m.ResolutionSamples > 0 {
		m.MeanResolutionMinutes = float64(minutes) / float64(m.ResolutionSamples)
	}
	if m.SatisfactionSamples > 0 {
		m.MeanSatisfaction = float64(score) / float64(m.SatisfactionSamples)
	}
	if m.Total > 0 {
		m.ResolutionRate = float64(finished) * 100 / float64(m.Total)
	}
	return m
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
