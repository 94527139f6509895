package domain

import "time"

// DayCount is one bucket of the trailing creation trend.
type DayCount struct {
	Day   time.Time
	Count int
}

// Metrics summarizes a ticket collection. It is always derived, never stored.
type Metrics struct {
	Total                 int
	Open                  int
	InProgress            int
	ResolvedToday         int
	MeanResolutionMinutes float64
	ResolutionSamples     int
	MeanSatisfaction      float64
	SatisfactionSamples   int
	ResolutionRate        float64
	ByStatus              map[TicketStatus]int
	ByPriority            map[TicketPriority]int
	Trend                 []DayCount
}
