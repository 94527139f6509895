package domain

// ChangeKind names an operation on an existing ticket.
type ChangeKind string

const (
	ChangeClaim         ChangeKind = "claim"
	ChangeReassign      ChangeKind = "reassign"
	ChangeAdvance       ChangeKind = "advance"
	ChangeRate          ChangeKind = "rate"
	ChangeRecordWork    ChangeKind = "record_work"
	ChangeSetPriority   ChangeKind = "set_priority"
	ChangeAppendMessage ChangeKind = "append_message"
)

// TicketChange describes one mutation of an existing ticket. Only the fields the
// kind uses are read.
type TicketChange struct {
	Kind             ChangeKind
	TechnicianID     string
	Status           TicketStatus
	Solution         *string
	TimeSpentMinutes *int
	Notes            *string
	Satisfaction     int
	Priority         TicketPriority
}
