package seclog

import (
	"context"
	"database/sql"
	"time"

	"campusgate.org/internal/ids"
)

var _ EventStore = (*PGEventStore)(nil)

// PGEventStore persists events in the security_events table.
type PGEventStore struct {
	db *sql.DB
}

func NewPGEventStore(db *sql.DB) *PGEventStore {
	return &PGEventStore{db: db}
}

func (s *PGEventStore) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into security_events(id, occurred_at, account_id, role, event_type, status, ip, user_agent, detail)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OccurredAt, e.AccountID, e.Role, string(e.Type), string(e.Status), e.IP, e.UserAgent, e.Detail,
	)
	return err
}

func (s *PGEventStore) Recent(ctx context.Context, since time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, occurred_at, account_id, role, event_type, status, ip, user_agent, detail
		 from security_events where occurred_at >= $1 order by occurred_at asc`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			typ    string
			status string
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.AccountID, &e.Role, &typ, &status, &e.IP, &e.UserAgent, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Status = Status(status)
		events = append(events, e)
	}
	return events, rows.Err()
}
