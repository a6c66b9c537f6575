package bus

import "time"

// Event is a domain event published on the in-process bus.
//
// Kind namespaces used across the daemon:
//
//	session.*  connection lifecycle (status_changed, pairing_code)
//	wa.*       normalized adapter events consumed by the ingest engine
//	ui.*       post-write updates fanned out to dashboard clients
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
