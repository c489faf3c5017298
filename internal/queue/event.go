// Package queue carries ledger events over RabbitMQ: the wire encoding and
// the indexer consumer that appends them to an event log.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

// ContentType of published event bodies.
const ContentType = "application/json"

// Encode renders ev as a message body.
func Encode(ev ledger.Event) ([]byte, error) { return json.Marshal(ev) }

// Decode parses a message body.  Bodies without an event type are rejected.
func Decode(body []byte) (ledger.Event, error) {
	var ev ledger.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return ledger.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return ledger.Event{}, fmt.Errorf("event %s has no type", ev.ID)
	}
	return ev, nil
}

// FormatLine renders ev as one line of the indexer log.
func FormatLine(ev ledger.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | id=%s | asset_id=%d | actor=%q",
		ev.OccurredAt.UTC().Format(time.RFC3339Nano), ev.Type, ev.ID, ev.AssetID, ev.Actor)
	if ev.Owner != ledger.NoIdentity {
		fmt.Fprintf(&b, " | owner=%q", ev.Owner)
	}
	if ev.Type == ledger.EventUserSet || ev.Occupant != ledger.NoIdentity {
		fmt.Fprintf(&b, " | occupant=%q", ev.Occupant)
	}
	if ev.Expires != nil {
		fmt.Fprintf(&b, " | expires=%s", ev.Expires.UTC().Format(time.RFC3339))
	}
	if l := ev.Listing; l != nil {
		fmt.Fprintf(&b, " | location=%q | rooms=%d | rent=%d | deposit=%d | type=%q | amenities=[%s]",
			l.Location, l.NumberOfRooms, l.MonthlyRent, l.SecurityDeposit, l.PropertyType,
			strings.Join(l.Amenities, ","))
	}
	switch ev.Type {
	case ledger.EventDepositPaid, ledger.EventDepositReturned:
		fmt.Fprintf(&b, " | amount=%d", ev.Amount)
	}
	if ev.Index != nil {
		fmt.Fprintf(&b, " | index=%d", *ev.Index)
	}
	if ev.Text != "" {
		fmt.Fprintf(&b, " | description=%q", ev.Text)
	}
	b.WriteByte('\n')
	return b.String()
}
