package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"skipline/internal/models"
)

// EntryEvent is one link of an entry's append-only history. Each event hashes
// its predecessor so a rewritten history no longer verifies.
type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type entryPayload struct {
	EntryID  string     `json:"entry_id"`
	QueueID  string     `json:"queue_id"`
	Position int        `json:"position"`
	Status   string     `json:"status"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	CalledAt *time.Time `json:"called_at,omitempty"`
	ServedAt *time.Time `json:"served_at,omitempty"`
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// EntryEventPayload snapshots the fields of entry that a history event records.
func EntryEventPayload(entry models.Entry) (json.RawMessage, error) {
	joined := entry.JoinedAt
	return json.Marshal(entryPayload{
		EntryID:  entry.EntryID,
		QueueID:  entry.QueueID,
		Position: entry.Position,
		Status:   entry.Status,
		JoinedAt: &joined,
		CalledAt: entry.CalledAt,
		ServedAt: entry.ServedAt,
	})
}

// NextEntryEvent builds the event that follows prev (nil for the first event).
func NextEntryEvent(prev *EntryEvent, entry models.Entry, eventType string, createdAt time.Time) (EntryEvent, error) {
	payload, err := EntryEventPayload(entry)
	if err != nil {
		return EntryEvent{}, err
	}
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return EntryEvent{
		EntryID:   entry.EntryID,
		Seq:       seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeEntryEventHash(prevHash, entry.EntryID, eventType, payload, createdAt, seq),
	}, nil
}

// VerifyEntryEvents checks sequence numbers and hash links. When the chain is
// broken it returns the 1-based index of the first bad event and false.
func VerifyEntryEvents(events []EntryEvent) (int, bool) {
	prevHash := ""
	for i, event := range events {
		if event.Seq != i+1 || event.PrevHash != prevHash {
			return i + 1, false
		}
		if ComputeEntryEventHash(event.PrevHash, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.Seq) != event.Hash {
			return i + 1, false
		}
		prevHash = event.Hash
	}
	return 0, true
}

// RehydrateEntry folds an entry's history back into its lifecycle fields.
func RehydrateEntry(events []EntryEvent) (models.Entry, error) {
	var entry models.Entry
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload entryPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Entry{}, err
		}
		if payload.EntryID != "" {
			entry.EntryID = payload.EntryID
		}
		if payload.QueueID != "" {
			entry.QueueID = payload.QueueID
		}
		if payload.Position != 0 {
			entry.Position = payload.Position
		}
		if payload.Status != "" {
			entry.Status = payload.Status
		}
		if payload.JoinedAt != nil {
			entry.JoinedAt = *payload.JoinedAt
		}
		if payload.CalledAt != nil {
			entry.CalledAt = payload.CalledAt
		}
		if payload.ServedAt != nil {
			entry.ServedAt = payload.ServedAt
		}
	}
	return entry, nil
}
