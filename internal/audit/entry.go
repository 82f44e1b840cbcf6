// Package audit is reef's operation journal: an append-only, hash-chained
// record of the mutating operations run against the fleet.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EntryType identifies the kind of journal entry.
type EntryType string

const (
	EntryRestart   EntryType = "restart"
	EntryMigration EntryType = "migration"
	EntryFileWrite EntryType = "file_write"
	EntryBackup    EntryType = "backup"
	EntrySweep     EntryType = "sweep"
)

// FirstSequence is the sequence number of the first entry in a journal.
// Sequences are 1-indexed so that seq 0 means "no previous entry".
const FirstSequence uint64 = 1

// RestartData records a restart outcome.
type RestartData struct {
	Instance string `json:"instance"`
	Success  bool   `json:"success"`
	Method   string `json:"method"`
	Output   string `json:"output,omitempty"`
	OpID     string `json:"op_id,omitempty"`
}

// MigrationData records a migration outcome.
type MigrationData struct {
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	AgentID       string `json:"agent_id"`
	DeleteSource  bool   `json:"delete_source"`
	Success       bool   `json:"success"`
	FailedStep    string `json:"failed_step,omitempty"`
	SourceDeleted bool   `json:"source_deleted"`
	Error         string `json:"error,omitempty"`
	OpID          string `json:"op_id,omitempty"`
}

// FileWriteData records a confined file write. Content is never journaled,
// only its size and digest.
type FileWriteData struct {
	Instance string `json:"instance"`
	Path     string `json:"path"`
	Bytes    int    `json:"bytes"`
	SHA256   string `json:"sha256"`
	Error    string `json:"error,omitempty"`
}

// BackupData records an agent backup pulled to the local machine.
type BackupData struct {
	Instance  string `json:"instance"`
	AgentID   string `json:"agent_id"`
	LocalPath string `json:"local_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SweepData records a fleet-wide fan-out.
type SweepData struct {
	Command string            `json:"command"`
	Units   int               `json:"units"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Entry is a single hash-chained journal entry. Data holds the exact JSON
// bytes that were hashed.
type Entry struct {
	Sequence  uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Type      EntryType       `json:"type"`
	PrevHash  string          `json:"prev"`
	Data      json.RawMessage `json:"data"`
	Hash      string          `json:"hash"`
}

// NewEntry creates an entry with its hash computed.
func NewEntry(seq uint64, prevHash string, entryType EntryType, data any) (*Entry, error) {
	return newEntryAt(seq, prevHash, entryType, data, time.Now().UTC())
}

func newEntryAt(seq uint64, prevHash string, entryType EntryType, data any, ts time.Time) (*Entry, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s entry: %w", entryType, err)
	}
	e := &Entry{
		Sequence:  seq,
		Timestamp: ts,
		Type:      entryType,
		PrevHash:  prevHash,
		Data:      raw,
	}
	e.Hash = e.computeHash()
	return e, nil
}

// computeHash calculates SHA-256(seq || ts || type || prev || data).
func (e *Entry) computeHash() string {
	h := sha256.New()

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Sequence)
	h.Write(seq[:])
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.PrevHash))
	h.Write(e.Data)

	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the entry's hash matches its contents.
func (e *Entry) Verify() bool {
	return e.Hash == e.computeHash()
}

// Decode unmarshals the entry's data into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s entry %d: %w", e.Type, e.Sequence, err)
	}
	return nil
}
