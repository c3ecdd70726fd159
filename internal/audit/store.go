// Package audit persists policy evaluation records to Postgres. The engine
// keeps its own bounded in-memory trail; this store is the durable sink the
// service drains it into when a database is configured.
package audit

import (
	"github.com/yanun0323/errors"

	"main/internal/policy"
	"main/pkg/conn"
	"main/pkg/exception"
)

// Record is the persisted form of one policy evaluation.
type Record struct {
	ID                   uint64 `gorm:"primaryKey;autoIncrement"`
	TimestampNs          uint64 `gorm:"index"`
	OrderID              uint32
	Symbol               string `gorm:"size:16;index"`
	Allowed              bool
	Severity             uint8
	PrimaryViolationID   uint32
	ViolationReason      string `gorm:"size:64"`
	ViolatedPolicyCount  uint16
	EvaluatedPolicyCount uint32
	EvaluationTimeNs     uint64
}

// TableName sets the audit table.
func (Record) TableName() string {
	return "policy_audit"
}

// FromEntry converts an engine audit entry into its persisted form.
func FromEntry(entry policy.AuditEntry) Record {
	return Record{
		TimestampNs:          entry.TimestampNs,
		OrderID:              entry.OrderID,
		Symbol:               entry.Symbol,
		Allowed:              entry.Result.Allowed,
		Severity:             uint8(entry.Result.Severity),
		PrimaryViolationID:   entry.Result.PrimaryViolationID,
		ViolationReason:      entry.Result.Reason(),
		ViolatedPolicyCount:  entry.Result.ViolatedPolicyCount,
		EvaluatedPolicyCount: entry.Result.EvaluatedPolicyCount,
		EvaluationTimeNs:     entry.Result.EvaluationTimeNs,
	}
}

const saveBatchSize = 500

// Store writes audit records through the shared Postgres client.
type Store struct {
	client *conn.Client
}

// NewStore migrates the audit table and returns a store.
func NewStore(client *conn.Client) (*Store, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "audit store")
	}
	if err := client.DB().AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit table")
	}
	return &Store{client: client}, nil
}

// SaveBatch persists engine audit entries.
func (s *Store) SaveBatch(entries []policy.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]Record, len(entries))
	for i, entry := range entries {
		records[i] = FromEntry(entry)
	}
	if err := s.client.DB().CreateInBatches(records, saveBatchSize).Error; err != nil {
		return errors.Wrapf(err, "save %d audit records", len(records))
	}
	return nil
}

// Recent returns records stamped at or after sinceNs, oldest first, capped
// at limit.
func (s *Store) Recent(sinceNs uint64, limit int) ([]Record, error) {
	var records []Record
	query := s.client.DB().
		Where("timestamp_ns >= ?", sinceNs).
		Order("timestamp_ns asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "load audit records")
	}
	return records, nil
}

// Drain persists the engine trail newer than the cursor and returns the
// next cursor value.
func (s *Store) Drain(engine *policy.Engine, cursorNs uint64) (uint64, error) {
	entries := engine.AuditTrail(cursorNs)
	if len(entries) == 0 {
		return cursorNs, nil
	}
	if err := s.SaveBatch(entries); err != nil {
		return cursorNs, err
	}
	return entries[len(entries)-1].TimestampNs + 1, nil
}
