package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/pegvault/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CycleRecord is a stored keeper cycle.
type CycleRecord struct {
	ID int64 `json:"id"`
	types.CycleSnapshot
}

// RebaseRecord is a stored rebase.
type RebaseRecord struct {
	ID      int64  `json:"id"`
	CycleID string `json:"cycle_id,omitempty"`
	types.RebaseResult
}

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func (s *Store) SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal cycle snapshot: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, duration_ms, success, error_message,
			initial_total_assets, final_total_assets, initial_total_supply, final_total_supply,
			snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING snapshot_id`

	var snapshotID int64
	err = s.queryRow(ctx, query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp.UnixMilli(), snapshot.Duration.Milliseconds(),
		snapshot.Success, snapshot.Error,
		amountString(snapshot.Before.TotalAssets), amountString(snapshot.After.TotalAssets),
		amountString(snapshot.Before.TotalSupply), amountString(snapshot.After.TotalSupply),
		string(snapshotJSON),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	stateLogger.Info().
		Int64("snapshot_id", snapshotID).
		Uint64("cycle_number", snapshot.CycleNumber).
		Str("final_total_assets", amountString(snapshot.After.TotalAssets)).
		Msg("Cycle snapshot saved to database")
	return snapshotID, nil
}

// GetRecentCycles retrieves the most recent cycle snapshots, newest first.
func (s *Store) GetRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	limit = clampLimit(limit)
	rows, err := s.query(ctx, `
		SELECT snapshot_id, snapshot
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []CycleRecord
	for rows.Next() {
		var (
			record CycleRecord
			raw    []byte
		)
		if err := rows.Scan(&record.ID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		if err := json.Unmarshal(raw, &record.CycleSnapshot); err != nil {
			stateLogger.Error().Err(err).Int64("snapshot_id", record.ID).Msg("Failed to unmarshal cycle snapshot")
			continue // Skip this row and continue with others
		}
		cycles = append(cycles, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	stateLogger.Debug().Int("count", len(cycles)).Int("limit", limit).Msg("Retrieved recent cycles")
	return cycles, nil
}

// GetCycleByID retrieves a specific cycle by its snapshot id.
func (s *Store) GetCycleByID(ctx context.Context, snapshotID int64) (CycleRecord, error) {
	record := CycleRecord{ID: snapshotID}
	var raw []byte
	err := s.queryRow(ctx, `SELECT snapshot FROM cycle_snapshots WHERE snapshot_id = $1`, snapshotID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, fmt.Errorf("cycle %d: %w", snapshotID, ErrNotFound)
		}
		return record, fmt.Errorf("failed to query cycle by ID: %w", err)
	}
	if err := json.Unmarshal(raw, &record.CycleSnapshot); err != nil {
		return record, fmt.Errorf("failed to unmarshal cycle snapshot: %w", err)
	}
	return record, nil
}

// SaveRebase records an applied rebase. cycleID is empty for rebases outside a keeper cycle.
func (s *Store) SaveRebase(ctx context.Context, cycleID string, rebase types.RebaseResult) error {
	ts := rebase.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO rebases (
			cycle_id, rebase_timestamp, total_value, old_supply, new_supply, trustee_fee, credits_per_token
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cycleID, ts.UnixMilli(),
		amountString(rebase.TotalValue), amountString(rebase.OldSupply), amountString(rebase.NewSupply),
		amountString(rebase.TrusteeFee), amountString(rebase.RebasingCreditsPerToken),
	)
	if err != nil {
		return fmt.Errorf("failed to save rebase: %w", err)
	}
	stateLogger.Debug().Str("cycle_id", cycleID).Str("new_supply", amountString(rebase.NewSupply)).Msg("Rebase saved")
	return nil
}

// GetRecentRebases retrieves the most recent rebases, newest first.
func (s *Store) GetRecentRebases(ctx context.Context, limit int) ([]RebaseRecord, error) {
	return s.rebases(ctx, `
		SELECT rebase_id, cycle_id, rebase_timestamp, total_value, old_supply, new_supply, trustee_fee, credits_per_token
		FROM rebases
		ORDER BY rebase_timestamp DESC, rebase_id DESC
		LIMIT $1`, clampLimit(limit))
}

func (s *Store) rebases(ctx context.Context, query string, args ...any) ([]RebaseRecord, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebases: %w", err)
	}
	defer rows.Close()

	var records []RebaseRecord
	for rows.Next() {
		var (
			r                                              RebaseRecord
			cycleID                                        sql.NullString
			ts                                             int64
			totalValue, oldSupply, newSupply, fee, credits string
		)
		if err := rows.Scan(&r.ID, &cycleID, &ts, &totalValue, &oldSupply, &newSupply, &fee, &credits); err != nil {
			return nil, fmt.Errorf("failed to scan rebase row: %w", err)
		}
		r.CycleID = cycleID.String
		r.Applied = true
		r.Timestamp = time.UnixMilli(ts).UTC()
		var p amountParser
		r.TotalValue = p.parse(totalValue)
		r.OldSupply = p.parse(oldSupply)
		r.NewSupply = p.parse(newSupply)
		r.TrusteeFee = p.parse(fee)
		r.RebasingCreditsPerToken = p.parse(credits)
		if p.err != nil {
			return nil, fmt.Errorf("rebase %d: %w", r.ID, p.err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 10 // Default limit
	}
	return limit
}
