/*

This file contains the persistence of whole-ledger exports.

Each export is stored with the genesis version it was written with. Loading goes through the vault's decoder,
so exports written by an older release are migrated on the way out.

*/

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/pegvault/internal/vault"
)

// LedgerRecord is a stored ledger export.
type LedgerRecord struct {
	ID        int64         `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Genesis   vault.Genesis `json:"genesis"`
}

// SaveLedgerSnapshot stores an export of the ledger.
func (s *Store) SaveLedgerSnapshot(ctx context.Context, g vault.Genesis) (int64, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ledger: %w", err)
	}

	var ledgerID int64
	err = s.queryRow(ctx, `
		INSERT INTO ledger_snapshots (created_at, genesis_version, genesis)
		VALUES ($1, $2, $3)
		RETURNING ledger_id`,
		time.Now().UnixMilli(), g.Version, string(data),
	).Scan(&ledgerID)
	if err != nil {
		return 0, fmt.Errorf("failed to save ledger snapshot: %w", err)
	}

	stateLogger.Info().
		Int64("ledger_id", ledgerID).
		Int("genesis_version", g.Version).
		Int("strategies", len(g.Strategies)).
		Msg("Saved ledger snapshot")
	return ledgerID, nil
}

// LoadLatestLedger returns the most recent ledger export, migrated to the current genesis version.
// It returns ErrNotFound when nothing was ever saved.
func (s *Store) LoadLatestLedger(ctx context.Context) (LedgerRecord, error) {
	var (
		record    LedgerRecord
		createdAt int64
		version   int
		raw       []byte
	)
	err := s.queryRow(ctx, `
		SELECT ledger_id, created_at, genesis_version, genesis
		FROM ledger_snapshots
		ORDER BY created_at DESC, ledger_id DESC
		LIMIT 1`).Scan(&record.ID, &createdAt, &version, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, fmt.Errorf("ledger snapshot: %w", ErrNotFound)
		}
		return record, fmt.Errorf("failed to load ledger snapshot: %w", err)
	}

	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.Genesis, err = vault.DecodeGenesis(raw)
	if err != nil {
		return record, fmt.Errorf("ledger snapshot %d: %w", record.ID, err)
	}
	if version != record.Genesis.Version {
		stateLogger.Info().
			Int64("ledger_id", record.ID).
			Int("stored_version", version).
			Int("genesis_version", record.Genesis.Version).
			Msg("Loaded ledger snapshot from an older genesis version")
	}
	return record, nil
}

// PruneLedgerSnapshots keeps the newest keep exports and deletes the rest.
func (s *Store) PruneLedgerSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("must keep at least one ledger snapshot, got %d", keep)
	}
	result, err := s.exec(ctx, `
		DELETE FROM ledger_snapshots
		WHERE ledger_id NOT IN (
			SELECT ledger_id FROM ledger_snapshots ORDER BY created_at DESC, ledger_id DESC LIMIT $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		stateLogger.Debug().Int64("deleted", n).Int("kept", keep).Msg("Pruned ledger snapshots")
	}
	return n, nil
}
