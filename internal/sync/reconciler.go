package sync

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gfreires/feira/internal/store"
	"go.uber.org/zap"
)

// Reconciler manages history sync checkpoints. The main one is the
// history floor: the oldest message timestamp fetched per conversation,
// i.e. how far back the local cache is known to be complete.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func historyFloorKey(conversationID string) string {
	return "history_floor." + conversationID
}

// RecordHistoryFloor lowers the conversation's history floor to ts.
// Floors only move down: a page of recent messages never raises an
// already-deeper floor.
func (r *Reconciler) RecordHistoryFloor(conversationID string, ts int64) error {
	current, err := r.HistoryFloor(conversationID)
	if err != nil {
		return err
	}
	if current > 0 && current <= ts {
		return nil
	}
	return r.UpdateCheckpoint(historyFloorKey(conversationID), strconv.FormatInt(ts, 10))
}

// HistoryFloor returns the oldest cached history timestamp for the
// conversation, or 0 when no history page has been ingested yet.
func (r *Reconciler) HistoryFloor(conversationID string) (int64, error) {
	value, err := r.GetCheckpoint(historyFloorKey(conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return ts, nil
}
