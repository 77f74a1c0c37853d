package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// PendingApproval is a TOOL_APPROVAL_REQUEST that has not yet received a
// TOOL_APPROVAL_RESPONSE.
type PendingApproval struct {
	CallID      string
	RequestedAt int64
}

// errDuplicateApprovalResponse marks the one expected insert conflict
// so the transaction rolls back and SaveEvent can report it benignly.
var errDuplicateApprovalResponse = errors.New("storage: duplicate approval response")

// SaveEvent appends ev to its thread. The sequence read and the insert
// run inside one transaction: concurrent appenders to the same thread
// must never observe the same MAX(sequence), since append order is the
// order readers depend on. It returns (false, nil) when ev is a
// TOOL_APPROVAL_RESPONSE whose call_id already has one on record, the
// sole expected duplicate, caught via the unique partial index (or, in
// degraded mode, the in-memory equivalent check). Any other constraint
// violation is returned as an error.
func (s *Store) SaveEvent(ctx context.Context, ev types.Event) (bool, error) {
	if s.degraded {
		return s.mem.saveEvent(ev), nil
	}

	payload, err := encodePayload(ev)
	if err != nil {
		return false, fmt.Errorf("storage: encode event payload: %w", err)
	}

	callID := callIDOf(ev)
	var callIDArg any
	if callID != "" {
		callIDArg = callID
	}

	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		seq, err := nextSequence(ctx, tx, ev.ThreadID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, thread_id, sequence, tag, call_id, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.ThreadID, seq, string(ev.Tag), callIDArg, ev.Timestamp, string(payload),
		)
		if err != nil {
			if ev.Tag == types.TagToolApprovalResponse && isUniqueViolation(err) {
				return errDuplicateApprovalResponse
			}
			return fmt.Errorf("storage: insert event: %w", err)
		}
		return nil
	})
	if errors.Is(err, errDuplicateApprovalResponse) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func nextSequence(ctx context.Context, tx *sql.Tx, threadID string) (int64, error) {
	var max sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE thread_id = ?`, threadID)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("storage: next sequence: %w", err)
	}
	return max.Int64 + 1, nil
}

// LoadEvents returns the complete, append-ordered history for a thread.
func (s *Store) LoadEvents(ctx context.Context, threadID string) ([]types.Event, error) {
	if s.degraded {
		return s.mem.loadEvents(threadID), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, tag, timestamp, payload FROM events WHERE thread_id = ? ORDER BY sequence ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var ev types.Event
		var tag string
		var payloadRaw string
		if err := rows.Scan(&ev.ID, &ev.ThreadID, &tag, &ev.Timestamp, &payloadRaw); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		ev.Tag = types.Tag(tag)
		payload, err := decodePayload(ev.Tag, []byte(payloadRaw))
		if err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PendingApprovals returns TOOL_APPROVAL_REQUEST events in threadID that
// lack a matching TOOL_APPROVAL_RESPONSE, oldest first.
func (s *Store) PendingApprovals(ctx context.Context, threadID string) ([]PendingApproval, error) {
	if s.degraded {
		return s.mem.pendingApprovals(threadID), nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT req.call_id, req.timestamp
		FROM events req
		WHERE req.thread_id = ? AND req.tag = 'TOOL_APPROVAL_REQUEST'
		AND NOT EXISTS (
			SELECT 1 FROM events resp
			WHERE resp.thread_id = req.thread_id
			AND resp.tag = 'TOOL_APPROVAL_RESPONSE'
			AND resp.call_id = req.call_id
		)
		ORDER BY req.sequence ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("storage: pending approvals: %w", err)
	}
	defer rows.Close()

	var out []PendingApproval
	for rows.Next() {
		var p PendingApproval
		if err := rows.Scan(&p.CallID, &p.RequestedAt); err != nil {
			return nil, fmt.Errorf("storage: scan pending approval: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApprovalDecision returns the stored decision for callID within
// threadID, if one has been recorded.
func (s *Store) ApprovalDecision(ctx context.Context, threadID, callID string) (types.ApprovalDecision, bool, error) {
	if s.degraded {
		d, ok := s.mem.approvalDecision(threadID, callID)
		return d, ok, nil
	}

	var payloadRaw string
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM events WHERE thread_id = ? AND tag = 'TOOL_APPROVAL_RESPONSE' AND call_id = ?`,
		threadID, callID,
	)
	if err := row.Scan(&payloadRaw); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: approval decision: %w", err)
	}

	payload, err := decodePayload(types.TagToolApprovalResponse, []byte(payloadRaw))
	if err != nil {
		return "", false, err
	}
	p, ok := payload.(types.ToolApprovalResponsePayload)
	if !ok {
		return "", false, nil
	}
	return p.Decision, true, nil
}
