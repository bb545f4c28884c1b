// Package reconcile imports activity rows from the external source into
// the entry and session stores without double-counting. Imports are keyed
// by a deterministic entry id, so re-running against an unchanged source
// is a no-op.
package reconcile

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"hexdash/internal/entry"
	"hexdash/internal/logging"
	"hexdash/internal/promptgroup"
	"hexdash/internal/session"
	"hexdash/internal/source"
)

// hashPrefixLen is how much of the source row's content hash goes into the
// derived entry id.
const hashPrefixLen = 8

// Reconciler pulls new activity rows and associates them with the active
// session.
type Reconciler struct {
	entries  *entry.Store
	sessions *session.Store
	src      source.Source
}

// New wires a reconciler over the given stores and source.
func New(entries *entry.Store, sessions *session.Store, src source.Source) *Reconciler {
	return &Reconciler{entries: entries, sessions: sessions, src: src}
}

// Result summarizes one reconciliation pass.
type Result struct {
	SessionID       string
	NewEntries      int
	NewTokens       int64
	NewPromptGroups int
	SkippedExisting int
	SkippedNoHash   int
}

// Run performs one reconciliation pass:
// timeout sweep, fetch rows since the active session's start (no upper
// bound - rows created after a later end() call still belong to the
// session, matching the original sync script behavior), derive ids, skip
// known ones, estimate tokens, group prompts, and apply the batch
// additively.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryReconcile, "Run")
	defer timer.Stop()

	// Stale sessions must not receive new entries.
	if _, err := r.sessions.Sweep(); err != nil {
		return nil, fmt.Errorf("timeout sweep: %w", err)
	}

	active, err := r.sessions.GetActive()
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, session.ErrNoActiveSession
	}

	rows, err := r.src.RowsSince(ctx, active.StartTime)
	if err != nil {
		// Source failures leave prior session state untouched.
		return nil, err
	}

	result := &Result{SessionID: active.ID}
	var newEntries []entry.Entry
	var newIDs []string
	var newGroups []string
	seenIDs := make(map[string]bool)
	seenGroups := make(map[string]bool)

	for _, row := range rows {
		if row.Hash == "" {
			// Partial rows never abort the batch.
			result.SkippedNoHash++
			continue
		}
		id := DeriveEntryID(row)
		if active.HasEntry(id) || seenIDs[id] {
			result.SkippedExisting++
			continue
		}
		seenIDs[id] = true

		tokens := EstimateTokens(row.Source)
		newEntries = append(newEntries, buildEntry(row, id, tokens, active))
		newIDs = append(newIDs, id)
		result.NewTokens += int64(tokens)

		key := promptgroup.Key(row.ConversationID, row.RequestID, row.CreatedTime())
		if !active.HasPromptGroup(key) && !seenGroups[key] {
			seenGroups[key] = true
			newGroups = append(newGroups, key)
		}
	}

	result.NewEntries = len(newEntries)
	result.NewPromptGroups = len(newGroups)

	if len(newEntries) == 0 {
		logging.Reconcile("No new activity for session %s (%d already known)", active.ID, result.SkippedExisting)
		return result, nil
	}

	if err := r.entries.AppendAll(newEntries); err != nil {
		return nil, fmt.Errorf("append entries: %w", err)
	}
	if err := r.sessions.ApplyImport(active.ID, newIDs, newGroups, result.NewTokens); err != nil {
		return nil, fmt.Errorf("apply import: %w", err)
	}

	logging.Reconcile("Imported %d entries (+%d tokens, %d prompt groups) into session %s",
		result.NewEntries, result.NewTokens, result.NewPromptGroups, active.ID)
	return result, nil
}

// DeriveEntryID builds the deterministic id for a source row from its
// creation timestamp and the first 8 characters of its content hash.
// Repeated imports of the same underlying activity derive the same id.
func DeriveEntryID(row source.Row) string {
	hash := row.Hash
	if len(hash) > hashPrefixLen {
		hash = hash[:hashPrefixLen]
	}
	return fmt.Sprintf("entry_%d_%s", row.CreatedAt, hash)
}

// EstimateTokens approximates token usage as ceil(characters / 4). The
// system never promises exact counts.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

func buildEntry(row source.Row, id string, tokens int, active *session.Session) entry.Entry {
	file := row.FileName
	if file != "" && row.FileExtension != "" {
		file = file + "." + row.FileExtension
	}

	project := active.ProjectCode
	if project == "" {
		project = active.ProjectName
	}

	meta := map[string]interface{}{
		entry.MetaEntryID:          id,
		entry.MetaSessionID:        active.ID,
		entry.MetaHash:             row.Hash,
		entry.MetaSyncedFromCursor: true,
	}
	if row.ConversationID != "" {
		meta[entry.MetaConversationID] = row.ConversationID
	}
	if row.RequestID != "" {
		meta[entry.MetaRequestID] = row.RequestID
	}

	model := row.Model
	if model == "" {
		model = "auto"
	}

	return entry.Entry{
		Timestamp:  row.CreatedTime(),
		TokensUsed: tokens,
		Model:      model,
		Operation:  "code-generation",
		Project:    project,
		File:       file,
		Metadata:   meta,
	}
}

// RecordManual logs a hand-entered token estimate against the active
// session. The id embeds the timestamp in the estimated form so fallback
// prompt bucketing still works for it.
func (r *Reconciler) RecordManual(tokens int, model, description string) (string, error) {
	if tokens < 0 {
		return "", fmt.Errorf("token estimate must be non-negative")
	}
	active, err := r.sessions.GetActive()
	if err != nil {
		return "", err
	}
	if active == nil {
		return "", session.ErrNoActiveSession
	}

	now := time.Now()
	id := fmt.Sprintf("entry_estimated_%d_manual", now.UnixMilli())
	if model == "" {
		model = "manual"
	}

	e := entry.Entry{
		Timestamp:  now,
		TokensUsed: tokens,
		Model:      model,
		Operation:  "manual-log",
		Project:    active.ProjectCode,
		Metadata: map[string]interface{}{
			entry.MetaEntryID:   id,
			entry.MetaSessionID: active.ID,
		},
	}
	if err := r.entries.Append(e); err != nil {
		return "", err
	}
	if err := r.sessions.ApplyImport(active.ID, []string{id}, nil, int64(tokens)); err != nil {
		return "", err
	}
	if description != "" {
		if err := r.sessions.AddActivity(active.ID, session.Activity{
			Type:        "manual-log",
			Description: description,
		}); err != nil {
			return "", err
		}
	}
	return id, nil
}
