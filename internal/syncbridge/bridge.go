// Package syncbridge reconciles the three physical copies of the session
// data: the authoritative file tier, the local cache tier, and the
// optional identity-linked remote store. Tier failures are logged and
// swallowed; cross-device sync is an enhancement, never a requirement.
package syncbridge

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hexdash/internal/logging"
	"hexdash/internal/remote"
	"hexdash/internal/session"
)

// Bridge connects the tiers. The remote store and owner id are optional;
// without them SyncRemote is a no-op.
type Bridge struct {
	file    session.Storage
	cache   session.Storage
	remote  remote.Store
	ownerID string
}

// New builds a bridge over the given tiers. remoteStore may be nil.
func New(file, cache session.Storage, remoteStore remote.Store, ownerID string) *Bridge {
	return &Bridge{file: file, cache: cache, remote: remoteStore, ownerID: ownerID}
}

// LocalResult summarizes one file-to-cache merge.
type LocalResult struct {
	Overwritten int // file-tier sessions written over cached copies
	Appended    int // file-tier sessions new to the cache
	Preserved   int // cache-only sessions left untouched
}

// SyncLocal merges the file tier into the cache. The file tier is
// authoritative: its version of a session always wins, changed or not, so
// the two copies end up byte-identical. Sessions only the cache knows
// about are preserved. Runs at startup and on manual trigger; failures
// degrade to whichever tiers remain.
func (b *Bridge) SyncLocal() *LocalResult {
	timer := logging.StartTimer(logging.CategorySync, "SyncLocal")
	defer timer.Stop()

	result := &LocalResult{}

	fileSessions, err := b.file.Load()
	if err != nil {
		logging.SyncWarn("File tier unavailable, skipping local sync: %v", err)
		return result
	}
	cached, err := b.cache.Load()
	if err != nil {
		logging.SyncWarn("Cache tier read failed, rebuilding from file tier: %v", err)
		cached = nil
	}

	cachedByID := make(map[string]int, len(cached))
	for i, sess := range cached {
		cachedByID[sess.ID] = i
	}

	merged := make([]*session.Session, len(cached))
	copy(merged, cached)
	seen := make(map[string]bool, len(fileSessions))

	for _, sess := range fileSessions {
		seen[sess.ID] = true
		if i, ok := cachedByID[sess.ID]; ok {
			merged[i] = sess
			result.Overwritten++
		} else {
			merged = append(merged, sess)
			result.Appended++
		}
	}
	for _, sess := range cached {
		if !seen[sess.ID] {
			result.Preserved++
		}
	}

	if err := b.cache.Save(merged); err != nil {
		logging.SyncWarn("Cache tier write failed: %v", err)
		return result
	}

	activeID, err := b.file.LoadActiveID()
	if err != nil {
		logging.SyncWarn("File pointer read failed, skipping pointer copy: %v", err)
	} else if err := b.cache.SaveActiveID(activeID); err != nil {
		logging.SyncWarn("Cache pointer write failed: %v", err)
	}

	logging.Sync("Local sync: %d overwritten, %d appended, %d cache-only preserved",
		result.Overwritten, result.Appended, result.Preserved)
	return result
}

// ProjectDocument is the per-project payload stored in the remote tier.
// Version is a creation-time-based stamp; the higher side replaces the
// other wholesale.
type ProjectDocument struct {
	ProjectCode  string             `json:"projectCode"`
	TotalTokens  int64              `json:"totalTokens"`
	TotalPrompts int64              `json:"totalPrompts"`
	SessionCount int                `json:"sessionCount"`
	Sessions     []*session.Session `json:"sessions"`
	LastUpdated  time.Time          `json:"lastUpdated"`
	Version      int64              `json:"version"`
}

// ProjectSummary is one project's line in the project-list document. The
// session payloads live in the per-project documents, not here.
type ProjectSummary struct {
	ProjectCode  string `json:"projectCode"`
	TotalTokens  int64  `json:"totalTokens"`
	TotalPrompts int64  `json:"totalPrompts"`
	SessionCount int    `json:"sessionCount"`
}

// ProjectListDocument is the whole-project-list payload stored under the
// fixed key. It follows the same version-stamp rule as the per-project
// documents: the higher side replaces the other wholesale.
type ProjectListDocument struct {
	Projects    []ProjectSummary `json:"projects"`
	LastUpdated time.Time        `json:"lastUpdated"`
	Version     int64            `json:"version"`
}

// RemoteResult summarizes one cache-to-remote merge.
type RemoteResult struct {
	Pushed  int // projects where the local document won or was first
	Adopted int // projects where the remote document won
	Failed  int // projects whose remote round-trip failed
}

// SyncRemote merges the cache tier with the remote store per project.
// Only identity-linked runs (remote store plus owner id) do anything.
// Project pushes run concurrently; every failure is logged and swallowed
// so a hung or missing remote never blocks local operation.
func (b *Bridge) SyncRemote(ctx context.Context) *RemoteResult {
	result := &RemoteResult{}
	if b.remote == nil || b.ownerID == "" {
		return result
	}

	timer := logging.StartTimer(logging.CategorySync, "SyncRemote")
	defer timer.Stop()

	cached, err := b.cache.Load()
	if err != nil || len(cached) == 0 {
		return result
	}

	byProject := make(map[string][]*session.Session)
	for _, sess := range cached {
		if sess.ProjectCode == "" {
			continue
		}
		byProject[sess.ProjectCode] = append(byProject[sess.ProjectCode], sess)
	}

	docs := make([]ProjectDocument, 0, len(byProject))
	for code, sessions := range byProject {
		docs = append(docs, buildProjectDocument(code, sessions))
	}

	var mu sync.Mutex
	adoptions := make(chan ProjectDocument, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	for _, local := range docs {
		local := local // per-iteration copy; required under the go 1.21 directive
		g.Go(func() error {
			adopted, err := b.mergeProject(gctx, local)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.SyncWarn("Remote sync failed for %s: %v", local.ProjectCode, err)
				result.Failed++
				return nil // swallowed: remote failures never abort the pass
			}
			if adopted != nil {
				adoptions <- *adopted
				result.Adopted++
			} else {
				result.Pushed++
			}
			return nil
		})
	}
	_ = g.Wait()
	close(adoptions)

	// Apply remote-won documents to the cache wholesale.
	for doc := range adoptions {
		b.adoptIntoCache(doc)
	}

	b.syncProjectList(ctx, docs)

	logging.Sync("Remote sync: %d pushed, %d adopted, %d failed",
		result.Pushed, result.Adopted, result.Failed)
	return result
}

// mergeProject runs the versioned whole-document merge for one project.
// Returns the remote document when it wins, nil when the local side was
// pushed.
func (b *Bridge) mergeProject(ctx context.Context, local ProjectDocument) (*ProjectDocument, error) {
	raw, err := b.remote.Read(ctx, remote.CollectionProjectStats, local.ProjectCode, b.ownerID)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		// First contact: local payload becomes the initial remote state.
		return nil, b.push(ctx, local)
	}

	var theirs ProjectDocument
	if err := json.Unmarshal(raw, &theirs); err != nil {
		// Unreadable remote document: replace it with ours.
		return nil, b.push(ctx, local)
	}

	if theirs.Version > local.Version {
		return &theirs, nil
	}
	return nil, b.push(ctx, local)
}

func (b *Bridge) push(ctx context.Context, doc ProjectDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.remote.Write(ctx, remote.CollectionProjectStats, doc.ProjectCode, b.ownerID, raw)
}

// syncProjectList merges the whole-project-list document under the fixed
// key. Same versioned whole-document rule as the per-project merge: a
// newer remote list stands, otherwise the local one is pushed. Failures
// are logged and swallowed like every other remote operation.
func (b *Bridge) syncProjectList(ctx context.Context, docs []ProjectDocument) {
	local := buildProjectList(docs)

	raw, err := b.remote.Read(ctx, remote.CollectionProjects, remote.ProjectsKey, b.ownerID)
	if err != nil {
		logging.SyncWarn("Project list read failed: %v", err)
		return
	}
	if raw != nil {
		var theirs ProjectListDocument
		if err := json.Unmarshal(raw, &theirs); err == nil && theirs.Version > local.Version {
			return
		}
	}

	payload, err := json.Marshal(local)
	if err != nil {
		logging.SyncWarn("Project list encode failed: %v", err)
		return
	}
	if err := b.remote.Write(ctx, remote.CollectionProjects, remote.ProjectsKey, b.ownerID, payload); err != nil {
		logging.SyncWarn("Project list push failed: %v", err)
	}
}

// buildProjectList condenses the per-project documents into summary lines,
// ordered by project code. The list version is the newest per-project
// stamp so either document set can decide a merge.
func buildProjectList(docs []ProjectDocument) ProjectListDocument {
	list := ProjectListDocument{
		Projects:    make([]ProjectSummary, 0, len(docs)),
		LastUpdated: time.Now(),
	}
	for _, doc := range docs {
		list.Projects = append(list.Projects, ProjectSummary{
			ProjectCode:  doc.ProjectCode,
			TotalTokens:  doc.TotalTokens,
			TotalPrompts: doc.TotalPrompts,
			SessionCount: doc.SessionCount,
		})
		if doc.Version > list.Version {
			list.Version = doc.Version
		}
	}
	sort.Slice(list.Projects, func(i, j int) bool {
		return list.Projects[i].ProjectCode < list.Projects[j].ProjectCode
	})
	return list
}

// adoptIntoCache replaces the cache's sessions for one project with the
// remote document's payload (whole-document overwrite, no field merge).
func (b *Bridge) adoptIntoCache(doc ProjectDocument) {
	cached, err := b.cache.Load()
	if err != nil {
		return
	}
	var merged []*session.Session
	for _, sess := range cached {
		if sess.ProjectCode != doc.ProjectCode {
			merged = append(merged, sess)
		}
	}
	merged = append(merged, doc.Sessions...)
	if err := b.cache.Save(merged); err != nil {
		logging.SyncWarn("Failed to adopt remote document for %s: %v", doc.ProjectCode, err)
	}
}

// RemotePromptCount fetches the remotely-computed prompt count for a
// project, when the remote tier has one. Callers fall back to local
// derivation on any miss or failure.
func (b *Bridge) RemotePromptCount(ctx context.Context, projectCode string) (int64, bool) {
	if b.remote == nil || b.ownerID == "" || projectCode == "" {
		return 0, false
	}
	raw, err := b.remote.Read(ctx, remote.CollectionProjectStats, projectCode, b.ownerID)
	if err != nil || raw == nil {
		return 0, false
	}
	var doc ProjectDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false
	}
	if doc.TotalPrompts <= 0 {
		return 0, false
	}
	return doc.TotalPrompts, true
}

// buildProjectDocument assembles the remote payload for one project. The
// version stamp is the newest session boundary in the payload, so a tier
// that has seen newer work always carries the higher stamp.
func buildProjectDocument(code string, sessions []*session.Session) ProjectDocument {
	doc := ProjectDocument{
		ProjectCode:  code,
		SessionCount: len(sessions),
		Sessions:     sessions,
		LastUpdated:  time.Now(),
	}
	groups := make(map[string]bool)
	for _, sess := range sessions {
		doc.TotalTokens += sess.TotalTokens
		for _, g := range sess.PromptGroups {
			groups[g] = true
		}
		if stamp := sess.StartTime.UnixMilli(); stamp > doc.Version {
			doc.Version = stamp
		}
		if sess.EndTime != nil {
			if stamp := sess.EndTime.UnixMilli(); stamp > doc.Version {
				doc.Version = stamp
			}
		}
	}
	doc.TotalPrompts = int64(len(groups))
	return doc
}
