package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dolt-chroma-sync/internal/models"
)

// Checkout switches the repository to another branch and reconciles the
// vector store to the new branch's content. With preserveLocalChanges, new
// and modified vector edits are detected beforehand and their documents keep
// their content across the switch; everything else is reconciled to the new
// HEAD. Checking out the current branch is a no-op unless forceReset is set.
func (s *SyncService) Checkout(ctx context.Context, branch string, createNew, preserveLocalChanges, forceReset bool) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionDoltToChroma)
	return s.checkoutLocked(ctx, branch, createNew, preserveLocalChanges, forceReset)
}

func (s *SyncService) checkoutLocked(ctx context.Context, branch string, createNew, preserve, forceReset bool) (*models.SyncResult, error) {
	if branch == "" {
		return models.FailedResult(models.DirectionDoltToChroma, fmt.Errorf("no branch given")), nil
	}
	current, err := s.version.CurrentBranch(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if current == branch && !forceReset {
		return &models.SyncResult{
			Status:    models.SyncStatusNoChanges,
			Direction: models.DirectionDoltToChroma,
			Message:   "already on branch " + branch,
		}, nil
	}

	collections, err := s.knownCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	// Carry set: documents with uncommitted vector edits keep their content
	// across the switch when the caller asks for preservation. Only new and
	// modified documents carry; deletions are reconciled like everything
	// else.
	carry := make(map[string]map[string]struct{})
	if preserve {
		detected, err := s.detector.DetectAll(ctx, collections)
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		for col, changes := range detected {
			ids := make(map[string]struct{})
			for _, doc := range changes.New {
				ids[doc.DocID] = struct{}{}
			}
			for _, doc := range changes.Modified {
				ids[doc.DocID] = struct{}{}
			}
			if len(ids) > 0 {
				carry[col] = ids
			}
		}
	}
	if forceReset {
		if err := s.version.ResetHard(ctx, "HEAD"); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	if err := s.version.Checkout(ctx, branch, createNew); err != nil {
		if !isWorkingSetError(err) {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		// A dirty working set blocks the switch. When preserving, the carry
		// set already holds the vector-side edits, so the versioned working
		// set is safe to drop and the checkout retried once. Otherwise the
		// caller has to commit or force a reset.
		if !preserve {
			return &models.SyncResult{
				Status:    models.SyncStatusLocalChangesExist,
				Direction: models.DirectionDoltToChroma,
				Error:     err.Error(),
			}, nil
		}
		if resetErr := s.version.ResetHard(ctx, "HEAD"); resetErr != nil {
			return models.FailedResult(models.DirectionDoltToChroma, resetErr), nil
		}
		if err := s.version.Checkout(ctx, branch, createNew); err != nil {
			return &models.SyncResult{
				Status:    models.SyncStatusLocalChangesExist,
				Direction: models.DirectionDoltToChroma,
				Error:     err.Error(),
			}, nil
		}
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	doltCollections, err := s.delta.AvailableCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	doltSet := make(map[string]struct{}, len(doltCollections))
	for _, name := range doltCollections {
		doltSet[name] = struct{}{}
	}

	for _, collection := range collections {
		carried := carry[collection]
		_, inDolt := doltSet[collection]

		if !inDolt && len(carried) == 0 {
			// The new branch does not know this collection and nothing in it
			// carries. It goes away.
			exists, err := s.vector.CollectionExists(ctx, collection)
			if err != nil {
				return models.FailedResult(models.DirectionDoltToChroma, err), nil
			}
			if exists {
				if err := s.vector.DeleteCollection(ctx, collection); err != nil {
					return models.FailedResult(models.DirectionDoltToChroma, err), nil
				}
				total.Deleted++
			}
			continue
		}

		var r *models.SyncResult
		if len(carried) > 0 {
			r, err = s.reconcileToHeadLocked(ctx, collection, branch, head, carried)
		} else {
			if record, err := s.state.Get(ctx, s.repoPath, branch, collection); err == nil && record == nil {
				s.logger.Printf("no sync state for %s on %s, rebuilding", collection, branch)
			}
			r, err = s.fullSyncLocked(ctx, collection)
		}
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		if r.Status == models.SyncStatusFailed {
			return r, nil
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	return total, nil
}

// reconcileToHeadLocked makes a collection match the new HEAD exactly, except
// for the carried documents, which keep their vector content and local-change
// flags. Vector documents absent from HEAD and not carried are removed;
// tracked documents whose vector content differs from HEAD are rewritten.
func (s *SyncService) reconcileToHeadLocked(ctx context.Context, collection, branch, head string, carried map[string]struct{}) (*models.SyncResult, error) {
	docs, err := s.delta.AllDocuments(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	doltByID := make(map[string]*models.Document, len(docs))
	for _, doc := range docs {
		doc.EnsureHash()
		doltByID[doc.DocID] = doc
	}

	exists, err := s.vector.CollectionExists(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if !exists {
		if err := s.vector.CreateCollection(ctx, collection, nil); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	chunks, err := s.vector.GetChunks(ctx, collection, nil, nil)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	type vectorDoc struct {
		hash     string
		chunkIDs []string
	}
	vectorDocs := make(map[string]*vectorDoc)
	for _, ch := range chunks {
		vd := vectorDocs[ch.DocID]
		if vd == nil {
			vd = &vectorDoc{}
			vectorDocs[ch.DocID] = vd
		}
		vd.chunkIDs = append(vd.chunkIDs, ch.ID)
		if ch.ContentHash != "" {
			vd.hash = ch.ContentHash
		}
	}

	result := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}

	// Stale documents: in the vector store, absent from the new HEAD, and
	// not carried.
	var stale []string
	for docID, vd := range vectorDocs {
		if _, keep := carried[docID]; keep {
			continue
		}
		if _, tracked := doltByID[docID]; tracked {
			continue
		}
		stale = append(stale, vd.chunkIDs...)
		result.Deleted++
	}
	if len(stale) > 0 {
		if err := s.vector.DeleteChunks(ctx, collection, stale); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	// Tracked documents: rewrite when the vector content differs from HEAD,
	// add when missing.
	totalChunks := 0
	for _, doc := range docs {
		if _, keep := carried[doc.DocID]; keep {
			continue
		}
		vd, inVector := vectorDocs[doc.DocID]
		if inVector && vd.hash == doc.ContentHash {
			continue
		}
		doc.CollectionName = collection
		newChunks, err := s.chunker.Chunk(doc)
		if err != nil {
			s.logger.Printf("WARN: skipping %s: %v", doc.DocID, err)
			continue
		}
		if inVector {
			if err := s.vector.DeleteChunks(ctx, collection, vd.chunkIDs); err != nil {
				return models.FailedResult(models.DirectionDoltToChroma, err), nil
			}
		}
		if err := s.vector.AddChunks(ctx, collection, newChunks, head, false); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		ids := make([]string, len(newChunks))
		for i, ch := range newChunks {
			ids[i] = ch.ID
		}
		action := models.SyncActionAdded
		if inVector {
			action = models.SyncActionModified
		}
		if err := s.delta.RecordSync(ctx, doc.DocID, collection, doc.ContentHash, ids, models.DirectionDoltToChroma, action); err != nil {
			s.logger.Printf("WARN: failed to record sync of %s: %v", doc.DocID, err)
		}
		if inVector {
			result.Modified++
		} else {
			result.Added++
		}
		totalChunks += len(newChunks)
	}
	result.ChunksProcessed = totalChunks

	// Branch-scoped pointer for the new branch only.
	if err := s.state.Upsert(ctx, &models.SyncStateRecord{
		RepoPath:       s.repoPath,
		Branch:         branch,
		CollectionName: collection,
		LastSyncCommit: head,
		DocumentCount:  len(doltByID),
		ChunkCount:     totalChunks,
		SyncStatus:     models.SyncStateSynced,
	}); err != nil {
		s.logger.Printf("WARN: failed to upsert sync state for %s: %v", collection, err)
	}
	return result, nil
}

// Merge merges another branch into the current one. Conflicts surface as a
// result payload without any vector mutation; the caller resolves them in
// the versioning engine and retries. On success the vector store is advanced
// by incremental replay.
func (s *SyncService) Merge(ctx context.Context, branch string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionBidirectional)

	if branch == "" {
		return models.FailedResult(models.DirectionBidirectional, fmt.Errorf("no branch given")), nil
	}

	merge, err := s.version.Merge(ctx, branch)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}
	if merge.HasConflicts {
		conflicts, cerr := s.collectConflicts(ctx)
		if cerr != nil {
			s.logger.Printf("WARN: failed to read conflicts: %v", cerr)
		}
		return &models.SyncResult{
			Status:    models.SyncStatusConflicts,
			Direction: models.DirectionBidirectional,
			Message:   merge.Message,
			Conflicts: conflicts,
		}, nil
	}

	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: merge.Hash,
	}
	collections, err := s.delta.AvailableCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	for _, collection := range collections {
		r, err := s.incrementalSyncLocked(ctx, collection)
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	return total, nil
}

// collectConflicts reads the engine's conflict relation for the documents
// table and serializes both sides of every conflicted row.
func (s *SyncService) collectConflicts(ctx context.Context) ([]models.ConflictInfo, error) {
	rows, err := s.version.GetConflicts(ctx, TableDocuments)
	if err != nil {
		return nil, err
	}
	conflicts := make([]models.ConflictInfo, 0, len(rows))
	for _, row := range rows {
		ours := make(map[string]interface{})
		theirs := make(map[string]interface{})
		for key, value := range row {
			switch {
			case strings.HasPrefix(key, "our_"):
				ours[strings.TrimPrefix(key, "our_")] = value
			case strings.HasPrefix(key, "their_"):
				theirs[strings.TrimPrefix(key, "their_")] = value
			}
		}
		docID, _ := row.GetString("our_doc_id")
		if docID == "" {
			docID, _ = row.GetString("their_doc_id")
		}
		if docID == "" {
			docID, _ = row.GetString("base_doc_id")
		}
		oursJSON, _ := json.Marshal(ours)
		theirsJSON, _ := json.Marshal(theirs)
		conflicts = append(conflicts, models.ConflictInfo{
			DocID:  docID,
			Ours:   string(oursJSON),
			Theirs: string(theirsJSON),
		})
	}
	return conflicts, nil
}

// Reset moves HEAD to ref. A hard reset also rebuilds every collection in
// the vector store to match; a soft reset only moves the pointer.
func (s *SyncService) Reset(ctx context.Context, ref string, hard bool) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionDoltToChroma)

	if ref == "" {
		ref = "HEAD"
	}
	if !hard {
		if err := s.version.ResetSoft(ctx, ref); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		head, err := s.version.HeadCommit(ctx)
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		return &models.SyncResult{
			Status:     models.SyncStatusCompleted,
			Direction:  models.DirectionDoltToChroma,
			CommitHash: head,
			Message:    "soft reset, vector store untouched",
		}, nil
	}

	if err := s.version.ResetHard(ctx, ref); err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	collections, err := s.delta.AvailableCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	for _, collection := range collections {
		r, err := s.fullSyncLocked(ctx, collection)
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	return total, nil
}

// Pull fetches and merges from a remote, then replays the incoming commits
// into the vector store. Uncommitted local vector edits block the pull
// unless the auto-commit policy is on, in which case they are committed
// first.
func (s *SyncService) Pull(ctx context.Context, remote string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionDoltToChroma)

	if remote == "" {
		remote = "origin"
	}

	collections, err := s.knownCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	detected, err := s.detector.DetectAll(ctx, collections)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	pending := &models.LocalChanges{}
	for _, changes := range detected {
		pending.New = append(pending.New, changes.New...)
		pending.Modified = append(pending.Modified, changes.Modified...)
		pending.Deleted = append(pending.Deleted, changes.Deleted...)
	}
	if pending.HasChanges() {
		if !s.autoCommit {
			return &models.SyncResult{
				Status:       models.SyncStatusLocalChangesExist,
				Direction:    models.DirectionDoltToChroma,
				Message:      fmt.Sprintf("%d local change(s) must be committed before pulling", pending.Count()),
				LocalChanges: pending,
			}, nil
		}
		if _, err := s.commitLocked(ctx, "auto-commit before pull", ""); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	if err := s.ensureCleanWorkingDirectory(ctx); err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if err := s.version.Pull(ctx, remote); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "conflict") {
			conflicts, cerr := s.collectConflicts(ctx)
			if cerr != nil {
				s.logger.Printf("WARN: failed to read conflicts: %v", cerr)
			}
			return &models.SyncResult{
				Status:    models.SyncStatusConflicts,
				Direction: models.DirectionDoltToChroma,
				Error:     err.Error(),
				Conflicts: conflicts,
			}, nil
		}
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	doltCollections, err := s.delta.AvailableCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	for _, collection := range doltCollections {
		r, err := s.incrementalSyncLocked(ctx, collection)
		if err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	return total, nil
}

// Push commits pending vector edits when the auto-commit policy is on, then
// pushes the current branch to the remote.
func (s *SyncService) Push(ctx context.Context, remote, branch string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionChromaToDolt)

	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		current, err := s.version.CurrentBranch(ctx)
		if err != nil {
			return models.FailedResult(models.DirectionChromaToDolt, err), nil
		}
		branch = current
	}

	if s.autoCommit {
		if _, err := s.commitLocked(ctx, "auto-commit before push", ""); err != nil {
			return models.FailedResult(models.DirectionChromaToDolt, err), nil
		}
	}
	if err := s.version.Push(ctx, remote, branch); err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	return &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionChromaToDolt,
		CommitHash: head,
		Message:    "pushed " + branch + " to " + remote,
	}, nil
}

// Import bulk-loads documents into the versioned side, commits them, and
// syncs the collection to the vector store.
func (s *SyncService) Import(ctx context.Context, collection string, docs []*models.Document, message string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionBidirectional)

	if collection == "" {
		return nil, &NoCollectionError{}
	}
	if message == "" {
		message = fmt.Sprintf("import %d document(s) into %s", len(docs), collection)
	}
	if err := s.stager.EnsureSchema(ctx); err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}

	for _, doc := range docs {
		doc.CollectionName = collection
		if err := doc.Validate(); err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		if err := s.stager.upsertDocument(ctx, collection, doc); err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
	}

	if err := s.version.AddAll(ctx); err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}
	commit, err := s.version.Commit(ctx, message)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}

	r, err := s.fullSyncLocked(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}
	if commit.Success {
		r.CommitHash = commit.Hash
	}
	return r, nil
}

// ApplyManifest drives the repository to the state a manifest declares:
// clone or fetch the remote, check out the target branch or commit, and
// sync the listed collections.
func (s *SyncService) ApplyManifest(ctx context.Context, manifest *models.Manifest) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionBidirectional)

	if manifest == nil {
		return models.FailedResult(models.DirectionBidirectional, fmt.Errorf("no manifest given")), nil
	}

	if manifest.RemoteURL != "" {
		initialized, err := s.version.IsInitialized(ctx)
		if err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		if !initialized {
			if err := s.version.Clone(ctx, manifest.RemoteURL); err != nil {
				return models.FailedResult(models.DirectionBidirectional, err), nil
			}
		} else {
			remoteName := manifest.RemoteName
			if remoteName == "" {
				remoteName = "origin"
			}
			// Re-adding an existing remote fails; the fetch below still uses
			// whatever remote is configured.
			if err := s.version.Exec(ctx, "CALL DOLT_REMOTE('add', ?, ?)", remoteName, manifest.RemoteURL); err != nil {
				s.logger.Printf("remote %s not added: %v", remoteName, err)
			}
			if err := s.version.Fetch(ctx); err != nil {
				return models.FailedResult(models.DirectionBidirectional, err), nil
			}
		}
	}

	if manifest.Branch != "" {
		r, err := s.checkoutLocked(ctx, manifest.Branch, false, false, false)
		if err != nil {
			return nil, err
		}
		if r.Status == models.SyncStatusFailed || r.Status == models.SyncStatusLocalChangesExist {
			return r, nil
		}
	}
	if manifest.Commit != "" {
		if err := s.version.ResetHard(ctx, manifest.Commit); err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
	}

	collections := manifest.Collections
	if len(collections) == 0 {
		collections, err = s.knownCollections(ctx)
		if err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}
	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	for _, collection := range collections {
		r, err := s.fullSyncLocked(ctx, collection)
		if err != nil {
			var noCol *NoCollectionError
			if errors.As(err, &noCol) {
				s.logger.Printf("WARN: manifest collection %s does not exist", collection)
				continue
			}
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	return total, nil
}

// isWorkingSetError reports whether a checkout failure came from uncommitted
// working-set changes.
func isWorkingSetError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "local changes") ||
		strings.Contains(msg, "working set") ||
		strings.Contains(msg, "would be overwritten")
}
