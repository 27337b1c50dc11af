package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// DefaultDetectionTimeout bounds multi-collection change detection.
const DefaultDetectionTimeout = 45 * time.Second

// LocalChangeDetector computes edits made against the vector store that have
// not yet been committed to the versioning engine.
type LocalChangeDetector struct {
	vector    repositories.VectorRepository
	delta     *DoltDeltaService
	deletions repositories.DeletionRepository
	chunker   *chunker.Chunker
	repoPath  string
	workers   int
	timeout   time.Duration
	logger    *log.Logger
}

// NewLocalChangeDetector creates a vector-side delta detector. workers bounds
// the concurrency of multi-collection detection.
func NewLocalChangeDetector(
	vector repositories.VectorRepository,
	delta *DoltDeltaService,
	deletions repositories.DeletionRepository,
	ck *chunker.Chunker,
	repoPath string,
	workers int,
	timeout time.Duration,
	logger *log.Logger,
) *LocalChangeDetector {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = DefaultDetectionTimeout
	}
	return &LocalChangeDetector{
		vector:    vector,
		delta:     delta,
		deletions: deletions,
		chunker:   ck,
		repoPath:  repoPath,
		workers:   workers,
		timeout:   timeout,
		logger:    logger,
	}
}

// DetectChanges computes the LocalChanges for one collection.
//
// Order of operations: flagged-chunk scan, presence fallback, batched
// classification against the versioned side, hash comparison, then
// deletions. A document found by both the flagged and hash paths is emitted
// once as modified; one found by both flagged and fallback is emitted as new.
func (d *LocalChangeDetector) DetectChanges(ctx context.Context, collection string) (*models.LocalChanges, error) {
	changes := &models.LocalChanges{}

	exists, err := d.vector.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if !exists {
		// a collection never synced to the vector store has no local edits;
		// its disappearance is tracked through deletion records instead
		return d.appendTrackedDeletions(ctx, collection, changes)
	}

	// One snapshot of the collection serves the flagged scan, the presence
	// sets, and the hash comparison.
	allChunks, err := d.vector.GetChunks(ctx, collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks for %s: %w", collection, err)
	}

	flagged := make(map[string][]*models.Chunk)
	byDoc := make(map[string][]*models.Chunk)
	vectorHashes := make(map[string]string)
	for _, chunk := range allChunks {
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
		if chunk.ContentHash != "" {
			vectorHashes[chunk.DocID] = chunk.ContentHash
		}
	}
	flaggedIDs, err := d.flaggedDocIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, docID := range flaggedIDs {
		if chunks, ok := byDoc[docID]; ok {
			flagged[docID] = chunks
		}
	}

	// Step 1: flagged candidates, reassembled.
	candidates := make(map[string]*models.Document)
	for docID, chunks := range flagged {
		doc, err := d.chunker.Reassemble(chunks)
		if err != nil {
			d.logger.Printf("WARN: skipping %s in %s: %v", docID, collection, err)
			continue
		}
		doc.CollectionName = collection
		candidates[docID] = doc
	}

	doltIDs, err := d.delta.DocumentIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	doltIDSet := make(map[string]struct{}, len(doltIDs))
	for _, id := range doltIDs {
		doltIDSet[id] = struct{}{}
	}

	// Step 2: presence fallback when nothing is flagged.
	if len(candidates) == 0 {
		for docID, chunks := range byDoc {
			if _, inDolt := doltIDSet[docID]; inDolt {
				continue
			}
			doc, err := d.chunker.Reassemble(chunks)
			if err != nil {
				d.logger.Printf("WARN: skipping %s in %s: %v", docID, collection, err)
				continue
			}
			doc.CollectionName = collection
			candidates[docID] = doc
		}
	}

	// Step 3: classify candidates with one batched query.
	candidateIDs := make([]string, 0, len(candidates))
	for id := range candidates {
		candidateIDs = append(candidateIDs, id)
	}
	existing, err := d.delta.DocumentsByIDs(ctx, collection, candidateIDs)
	if err != nil {
		return nil, err
	}

	emitted := make(map[string]struct{}, len(candidates))
	for _, docID := range candidateIDs {
		doc := candidates[docID]
		if _, inDolt := existing[docID]; inDolt {
			changes.Modified = append(changes.Modified, doc)
		} else {
			changes.New = append(changes.New, doc)
		}
		emitted[docID] = struct{}{}
	}

	// Step 4: hash comparison over documents present on both sides.
	doltDocs, err := d.delta.AllDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, doltDoc := range doltDocs {
		if _, done := emitted[doltDoc.DocID]; done {
			continue
		}
		vectorHash, inVector := vectorHashes[doltDoc.DocID]
		if !inVector || vectorHash == doltDoc.ContentHash {
			continue
		}
		doc, err := d.chunker.Reassemble(byDoc[doltDoc.DocID])
		if err != nil {
			d.logger.Printf("WARN: skipping %s in %s: %v", doltDoc.DocID, collection, err)
			continue
		}
		doc.CollectionName = collection
		changes.Modified = append(changes.Modified, doc)
		emitted[doltDoc.DocID] = struct{}{}
	}

	// Step 5: deletions, from tracked records plus presence difference.
	changes, err = d.appendTrackedDeletions(ctx, collection, changes)
	if err != nil {
		return nil, err
	}
	deleted := make(map[string]struct{}, len(changes.Deleted))
	for _, del := range changes.Deleted {
		deleted[del.DocID] = struct{}{}
	}
	for _, doltDoc := range doltDocs {
		if _, inVector := byDoc[doltDoc.DocID]; inVector {
			continue
		}
		if _, done := deleted[doltDoc.DocID]; done {
			continue
		}
		changes.Deleted = append(changes.Deleted, models.DeletedDocument{
			DocID:          doltDoc.DocID,
			CollectionName: collection,
			ContentHash:    doltDoc.ContentHash,
		})
	}

	return changes, nil
}

// flaggedDocIDs lists the base document IDs whose chunks carry
// is_local_change = true.
func (d *LocalChangeDetector) flaggedDocIDs(ctx context.Context, collection string) ([]string, error) {
	chunks, err := d.vector.GetChunks(ctx, collection, nil,
		map[string]interface{}{models.MetaIsLocalChange: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read flagged chunks for %s: %w", collection, err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, chunk := range chunks {
		if _, ok := seen[chunk.DocID]; !ok {
			seen[chunk.DocID] = struct{}{}
			ids = append(ids, chunk.DocID)
		}
	}
	return ids, nil
}

func (d *LocalChangeDetector) appendTrackedDeletions(ctx context.Context, collection string, changes *models.LocalChanges) (*models.LocalChanges, error) {
	records, err := d.deletions.GetPendingDocumentDeletions(ctx, d.repoPath, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending deletions: %w", err)
	}
	for _, record := range records {
		changes.Deleted = append(changes.Deleted, models.DeletedDocument{
			DocID:          record.DocID,
			CollectionName: record.CollectionName,
			ContentHash:    record.OriginalContentHash,
		})
	}
	return changes, nil
}

// DetectAll runs change detection for several collections concurrently,
// bounded by the configured worker count and the detection deadline. A
// failing collection contributes empty changes and a warning; only a
// deadline expiry aborts the whole operation.
func (d *LocalChangeDetector) DetectAll(ctx context.Context, collections []string) (map[string]*models.LocalChanges, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	results := make(map[string]*models.LocalChanges, len(collections))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, collection := range collections {
		collection := collection
		g.Go(func() error {
			changes, err := d.DetectChanges(gctx, collection)
			if err != nil {
				if gctx.Err() != nil {
					return fmt.Errorf("change detection timed out: %w", gctx.Err())
				}
				d.logger.Printf("WARN: change detection failed for %s: %v", collection, err)
				changes = &models.LocalChanges{}
			}
			mu.Lock()
			results[collection] = changes
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
