// Package store provides BoltDB-backed persistence for workflow definitions
// and their execution results, with a hot in-memory cache in front of the
// embedded database.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/taskrunner/internal/aggregator"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

var (
	bucketWorkflows = []byte("workflows")
	bucketResults   = []byte("results")
	bucketVersions  = []byte("versions")
	bucketIndexes   = []byte("indexes")
	bucketSchedules = []byte("cron_schedules")
)

// WorkflowStore persists workflow definitions and their ResultDocuments in
// a single BoltDB file, fronted by an in-memory cache for hot reads.
type WorkflowStore struct {
	db *bbolt.DB
	mu sync.RWMutex

	workflowCache map[string]workflow.Workflow
	resultCache   map[string]*aggregator.ResultDocument
	maxCacheSize  int

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// New opens (creating if absent) a BoltDB file at dbPath/workflows.db and
// creates the buckets the store needs. meter may be nil in tests.
func New(dbPath string, meter metric.Meter) (*WorkflowStore, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}

	db, err := bbolt.Open(dbPath+"/workflows.db", 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkflows, bucketResults, bucketVersions, bucketIndexes, bucketSchedules} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	if meter == nil {
		meter = noop.NewMeterProvider().Meter("runner-store")
	}
	readLatency, _ := meter.Float64Histogram("runner_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("runner_store_write_ms")
	cacheHits, _ := meter.Int64Counter("runner_store_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("runner_store_cache_misses_total")

	s := &WorkflowStore{
		db:            db,
		workflowCache: make(map[string]workflow.Workflow),
		resultCache:   make(map[string]*aggregator.ResultDocument),
		maxCacheSize:  1000,
		readLatency:   readLatency,
		writeLatency:  writeLatency,
		cacheHits:     cacheHits,
		cacheMisses:   cacheMisses,
	}

	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: warm cache: %w", err)
	}
	return s, nil
}

// Close releases the underlying BoltDB file handle.
func (s *WorkflowStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// PutWorkflow stores wf keyed by its WorkflowID, archiving whatever
// version previously lived at that key into the versions bucket first.
func (s *WorkflowStore) PutWorkflow(ctx context.Context, wf workflow.Workflow) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put_workflow")))
	}()

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("store: marshal workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)

		if existing := bucket.Get([]byte(wf.WorkflowID)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			versionKey := fmt.Sprintf("%s:%d", wf.WorkflowID, time.Now().UnixNano())
			if err := versions.Put([]byte(versionKey), existing); err != nil {
				return fmt.Errorf("archive previous version: %w", err)
			}
		}
		return bucket.Put([]byte(wf.WorkflowID), data)
	})
	if err != nil {
		return fmt.Errorf("store: write workflow: %w", err)
	}

	s.workflowCache[wf.WorkflowID] = wf
	return nil
}

// GetWorkflow fetches a workflow by ID, checking the in-memory cache first.
func (s *WorkflowStore) GetWorkflow(ctx context.Context, workflowID string) (workflow.Workflow, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get_workflow")))
	}()

	s.mu.RLock()
	if wf, ok := s.workflowCache[workflowID]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "workflow")))
		return wf, true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "workflow")))

	var wf workflow.Workflow
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(workflowID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &wf)
	})
	if err != nil {
		return workflow.Workflow{}, false, fmt.Errorf("store: read workflow: %w", err)
	}
	if !found {
		return workflow.Workflow{}, false, nil
	}

	s.mu.Lock()
	s.workflowCache[workflowID] = wf
	s.mu.Unlock()
	return wf, true, nil
}

// ListWorkflows returns cached workflows with a simple offset/limit window.
// limit <= 0 means no limit.
func (s *WorkflowStore) ListWorkflows(limit, offset int) []workflow.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]workflow.Workflow, 0, len(s.workflowCache))
	for _, wf := range s.workflowCache {
		all = append(all, wf)
	}

	start := offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return all[start:end]
}

// DeleteWorkflow soft-deletes a workflow: the current version is archived
// under an "archive:" key before the live entry is removed.
func (s *WorkflowStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		data := bucket.Get([]byte(workflowID))
		if data != nil {
			versions := tx.Bucket(bucketVersions)
			archiveKey := fmt.Sprintf("archive:%s:%d", workflowID, time.Now().UnixNano())
			if err := versions.Put([]byte(archiveKey), data); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(workflowID))
	})
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}

	delete(s.workflowCache, workflowID)
	return nil
}

// PutResult stores a ResultDocument and indexes it by workflow ID and
// GeneratedAt time so ListResults can answer time-ranged queries without a
// full scan.
func (s *WorkflowStore) PutResult(ctx context.Context, doc *aggregator.ResultDocument) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put_result")))
	}()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketResults).Put([]byte(doc.DocumentID), data); err != nil {
			return err
		}
		indexKey := fmt.Sprintf("%s:%d:%s", doc.WorkflowID, doc.GeneratedAt.UnixNano(), doc.DocumentID)
		return tx.Bucket(bucketIndexes).Put([]byte(indexKey), []byte(doc.DocumentID))
	})
	if err != nil {
		return fmt.Errorf("store: write result: %w", err)
	}

	if len(s.resultCache) >= s.maxCacheSize {
		s.evictOldestResult()
	}
	s.resultCache[doc.DocumentID] = doc
	return nil
}

// GetResult fetches a ResultDocument by its document ID.
func (s *WorkflowStore) GetResult(ctx context.Context, documentID string) (*aggregator.ResultDocument, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get_result")))
	}()

	s.mu.RLock()
	if doc, ok := s.resultCache[documentID]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "result")))
		return doc, true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "result")))

	var doc aggregator.ResultDocument
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(documentID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: read result: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &doc, true, nil
}

// ListResults returns up to limit ResultDocuments for workflowID whose
// GeneratedAt falls within [startTime, endTime], oldest first.
func (s *WorkflowStore) ListResults(workflowID string, startTime, endTime time.Time, limit int) ([]*aggregator.ResultDocument, error) {
	results := make([]*aggregator.ResultDocument, 0, limit)

	err := s.db.View(func(tx *bbolt.Tx) error {
		indexes := tx.Bucket(bucketIndexes)
		resultsBucket := tx.Bucket(bucketResults)

		prefix := []byte(workflowID + ":")
		cursor := indexes.Cursor()

		count := 0
		for k, v := cursor.Seek(prefix); k != nil && count < limit; k, v = cursor.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			data := resultsBucket.Get(v)
			if data == nil {
				continue
			}
			var doc aggregator.ResultDocument
			if err := json.Unmarshal(data, &doc); err != nil {
				continue
			}
			if doc.GeneratedAt.After(endTime) {
				break
			}
			if doc.GeneratedAt.Before(startTime) {
				continue
			}
			results = append(results, &doc)
			count++
		}
		return nil
	})
	return results, err
}

// PutSchedule stores the raw JSON encoding of a cronsched.ScheduleConfig
// keyed by workflow ID, so RestoreSchedules can recreate it on startup.
// The store package stays independent of cronsched's types by accepting
// the already-marshaled bytes.
func (s *WorkflowStore) PutSchedule(workflowID string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(workflowID), data)
	})
}

// DeleteSchedule removes a persisted schedule.
func (s *WorkflowStore) DeleteSchedule(workflowID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(workflowID))
	})
}

// ListSchedules returns the raw JSON bytes of every persisted schedule.
func (s *WorkflowStore) ListSchedules() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	return out, err
}

// GetWorkflowVersions returns up to limit archived versions of workflowID,
// oldest to newest as stored.
func (s *WorkflowStore) GetWorkflowVersions(workflowID string, limit int) ([]workflow.Workflow, error) {
	versions := make([]workflow.Workflow, 0, limit)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVersions)
		prefix := []byte(workflowID + ":")
		cursor := bucket.Cursor()

		count := 0
		for k, v := cursor.Seek(prefix); k != nil && count < limit; k, v = cursor.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			var wf workflow.Workflow
			if err := json.Unmarshal(v, &wf); err != nil {
				continue
			}
			versions = append(versions, wf)
			count++
		}
		return nil
	})
	return versions, err
}

// GetStats reports bucket sizes and cache occupancy for operational visibility.
func (s *WorkflowStore) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	s.db.View(func(tx *bbolt.Tx) error {
		stats["db_size_bytes"] = tx.Size()
		for _, bucketName := range [][]byte{bucketWorkflows, bucketResults, bucketVersions} {
			if bucket := tx.Bucket(bucketName); bucket != nil {
				stats[string(bucketName)+"_count"] = bucket.Stats().KeyN
			}
		}
		return nil
	})

	s.mu.RLock()
	stats["cache_workflows"] = len(s.workflowCache)
	stats["cache_results"] = len(s.resultCache)
	stats["cache_max_size"] = s.maxCacheSize
	s.mu.RUnlock()
	return stats
}

func (s *WorkflowStore) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var wf workflow.Workflow
			if err := json.Unmarshal(v, &wf); err != nil {
				return nil
			}
			s.workflowCache[wf.WorkflowID] = wf
			return nil
		})
	})
}

func (s *WorkflowStore) evictOldestResult() {
	var oldestID string
	var oldestTime time.Time
	for id, doc := range s.resultCache {
		if oldestID == "" || doc.GeneratedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = doc.GeneratedAt
		}
	}
	if oldestID != "" {
		delete(s.resultCache, oldestID)
	}
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
