package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRequests = []byte("requests")
	bucketProbes   = []byte("probes")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the record database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRequests, bucketProbes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// SaveRequest stores rec under its dedup key. A later record with the
// same key replaces the earlier one.
func (s *BoltStore) SaveRequest(rec *RequestRecord) error {
	return s.put(bucketRequests, []byte(rec.Key), rec)
}

// SaveProbe stores rec under its session id and URL.
func (s *BoltStore) SaveProbe(rec *ProbeRecord) error {
	return s.put(bucketProbes, []byte(rec.Session+"|"+rec.URL), rec)
}

func (s *BoltStore) put(bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put(key, data)
	})
}

// Requests returns every stored request record ordered by discovery time.
func (s *BoltStore) Requests() ([]RequestRecord, error) {
	var out []RequestRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketRequests)
		}
		return b.ForEach(func(_, v []byte) error {
			var rec RequestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FoundAt.Before(out[j].FoundAt) })
	return out, nil
}

// Probes returns every stored probe record ordered by start time.
func (s *BoltStore) Probes() ([]ProbeRecord, error) {
	var out []ProbeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProbes)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketProbes)
		}
		return b.ForEach(func(_, v []byte) error {
			var rec ProbeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]RequestRecord
	order    []string
	probes   []ProbeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]RequestRecord)}
}

// SaveRequest stores rec.
func (s *MemoryStore) SaveRequest(rec *RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[rec.Key]; !ok {
		s.order = append(s.order, rec.Key)
	}
	s.requests[rec.Key] = *rec
	return nil
}

// SaveProbe stores rec.
func (s *MemoryStore) SaveProbe(rec *ProbeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes = append(s.probes, *rec)
	return nil
}

// Requests returns the stored request records in insertion order.
func (s *MemoryStore) Requests() ([]RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestRecord, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.requests[k])
	}
	return out, nil
}

// Probes returns the stored probe records.
func (s *MemoryStore) Probes() ([]ProbeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProbeRecord, len(s.probes))
	copy(out, s.probes)
	return out, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
