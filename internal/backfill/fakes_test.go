package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type testRecord struct {
	code   string
	window Window
	value  int
}

func (r testRecord) NaturalKey() string   { return fmt.Sprintf("%s-%s", r.code, r.window) }
func (r testRecord) Entity() string       { return r.code }
func (r testRecord) ReportWindow() Window { return r.window }

type fakeStore struct {
	mu         sync.Mutex
	items      []WorkItem
	findErr    error
	upsertErrs map[string]error
	rows       map[string]testRecord
	findCalls  int
	upserts    []string
}

func newFakeStore(items ...WorkItem) *fakeStore {
	return &fakeStore{items: items, upsertErrs: map[string]error{}, rows: map[string]testRecord{}}
}

func (s *fakeStore) FindMissing(_ context.Context, _ Window) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return append([]WorkItem(nil), s.items...), nil
}

func (s *fakeStore) Upsert(_ context.Context, r testRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs[r.code]; err != nil {
		return err
	}
	s.upserts = append(s.upserts, r.code)
	s.rows[r.NaturalKey()] = r
	return nil
}

func (s *fakeStore) snapshot() map[string]testRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]testRecord, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

type fakeSource struct {
	records  map[string]testRecord
	errs     map[string]error
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: map[string]testRecord{}, errs: map[string]error{}}
}

func (f *fakeSource) Fetch(ctx context.Context, item WorkItem) (testRecord, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return testRecord{}, ctx.Err()
		}
	}
	if err := f.errs[item.SecurityCode]; err != nil {
		return testRecord{}, err
	}
	rec, ok := f.records[item.SecurityCode]
	if !ok {
		return testRecord{code: item.SecurityCode, window: item.Window, value: 1}, nil
	}
	return rec, nil
}

type fakeSentinel struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	setErr  error
	gets    int
}

func newFakeSentinel() *fakeSentinel {
	return &fakeSentinel{entries: map[string]time.Duration{}}
}

func (s *fakeSentinel) GetBool(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	_, ok := s.entries[key]
	return ok
}

func (s *fakeSentinel) Set(_ context.Context, key string, value bool, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if value {
		s.entries[key] = ttl
	}
	return nil
}

func (s *fakeSentinel) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *fakeSentinel) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]time.Duration{}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type captureRecorder struct {
	mu      sync.Mutex
	reports []RunReport
}

func (r *captureRecorder) RecordRun(_ context.Context, run RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, run)
}

var errBoom = errors.New("boom")
