// Package memstore is the in-memory Store implementation. It emulates the
// row-store semantics the components rely on: per-record row locks, versioned
// updates, and a coarse batch lock standing in for a transaction. Backs tests
// and single-process deployments.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/store"
)

type MemStore struct {
	mu sync.RWMutex

	records     map[string]*evv.Record
	visitIndex  map[string]string // visitID -> live record id
	entries     []*evv.TimeEntry
	idempotency map[string]struct{}
	geofences   map[string]*evv.Geofence
	devices     map[string]*evv.MobileDevice
	submissions map[string]*evv.Submission
	vmurs       map[string]*evv.VMUR
	reviewTasks []*evv.ReviewTask

	// rowLocks serializes transitions per record id.
	rowLocks sync.Map // string -> *sync.Mutex

	// batchMu is the transaction stand-in for WithBatch.
	batchMu sync.Mutex
}

var _ store.Store = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{
		records:     make(map[string]*evv.Record),
		visitIndex:  make(map[string]string),
		idempotency: make(map[string]struct{}),
		geofences:   make(map[string]*evv.Geofence),
		devices:     make(map[string]*evv.MobileDevice),
		submissions: make(map[string]*evv.Submission),
		vmurs:       make(map[string]*evv.VMUR),
	}
}

func (m *MemStore) rowLock(id string) *sync.Mutex {
	mu, _ := m.rowLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// clone deep-copies a row so callers never alias stored state.
func clone[T any](in *T) *T {
	raw, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return out
}

func (m *MemStore) CreateRecord(_ context.Context, r *evv.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[r.ID]; exists {
		return evverrors.New(evverrors.KindConflict, "record %s already exists", r.ID)
	}
	// one live record per visit, enforced under the same lock as the insert;
	// an amendment fork replaces the original as the live record
	if liveID, ok := m.visitIndex[r.VisitID]; ok && r.Amends == "" {
		return evverrors.New(evverrors.KindConflict,
			"visit %s already has record %s", r.VisitID, liveID)
	}
	cp := clone(r)
	cp.Version = 1
	m.records[r.ID] = cp
	m.visitIndex[r.VisitID] = r.ID
	r.Version = cp.Version
	return nil
}

func (m *MemStore) GetRecord(_ context.Context, id string) (*evv.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "record %s not found", id)
	}
	return clone(r), nil
}

func (m *MemStore) GetRecordByVisit(_ context.Context, visitID string) (*evv.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.visitIndex[visitID]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "no record for visit %s", visitID)
	}
	return clone(m.records[id]), nil
}

func (m *MemStore) UpdateRecord(_ context.Context, id string, mutate func(*evv.Record) error) (*evv.Record, error) {
	lock := m.rowLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	cur, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "record %s not found", id)
	}

	next := clone(cur)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.records[id] = next
	// an amended record is no longer the live one for its visit
	if next.Status == evv.StatusAmended && m.visitIndex[next.VisitID] == id {
		delete(m.visitIndex, next.VisitID)
	}
	m.mu.Unlock()

	return clone(next), nil
}

func (m *MemStore) AppendEntry(_ context.Context, e *evv.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, clone(e))
	return nil
}

func (m *MemStore) SeenIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, seen := m.idempotency[key]
	return seen, nil
}

func (m *MemStore) MarkIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[key] = struct{}{}
	return nil
}

func (m *MemStore) EntriesForCaregiverSince(_ context.Context, caregiverID string, since time.Time) ([]*evv.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*evv.TimeEntry
	for _, e := range m.entries {
		if e.CaregiverID == caregiverID && e.ReceivedAt.After(since) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *MemStore) GetGeofence(_ context.Context, clientID string) (*evv.Geofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.geofences[clientID]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "no geofence for client %s", clientID)
	}
	return clone(g), nil
}

func (m *MemStore) PutGeofence(_ context.Context, g *evv.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geofences[g.ClientID] = clone(g)
	return nil
}

func (m *MemStore) UpsertDevice(_ context.Context, d *evv.MobileDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.DeviceID] = clone(d)
	return nil
}

func (m *MemStore) GetDevice(_ context.Context, deviceID string) (*evv.MobileDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "device %s not registered", deviceID)
	}
	return clone(d), nil
}

func (m *MemStore) GetSubmission(_ context.Context, recordID string) (*evv.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[recordID]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "no submission for record %s", recordID)
	}
	return clone(s), nil
}

func (m *MemStore) PutSubmission(_ context.Context, s *evv.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clone(s)
	cp.UpdatedAt = time.Now().UTC()
	m.submissions[s.RecordID] = cp
	return nil
}

func (m *MemStore) CASSubmissionState(_ context.Context, recordID string, from []evv.SubmissionState, to evv.SubmissionState) (*evv.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.submissions[recordID]
	if !ok {
		cur = &evv.Submission{RecordID: recordID, State: evv.SubmissionNotSubmitted}
		m.submissions[recordID] = cur
	}

	allowed := false
	for _, f := range from {
		if cur.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, evverrors.New(evverrors.KindConflict,
			"submission for record %s is %s, cannot transition to %s", recordID, cur.State, to)
	}

	cur.State = to
	now := time.Now().UTC()
	cur.UpdatedAt = now
	if to == evv.SubmissionInFlight {
		cur.InFlightSince = &now
	} else {
		cur.InFlightSince = nil
	}
	return clone(cur), nil
}

func (m *MemStore) DueForRetry(_ context.Context, now time.Time) ([]*evv.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*evv.Submission
	for _, s := range m.submissions {
		if s.State == evv.SubmissionAwaitingRetry && s.NextAttemptAt != nil && !s.NextAttemptAt.After(now) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

func (m *MemStore) StuckInFlight(_ context.Context, olderThan time.Time) ([]*evv.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*evv.Submission
	for _, s := range m.submissions {
		if s.State == evv.SubmissionInFlight && s.InFlightSince != nil && s.InFlightSince.Before(olderThan) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

func (m *MemStore) CreateVMUR(_ context.Context, v *evv.VMUR) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.vmurs[v.ID]; exists {
		return evverrors.New(evverrors.KindConflict, "vmur %s already exists", v.ID)
	}
	m.vmurs[v.ID] = clone(v)
	return nil
}

func (m *MemStore) GetVMUR(_ context.Context, id string) (*evv.VMUR, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vmurs[id]
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "vmur %s not found", id)
	}
	return clone(v), nil
}

func (m *MemStore) VMURByAmendedRecord(_ context.Context, recordID string) (*evv.VMUR, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vmurs {
		if v.AmendedRecordID == recordID {
			return clone(v), nil
		}
	}
	return nil, evverrors.New(evverrors.KindNotFound, "no vmur amended record %s", recordID)
}

func (m *MemStore) UpdateVMUR(_ context.Context, id string, mutate func(*evv.VMUR) error) (*evv.VMUR, error) {
	lock := m.rowLock("vmur:" + id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	cur, ok := m.vmurs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, evverrors.New(evverrors.KindNotFound, "vmur %s not found", id)
	}

	next := clone(cur)
	if err := mutate(next); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.vmurs[id] = next
	m.mu.Unlock()
	return clone(next), nil
}

func (m *MemStore) ExpiredPending(_ context.Context, now time.Time) ([]*evv.VMUR, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*evv.VMUR
	for _, v := range m.vmurs {
		if v.Status == evv.VMURPending && v.ExpiresAt.Before(now) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) AddReviewTask(_ context.Context, t *evv.ReviewTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewTasks = append(m.reviewTasks, clone(t))
	return nil
}

func (m *MemStore) ListReviewTasks(_ context.Context, tenantID string) ([]*evv.ReviewTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*evv.ReviewTask
	for _, t := range m.reviewTasks {
		if tenantID == "" || t.TenantID == tenantID {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

// WithBatch serializes fn against other batches. A SQL-backed store maps this
// onto one transaction; here a coarse mutex gives the same apply-ordering
// guarantee.
func (m *MemStore) WithBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()
	return fn(ctx)
}
