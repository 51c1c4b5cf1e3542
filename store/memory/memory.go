// Package memory provides an in-memory Store (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements vaccination.Store and stock.TxStore. Every public
// method takes the store lock; WithTx holds it for the whole transaction,
// so transactions are serialized.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	vaccines  map[stock.VaccineID]stock.Vaccine
	scopes    map[stock.Scope]stock.ScopeNode
	lots      map[stock.LotID]stock.Lot
	lotSeq    int64
	reserved  map[stock.AppointmentID][]stock.Reservation
	transfers map[stock.TransferID]stock.Transfer

	children  map[vaccination.ChildID]vaccination.Child
	scheduled map[stock.AppointmentID]vaccination.ScheduledVaccination
	completed []vaccination.CompletedVaccination
	requests  map[vaccination.RequestID]vaccination.VaccineRequest
	buckets   []vaccination.TimelineEntry
}

func newState() *state {
	return &state{
		vaccines:  make(map[stock.VaccineID]stock.Vaccine),
		scopes:    make(map[stock.Scope]stock.ScopeNode),
		lots:      make(map[stock.LotID]stock.Lot),
		reserved:  make(map[stock.AppointmentID][]stock.Reservation),
		transfers: make(map[stock.TransferID]stock.Transfer),
		children:  make(map[vaccination.ChildID]vaccination.Child),
		scheduled: make(map[stock.AppointmentID]vaccination.ScheduledVaccination),
		requests:  make(map[vaccination.RequestID]vaccination.VaccineRequest),
	}
}

func New() *Memory {
	return &Memory{st: newState()}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(stock.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := &state{
		vaccines:  make(map[stock.VaccineID]stock.Vaccine, len(s.vaccines)),
		scopes:    make(map[stock.Scope]stock.ScopeNode, len(s.scopes)),
		lots:      make(map[stock.LotID]stock.Lot, len(s.lots)),
		lotSeq:    s.lotSeq,
		reserved:  make(map[stock.AppointmentID][]stock.Reservation, len(s.reserved)),
		transfers: make(map[stock.TransferID]stock.Transfer, len(s.transfers)),
		children:  make(map[vaccination.ChildID]vaccination.Child, len(s.children)),
		scheduled: make(map[stock.AppointmentID]vaccination.ScheduledVaccination, len(s.scheduled)),
		completed: append([]vaccination.CompletedVaccination(nil), s.completed...),
		requests:  make(map[vaccination.RequestID]vaccination.VaccineRequest, len(s.requests)),
		buckets:   append([]vaccination.TimelineEntry(nil), s.buckets...),
	}
	for k, v := range s.vaccines {
		c.vaccines[k] = v
	}
	for k, v := range s.scopes {
		c.scopes[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.reserved {
		c.reserved[k] = append([]stock.Reservation(nil), v...)
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.children {
		c.children[k] = v
	}
	for k, v := range s.scheduled {
		c.scheduled[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

// view must be called with m.mu held.
func (m *Memory) view() *view {
	return &view{st: m.st}
}

func (m *Memory) SaveVaccine(ctx context.Context, v stock.Vaccine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveVaccine(ctx, v)
}

func (m *Memory) GetVaccine(ctx context.Context, id stock.VaccineID) (*stock.Vaccine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetVaccine(ctx, id)
}

func (m *Memory) ListVaccines(ctx context.Context) ([]stock.Vaccine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListVaccines(ctx)
}

func (m *Memory) SaveScope(ctx context.Context, node stock.ScopeNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveScope(ctx, node)
}

func (m *Memory) GetScope(ctx context.Context, scope stock.Scope) (*stock.ScopeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetScope(ctx, scope)
}

func (m *Memory) InsertLot(ctx context.Context, lot *stock.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertLot(ctx, lot)
}

func (m *Memory) GetLot(ctx context.Context, id stock.LotID) (*stock.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetLot(ctx, id)
}

func (m *Memory) ListLots(ctx context.Context, filter stock.LotFilter) ([]stock.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListLots(ctx, filter)
}

func (m *Memory) UpdateLot(ctx context.Context, lot *stock.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateLot(ctx, lot)
}

func (m *Memory) DeleteLot(ctx context.Context, id stock.LotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteLot(ctx, id)
}

func (m *Memory) InsertReservations(ctx context.Context, rs []stock.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertReservations(ctx, rs)
}

func (m *Memory) ListReservations(ctx context.Context, id stock.AppointmentID) ([]stock.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListReservations(ctx, id)
}

func (m *Memory) DeleteReservations(ctx context.Context, id stock.AppointmentID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteReservations(ctx, id)
}

func (m *Memory) InsertTransfer(ctx context.Context, t *stock.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertTransfer(ctx, t)
}

func (m *Memory) GetTransfer(ctx context.Context, id stock.TransferID) (*stock.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetTransfer(ctx, id)
}

func (m *Memory) UpdateTransfer(ctx context.Context, t *stock.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateTransfer(ctx, t)
}

func (m *Memory) ListTransfers(ctx context.Context, filter stock.TransferFilter) ([]stock.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListTransfers(ctx, filter)
}

func (m *Memory) SaveChild(ctx context.Context, c vaccination.Child) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveChild(ctx, c)
}

func (m *Memory) GetChild(ctx context.Context, id vaccination.ChildID) (*vaccination.Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetChild(ctx, id)
}

func (m *Memory) SetNextAppointment(ctx context.Context, id vaccination.ChildID, next *vaccination.NextAppointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetNextAppointment(ctx, id, next)
}

func (m *Memory) InsertScheduled(ctx context.Context, s *vaccination.ScheduledVaccination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertScheduled(ctx, s)
}

func (m *Memory) GetScheduled(ctx context.Context, id stock.AppointmentID) (*vaccination.ScheduledVaccination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetScheduled(ctx, id)
}

func (m *Memory) UpdateScheduled(ctx context.Context, s *vaccination.ScheduledVaccination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateScheduled(ctx, s)
}

func (m *Memory) DeleteScheduled(ctx context.Context, id stock.AppointmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteScheduled(ctx, id)
}

func (m *Memory) ListScheduled(ctx context.Context, filter vaccination.ScheduleFilter) ([]vaccination.ScheduledVaccination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListScheduled(ctx, filter)
}

func (m *Memory) InsertCompleted(ctx context.Context, c *vaccination.CompletedVaccination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertCompleted(ctx, c)
}

func (m *Memory) ListCompleted(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.CompletedVaccination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListCompleted(ctx, childID, vaccineID)
}

func (m *Memory) InsertRequest(ctx context.Context, r *vaccination.VaccineRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertRequest(ctx, r)
}

func (m *Memory) GetRequest(ctx context.Context, id vaccination.RequestID) (*vaccination.VaccineRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetRequest(ctx, id)
}

func (m *Memory) UpdateRequest(ctx context.Context, r *vaccination.VaccineRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateRequest(ctx, r)
}

func (m *Memory) ListRequests(ctx context.Context, filter vaccination.RequestFilter) ([]vaccination.VaccineRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListRequests(ctx, filter)
}

func (m *Memory) SaveBucketEntry(ctx context.Context, e vaccination.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SaveBucketEntry(ctx, e)
}

func (m *Memory) ListBucketEntries(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListBucketEntries(ctx, childID, vaccineID)
}

func (m *Memory) DeleteBucketEntries(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID, calendarID vaccination.CalendarID, dose int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeleteBucketEntries(ctx, childID, vaccineID, calendarID, dose)
}

// =============================================================================
// VIEW - Unlocked access to the state (transactions and locked entry points)
// =============================================================================

type view struct {
	st *state
}

// Reference data

func (v *view) SaveVaccine(_ context.Context, vac stock.Vaccine) error {
	if err := vac.Validate(); err != nil {
		return err
	}
	v.st.vaccines[vac.ID] = vac
	return nil
}

func (v *view) GetVaccine(_ context.Context, id stock.VaccineID) (*stock.Vaccine, error) {
	vac, ok := v.st.vaccines[id]
	if !ok {
		return nil, fmt.Errorf("vaccine %s: %w", id, stock.ErrVaccineNotFound)
	}
	return &vac, nil
}

func (v *view) ListVaccines(_ context.Context) ([]stock.Vaccine, error) {
	result := make([]stock.Vaccine, 0, len(v.st.vaccines))
	for _, vac := range v.st.vaccines {
		result = append(result, vac)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (v *view) SaveScope(_ context.Context, node stock.ScopeNode) error {
	if err := node.Scope.Validate(); err != nil {
		return err
	}
	if node.Parent != nil {
		p := *node.Parent
		node.Parent = &p
	}
	v.st.scopes[node.Scope] = node
	return nil
}

func (v *view) GetScope(_ context.Context, scope stock.Scope) (*stock.ScopeNode, error) {
	node, ok := v.st.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("scope %s: %w", scope, stock.ErrScopeNotFound)
	}
	return &node, nil
}

// Lots

func (v *view) InsertLot(_ context.Context, lot *stock.Lot) error {
	if _, exists := v.st.lots[lot.ID]; exists {
		return fmt.Errorf("lot %s already exists", lot.ID)
	}
	v.st.lotSeq++
	lot.Sequence = v.st.lotSeq
	lot.Version = 1
	v.st.lots[lot.ID] = *lot
	return nil
}

func (v *view) GetLot(_ context.Context, id stock.LotID) (*stock.Lot, error) {
	lot, ok := v.st.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, stock.ErrLotNotFound)
	}
	return &lot, nil
}

func (v *view) ListLots(_ context.Context, filter stock.LotFilter) ([]stock.Lot, error) {
	var result []stock.Lot
	for _, lot := range v.st.lots {
		if filter.VaccineID != "" && lot.VaccineID != filter.VaccineID {
			continue
		}
		if filter.Scope != nil && lot.Scope != *filter.Scope {
			continue
		}
		result = append(result, lot)
	}
	stock.SortFEFO(result)
	return result, nil
}

func (v *view) UpdateLot(_ context.Context, lot *stock.Lot) error {
	current, ok := v.st.lots[lot.ID]
	if !ok {
		return fmt.Errorf("lot %s: %w", lot.ID, stock.ErrLotNotFound)
	}
	if current.Version != lot.Version {
		return fmt.Errorf("lot %s version %d, have %d: %w", lot.ID, current.Version, lot.Version, stock.ErrConcurrentModification)
	}
	lot.Version++
	v.st.lots[lot.ID] = *lot
	return nil
}

func (v *view) DeleteLot(_ context.Context, id stock.LotID) error {
	if _, ok := v.st.lots[id]; !ok {
		return fmt.Errorf("lot %s: %w", id, stock.ErrLotNotFound)
	}
	delete(v.st.lots, id)
	return nil
}

// Reservations

func (v *view) InsertReservations(_ context.Context, rs []stock.Reservation) error {
	for _, r := range rs {
		v.st.reserved[r.AppointmentID] = append(v.st.reserved[r.AppointmentID], r)
	}
	return nil
}

func (v *view) ListReservations(_ context.Context, id stock.AppointmentID) ([]stock.Reservation, error) {
	return append([]stock.Reservation(nil), v.st.reserved[id]...), nil
}

func (v *view) DeleteReservations(_ context.Context, id stock.AppointmentID) (int, error) {
	n := len(v.st.reserved[id])
	delete(v.st.reserved, id)
	return n, nil
}

// Transfers

func (v *view) InsertTransfer(_ context.Context, t *stock.Transfer) error {
	if _, exists := v.st.transfers[t.ID]; exists {
		return fmt.Errorf("transfer %s already exists", t.ID)
	}
	t.Version = 1
	v.st.transfers[t.ID] = copyTransfer(*t)
	return nil
}

func (v *view) GetTransfer(_ context.Context, id stock.TransferID) (*stock.Transfer, error) {
	t, ok := v.st.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %s: %w", id, stock.ErrTransferNotFound)
	}
	c := copyTransfer(t)
	return &c, nil
}

func (v *view) UpdateTransfer(_ context.Context, t *stock.Transfer) error {
	current, ok := v.st.transfers[t.ID]
	if !ok {
		return fmt.Errorf("transfer %s: %w", t.ID, stock.ErrTransferNotFound)
	}
	if current.Version != t.Version {
		return fmt.Errorf("transfer %s version %d, have %d: %w", t.ID, current.Version, t.Version, stock.ErrConcurrentModification)
	}
	t.Version++
	v.st.transfers[t.ID] = copyTransfer(*t)
	return nil
}

func (v *view) ListTransfers(_ context.Context, filter stock.TransferFilter) ([]stock.Transfer, error) {
	var result []stock.Transfer
	for _, t := range v.st.transfers {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Scope != nil && t.From != *filter.Scope && t.To != *filter.Scope {
			continue
		}
		result = append(result, copyTransfer(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func copyTransfer(t stock.Transfer) stock.Transfer {
	t.SourceAllocations = append([]stock.Allocation(nil), t.SourceAllocations...)
	t.DerivedLots = append([]stock.LotID(nil), t.DerivedLots...)
	return t
}

// Children

func (v *view) SaveChild(_ context.Context, c vaccination.Child) error {
	if c.ID == "" {
		return fmt.Errorf("child id is required")
	}
	if err := c.HealthCenter.Validate(); err != nil {
		return fmt.Errorf("child %s: %w", c.ID, err)
	}
	v.st.children[c.ID] = copyChild(c)
	return nil
}

func (v *view) GetChild(_ context.Context, id vaccination.ChildID) (*vaccination.Child, error) {
	c, ok := v.st.children[id]
	if !ok {
		return nil, fmt.Errorf("child %s: %w", id, vaccination.ErrChildNotFound)
	}
	c = copyChild(c)
	return &c, nil
}

func (v *view) SetNextAppointment(_ context.Context, id vaccination.ChildID, next *vaccination.NextAppointment) error {
	c, ok := v.st.children[id]
	if !ok {
		return fmt.Errorf("child %s: %w", id, vaccination.ErrChildNotFound)
	}
	c.NextAppointment = next
	v.st.children[id] = copyChild(c)
	return nil
}

func copyChild(c vaccination.Child) vaccination.Child {
	if c.NextAppointment != nil {
		n := *c.NextAppointment
		c.NextAppointment = &n
	}
	return c
}

// Scheduled vaccinations

func (v *view) InsertScheduled(_ context.Context, s *vaccination.ScheduledVaccination) error {
	if _, exists := v.st.scheduled[s.ID]; exists {
		return fmt.Errorf("appointment %s already exists", s.ID)
	}
	v.st.scheduled[s.ID] = *s
	return nil
}

func (v *view) GetScheduled(_ context.Context, id stock.AppointmentID) (*vaccination.ScheduledVaccination, error) {
	s, ok := v.st.scheduled[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, vaccination.ErrAppointmentNotFound)
	}
	return &s, nil
}

func (v *view) UpdateScheduled(_ context.Context, s *vaccination.ScheduledVaccination) error {
	if _, ok := v.st.scheduled[s.ID]; !ok {
		return fmt.Errorf("appointment %s: %w", s.ID, vaccination.ErrAppointmentNotFound)
	}
	v.st.scheduled[s.ID] = *s
	return nil
}

func (v *view) DeleteScheduled(_ context.Context, id stock.AppointmentID) error {
	if _, ok := v.st.scheduled[id]; !ok {
		return fmt.Errorf("appointment %s: %w", id, vaccination.ErrAppointmentNotFound)
	}
	delete(v.st.scheduled, id)
	return nil
}

func (v *view) ListScheduled(_ context.Context, filter vaccination.ScheduleFilter) ([]vaccination.ScheduledVaccination, error) {
	var result []vaccination.ScheduledVaccination
	for _, s := range v.st.scheduled {
		if filter.ChildID != "" && s.ChildID != filter.ChildID {
			continue
		}
		if filter.VaccineID != "" && s.VaccineID != filter.VaccineID {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

// Completed vaccinations

func (v *view) InsertCompleted(_ context.Context, c *vaccination.CompletedVaccination) error {
	v.st.completed = append(v.st.completed, *c)
	return nil
}

func (v *view) ListCompleted(_ context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.CompletedVaccination, error) {
	var result []vaccination.CompletedVaccination
	for _, c := range v.st.completed {
		if c.ChildID == childID && (vaccineID == "" || c.VaccineID == vaccineID) {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Dose < result[j].Dose })
	return result, nil
}

// Requests

func (v *view) InsertRequest(_ context.Context, r *vaccination.VaccineRequest) error {
	if _, exists := v.st.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	v.st.requests[r.ID] = *r
	return nil
}

func (v *view) GetRequest(_ context.Context, id vaccination.RequestID) (*vaccination.VaccineRequest, error) {
	r, ok := v.st.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, vaccination.ErrRequestNotFound)
	}
	return &r, nil
}

func (v *view) UpdateRequest(_ context.Context, r *vaccination.VaccineRequest) error {
	if _, ok := v.st.requests[r.ID]; !ok {
		return fmt.Errorf("request %s: %w", r.ID, vaccination.ErrRequestNotFound)
	}
	v.st.requests[r.ID] = *r
	return nil
}

func (v *view) ListRequests(_ context.Context, filter vaccination.RequestFilter) ([]vaccination.VaccineRequest, error) {
	var result []vaccination.VaccineRequest
	for _, r := range v.st.requests {
		if filter.ChildID != "" && r.ChildID != filter.ChildID {
			continue
		}
		if filter.VaccineID != "" && r.VaccineID != filter.VaccineID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.AppointmentID != "" && r.AppointmentID != filter.AppointmentID {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Timeline buckets

func (v *view) SaveBucketEntry(_ context.Context, e vaccination.TimelineEntry) error {
	if !e.Kind.IsBucket() {
		return fmt.Errorf("timeline kind %q is not a calendar bucket", e.Kind)
	}
	v.st.buckets = append(v.st.buckets, e)
	return nil
}

func (v *view) ListBucketEntries(_ context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.TimelineEntry, error) {
	var result []vaccination.TimelineEntry
	for _, e := range v.st.buckets {
		if e.ChildID == childID && e.VaccineID == vaccineID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (v *view) DeleteBucketEntries(_ context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID, calendarID vaccination.CalendarID, dose int) (int, error) {
	kept := v.st.buckets[:0:0]
	removed := 0
	for _, e := range v.st.buckets {
		if e.ChildID == childID && e.VaccineID == vaccineID && e.CalendarID == calendarID && e.Dose == dose {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	v.st.buckets = kept
	return removed, nil
}

var (
	_ stock.TxStore     = (*Memory)(nil)
	_ vaccination.Store = (*Memory)(nil)
	_ vaccination.Store = (*view)(nil)
)
