package dispatch

import (
	"context"
	"sync"

	"github.com/driftstack/drift-engine/internal/models"
)

// pendingRequest tracks one in-flight diagnosis request: its cancellation
// handle and the responses collected so far.
type pendingRequest struct {
	request   models.DiagnosisRequest
	cancel    context.CancelFunc
	responses map[string]models.ProviderResponse
}

func (p *pendingRequest) complete() bool {
	return len(p.responses) >= len(p.request.Providers)
}

// collected returns the responses gathered so far, ordered by the request's
// provider list so records are deterministic regardless of arrival order.
func (p *pendingRequest) collected() []models.ProviderResponse {
	out := make([]models.ProviderResponse, 0, len(p.responses))
	for _, name := range p.request.Providers {
		if resp, ok := p.responses[name]; ok {
			out = append(out, resp)
		}
	}
	return out
}

// pendingTable is the one piece of state shared between the ingestion path
// (admit/evict) and the reconciler (record/remove). A single mutex guards it,
// held only for the duration of each decision, never across a provider call.
type pendingTable struct {
	mu    sync.Mutex
	order []string // correlation ids in arrival order; index 0 is oldest
	byID  map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{byID: make(map[string]*pendingRequest)}
}

// admit inserts a new request, evicting and returning the oldest pending one
// when the table already holds maxInFlight entries.
func (t *pendingTable) admit(req models.DiagnosisRequest, cancel context.CancelFunc, maxInFlight int) (evicted *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxInFlight > 0 && len(t.order) >= maxInFlight {
		oldest := t.order[0]
		t.order = t.order[1:]
		evicted = t.byID[oldest]
		delete(t.byID, oldest)
	}

	t.order = append(t.order, req.CorrelationID)
	t.byID[req.CorrelationID] = &pendingRequest{
		request:   req,
		cancel:    cancel,
		responses: make(map[string]models.ProviderResponse, len(req.Providers)),
	}
	return evicted
}

// record attaches a provider response to its request. It returns found=false
// when the correlation id is unknown (already completed or evicted) and the
// finished request when this response completed it.
func (t *pendingTable) record(resp models.ProviderResponse) (finished *pendingRequest, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[resp.CorrelationID]
	if !ok {
		return nil, false
	}
	entry.responses[resp.Provider] = resp
	if !entry.complete() {
		return nil, true
	}

	delete(t.byID, resp.CorrelationID)
	t.removeFromOrder(resp.CorrelationID)
	return entry, true
}

// drain removes and returns every pending request, for shutdown.
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*pendingRequest, 0, len(t.order))
	for _, id := range t.order {
		if entry, ok := t.byID[id]; ok {
			out = append(out, entry)
		}
	}
	t.order = nil
	t.byID = make(map[string]*pendingRequest)
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *pendingTable) removeFromOrder(id string) {
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
