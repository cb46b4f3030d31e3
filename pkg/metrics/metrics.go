// Package metrics keeps in-process counters for the reconciliation core and
// serves them as a JSON snapshot on the health surface.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"aegis/pkg/httpx"
)

type Registry struct {
	mu            sync.RWMutex
	endpoint      map[string]*EndpointStat
	syncOutcome   map[string]int64
	upsertAction  map[string]int64
	providerCall  map[string]int64
	deleteOutcome map[string]int64
}

type EndpointStat struct {
	Count         int64   `json:"count"`
	ErrorCount    int64   `json:"error_count"`
	TotalMillis   int64   `json:"total_millis"`
	MaxMillis     int64   `json:"max_millis"`
	AverageMillis float64 `json:"average_millis"`
}

type Snapshot struct {
	GeneratedAt    string                  `json:"generated_at"`
	Endpoints      map[string]EndpointStat `json:"endpoints"`
	SyncOutcomes   map[string]int64        `json:"sync_outcomes"`
	UpsertActions  map[string]int64        `json:"upsert_actions"`
	ProviderCalls  map[string]int64        `json:"provider_calls"`
	DeleteOutcomes map[string]int64        `json:"delete_outcomes"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:      map[string]*EndpointStat{},
		syncOutcome:   map[string]int64{},
		upsertAction:  map[string]int64{},
		providerCall:  map[string]int64{},
		deleteOutcome: map[string]int64{},
	}
}

// Observe records one handled request for an endpoint.
func (r *Registry) Observe(path string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	ms := d.Milliseconds()
	stat.TotalMillis += ms
	if ms > stat.MaxMillis {
		stat.MaxMillis = ms
	}
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncSyncOutcome(success bool) {
	if r == nil {
		return
	}
	r.inc(r.syncOutcome, outcomeKey(success))
}

func (r *Registry) IncDeleteOutcome(success bool) {
	if r == nil {
		return
	}
	r.inc(r.deleteOutcome, outcomeKey(success))
}

func (r *Registry) IncUpsertAction(action string) {
	if r == nil {
		return
	}
	r.inc(r.upsertAction, action)
}

// IncProviderCall counts one remote call by operation name.
func (r *Registry) IncProviderCall(op string) {
	if r == nil {
		return
	}
	r.inc(r.providerCall, op)
}

func (r *Registry) inc(m map[string]int64, key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	m[key]++
	r.mu.Unlock()
}

func outcomeKey(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Endpoints:      map[string]EndpointStat{},
		SyncOutcomes:   map[string]int64{},
		UpsertActions:  map[string]int64{},
		ProviderCalls:  map[string]int64{},
		DeleteOutcomes: map[string]int64{},
	}
	if r == nil {
		return snap
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.endpoint {
		snap.Endpoints[k] = *v
	}
	for k, v := range r.syncOutcome {
		snap.SyncOutcomes[k] = v
	}
	for k, v := range r.upsertAction {
		snap.UpsertActions[k] = v
	}
	for k, v := range r.providerCall {
		snap.ProviderCalls[k] = v
	}
	for k, v := range r.deleteOutcome {
		snap.DeleteOutcomes[k] = v
	}
	return snap
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Snapshot())
	}
}

// Middleware records per-endpoint stats for every handled request.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.Observe(req.Method+" "+req.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
