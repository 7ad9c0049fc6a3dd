package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/refset/churnguard/internal/churn"
	"github.com/refset/churnguard/internal/ingest"
	"github.com/refset/churnguard/internal/kafka"
	"github.com/refset/churnguard/internal/store"
)

type upload struct {
	tenantID  string
	fileName  string
	objectKey string
	status    string
	imported  int
	failed    int
	errors    []ingest.RowError
	message   string
}

type memStore struct {
	mu        sync.Mutex
	customers map[string][]*churn.Customer
	uploads   map[string]*upload
	updates   []store.ScoreUpdate
	missing   map[string]bool
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		customers: map[string][]*churn.Customer{},
		uploads:   map[string]*upload{},
		missing:   map[string]bool{},
	}
}

func (m *memStore) CreateCustomer(_ context.Context, tenantID string, c *churn.Customer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	copied := *c
	copied.ID = fmt.Sprintf("cust-%d", m.seq)
	copied.TenantID = tenantID
	m.customers[tenantID] = append(m.customers[tenantID], &copied)
	return copied.ID, nil
}

func (m *memStore) UpdateScore(_ context.Context, tenantID string, u store.ScoreUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[u.CustomerID] {
		return fmt.Errorf("customer %s: %w", u.CustomerID, store.ErrNotFound)
	}
	for _, c := range m.customers[tenantID] {
		if c.ID == u.CustomerID {
			c.ChurnScore = u.ChurnScore
			c.RiskLevel = u.RiskLevel
			c.RiskFactors = u.RiskFactors
			c.RecommendedAction = u.RecommendedAction
			m.updates = append(m.updates, u)
			return nil
		}
	}
	return fmt.Errorf("customer %s: %w", u.CustomerID, store.ErrNotFound)
}

func (m *memStore) ListCustomers(_ context.Context, tenantID string) ([]churn.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]churn.Customer, 0, len(m.customers[tenantID]))
	for _, c := range m.customers[tenantID] {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChurnScore > out[j].ChurnScore })
	return out, nil
}

func (m *memStore) ListTenants(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tenants []string
	for tenant := range m.customers {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (m *memStore) Stats(_ context.Context, tenantID string) (*store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.Stats{ByLevel: map[churn.RiskLevel]int{}}
	for _, c := range m.customers[tenantID] {
		stats.TotalCustomers++
		stats.ByLevel[c.RiskLevel]++
		if c.ChurnScore >= store.HighRiskScore {
			stats.HighRiskCount++
			stats.RevenueAtRisk += c.TotalRevenue
		}
	}
	return stats, nil
}

func (m *memStore) CreateUpload(_ context.Context, tenantID, fileName, objectKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("upload-%d", m.seq)
	m.uploads[id] = &upload{tenantID: tenantID, fileName: fileName, objectKey: objectKey, status: store.UploadProcessing}
	return id, nil
}

func (m *memStore) CompleteUpload(_ context.Context, id string, imported, failed int, validation any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return store.ErrNotFound
	}
	errs, ok := validation.([]ingest.RowError)
	if !ok {
		return errors.New("unexpected validation payload")
	}
	u.status, u.imported, u.failed, u.errors = store.UploadCompleted, imported, failed, errs
	return nil
}

func (m *memStore) FailUpload(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return store.ErrNotFound
	}
	u.status, u.message = store.UploadFailed, message
	return nil
}

func (m *memStore) uploadByID(id string) upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.uploads[id]
}

func (m *memStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type recordingPublisher struct {
	mu      sync.Mutex
	scores  []kafka.ScoreEvent
	imports []kafka.ImportEvent
	err     error
	closed  bool
}

func (r *recordingPublisher) PublishScore(_ context.Context, e kafka.ScoreEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.scores = append(r.scores, e)
	return nil
}

func (r *recordingPublisher) PublishImport(_ context.Context, e kafka.ImportEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.imports = append(r.imports, e)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memArchive) Put(_ context.Context, tenantID, fileName string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := fmt.Sprintf("uploads/%s/%s", tenantID, fileName)
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = data
	return key, nil
}
