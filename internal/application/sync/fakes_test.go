package syncapp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/qbsync/backend/internal/domain/billing"
	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/integration"
)

// fakeGateway is an in-memory accounting platform
type fakeGateway struct {
	mu     sync.Mutex
	nextID int
	realm  string

	customers map[string]string
	items     map[string]string
	methods   map[string]string

	invoices []integration.SalesDocument
	receipts []integration.SalesDocument

	// hooks to inject failures
	createCustomerErr []error
	createItemErr     error
	postErr           map[string]error
	postPanic         string // document number whose post panics
	hiddenItems       map[string]int // lookups to miss before an item becomes visible

	createdCustomers []integration.NewCustomer
	createdItems     []integration.NewItem
	searches         []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextID:      100,
		realm:       "9130",
		customers:   make(map[string]string),
		items:       make(map[string]string),
		methods:     make(map[string]string),
		postErr:     make(map[string]error),
		hiddenItems: make(map[string]int),
	}
}

func (g *fakeGateway) id() string {
	g.nextID++
	return strconv.Itoa(g.nextID)
}

func (g *fakeGateway) CompanyID() string { return g.realm }

func (g *fakeGateway) FindCustomerByDisplayName(_ context.Context, name string) (*integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.customers[name]; ok {
		return &integration.Ref{ID: id, Name: name}, nil
	}
	return nil, nil
}

func (g *fakeGateway) SearchCustomers(_ context.Context, fragment string) ([]integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searches = append(g.searches, fragment)
	var refs []integration.Ref
	for name, id := range g.customers {
		if strings.Contains(name, fragment) {
			refs = append(refs, integration.Ref{ID: id, Name: name})
		}
	}
	return refs, nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, c integration.NewCustomer) (integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdCustomers = append(g.createdCustomers, c)
	if len(g.createCustomerErr) > 0 {
		err := g.createCustomerErr[0]
		g.createCustomerErr = g.createCustomerErr[1:]
		if err != nil {
			if errors.Is(err, integration.ErrDuplicateName) {
				// another writer won the race
				g.customers[c.DisplayName] = g.id()
			}
			return integration.Ref{}, err
		}
	}
	id := g.id()
	g.customers[c.DisplayName] = id
	return integration.Ref{ID: id, Name: c.DisplayName}, nil
}

func (g *fakeGateway) FindItemByName(_ context.Context, name string) (*integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.hiddenItems[name]; n > 0 {
		g.hiddenItems[name] = n - 1
		return nil, nil
	}
	if id, ok := g.items[name]; ok {
		return &integration.Ref{ID: id, Name: name}, nil
	}
	return nil, nil
}

func (g *fakeGateway) CreateItem(_ context.Context, item integration.NewItem) (integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdItems = append(g.createdItems, item)
	if g.createItemErr != nil {
		return integration.Ref{}, g.createItemErr
	}
	id := g.id()
	g.items[item.Name] = id
	return integration.Ref{ID: id, Name: item.Name}, nil
}

func (g *fakeGateway) FindPaymentMethod(_ context.Context, name string) (*integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.methods[name]; ok {
		return &integration.Ref{ID: id, Name: name}, nil
	}
	return nil, nil
}

func (g *fakeGateway) CreatePaymentMethod(_ context.Context, name string) (integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id()
	g.methods[name] = id
	return integration.Ref{ID: id, Name: name}, nil
}

func (g *fakeGateway) CreateInvoice(_ context.Context, doc integration.SalesDocument) (integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.postErr[doc.DocNumber]; err != nil {
		return integration.Ref{}, err
	}
	g.invoices = append(g.invoices, doc)
	return integration.Ref{ID: g.id(), Name: doc.DocNumber}, nil
}

func (g *fakeGateway) CreateSalesReceipt(_ context.Context, doc integration.SalesDocument) (integration.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postPanic != "" && g.postPanic == doc.DocNumber {
		panic("receipt encoder exploded")
	}
	if err := g.postErr[doc.DocNumber]; err != nil {
		return integration.Ref{}, err
	}
	g.receipts = append(g.receipts, doc)
	return integration.Ref{ID: g.id(), Name: doc.DocNumber}, nil
}

var _ integration.AccountingGateway = (*fakeGateway)(nil)

// memoryMappings implements IDCache and MappingSource without a file
type memoryMappings struct {
	mu         sync.Mutex
	realm      string
	categories map[string]string
	markups    map[billing.Category]decimal.Decimal
	accounts   map[billing.Category]string
	customers  map[string]string
	services   map[string]string
	methods    map[string]string
	setErr     error
}

func newMemoryMappings() *memoryMappings {
	return &memoryMappings{
		categories: map[string]string{"Paracetamol 500mg": "Pharmacy", "CBC": "Lab"},
		markups: map[billing.Category]decimal.Decimal{
			billing.Category("Pharmacy"): decimal.RequireFromString("1.25"),
		},
		accounts:  map[billing.Category]string{billing.Category("Pharmacy"): "79"},
		customers: make(map[string]string),
		services:  make(map[string]string),
		methods:   make(map[string]string),
	}
}

func (m *memoryMappings) CategoryFor(product string) (string, bool) {
	c, ok := m.categories[product]
	return c, ok
}

func (m *memoryMappings) Markups() map[billing.Category]decimal.Decimal { return m.markups }

func (m *memoryMappings) BindRealm(realm string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.realm != "" && m.realm != realm {
		m.customers = make(map[string]string)
		m.services = make(map[string]string)
		m.methods = make(map[string]string)
	}
	m.realm = realm
	return nil
}

func (m *memoryMappings) IncomeAccount(c billing.Category) (string, bool) {
	a, ok := m.accounts[c]
	return a, ok
}

func (m *memoryMappings) get(t map[string]string, k string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := t[k]
	return v, ok
}

func (m *memoryMappings) set(t map[string]string, k, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	t[k] = v
	return nil
}

func (m *memoryMappings) CustomerID(k string) (string, bool)      { return m.get(m.customers, k) }
func (m *memoryMappings) SetCustomerID(k, v string) error         { return m.set(m.customers, k, v) }
func (m *memoryMappings) ServiceID(k string) (string, bool)       { return m.get(m.services, k) }
func (m *memoryMappings) SetServiceID(k, v string) error          { return m.set(m.services, k, v) }
func (m *memoryMappings) PaymentMethodID(k string) (string, bool) { return m.get(m.methods, k) }
func (m *memoryMappings) SetPaymentMethodID(k, v string) error    { return m.set(m.methods, k, v) }

var (
	_ IDCache       = (*memoryMappings)(nil)
	_ MappingSource = (*memoryMappings)(nil)
)

// MockImportHistoryRepository is a mock implementation of ImportHistoryRepository
type MockImportHistoryRepository struct {
	mock.Mock
}

func (m *MockImportHistoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*bulk.ImportHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bulk.ImportHistory), args.Error(1)
}

func (m *MockImportHistoryRepository) FindAll(ctx context.Context, filter bulk.ImportHistoryFilter, page, pageSize int) (*bulk.ImportHistoryListResult, error) {
	args := m.Called(ctx, filter, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bulk.ImportHistoryListResult), args.Error(1)
}

func (m *MockImportHistoryRepository) FindLatestByFileHash(ctx context.Context, hash string) (*bulk.ImportHistory, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bulk.ImportHistory), args.Error(1)
}

func (m *MockImportHistoryRepository) Save(ctx context.Context, history *bulk.ImportHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockImportHistoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// recordingArchive remembers every archived path
type recordingArchive struct {
	mu      sync.Mutex
	folders []string
	paths   []string
	err     error
}

func (a *recordingArchive) Archive(_ context.Context, folder, localPath string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.folders = append(a.folders, folder)
	a.paths = append(a.paths, localPath)
	return "archive/" + folder + "/" + localPath[strings.LastIndex(localPath, "/")+1:], nil
}

var errBoom = errors.New("boom")
