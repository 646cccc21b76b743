package syncapp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qbsync/backend/internal/domain/billing"
	"github.com/qbsync/backend/internal/domain/integration"
)

func patient(name string) billing.Customer {
	return billing.Customer{
		DisplayName: name,
		GivenName:   "Jane",
		Email:       billing.CustomerEmail(name),
	}
}

func TestCustomerResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("uses cached numeric id", func(t *testing.T) {
		gw := newFakeGateway()
		cache := newMemoryMappings()
		cache.customers["Jane Doe ID 7"] = "55"
		r := NewCustomerResolver(gw, cache, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.NoError(t, err)
		assert.Equal(t, "55", id)
		assert.Empty(t, gw.createdCustomers)
	})

	t.Run("ignores non-numeric cached id", func(t *testing.T) {
		gw := newFakeGateway()
		gw.customers["Jane Doe ID 7"] = "12"
		cache := newMemoryMappings()
		cache.customers["Jane Doe ID 7"] = "abc"
		r := NewCustomerResolver(gw, cache, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.NoError(t, err)
		assert.Equal(t, "12", id)
		assert.Equal(t, "12", cache.customers["Jane Doe ID 7"])
	})

	t.Run("finds by id spelling variant", func(t *testing.T) {
		gw := newFakeGateway()
		gw.customers["Jane Doe Id 7"] = "31"
		cache := newMemoryMappings()
		r := NewCustomerResolver(gw, cache, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.NoError(t, err)
		assert.Equal(t, "31", id)
		assert.Equal(t, []string{"Jane Doe ID 7", "Jane Doe Id 7"}, gw.searches)
	})

	t.Run("creates patient with placeholders", func(t *testing.T) {
		gw := newFakeGateway()
		cache := newMemoryMappings()
		r := NewCustomerResolver(gw, cache, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.NoError(t, err)
		require.Len(t, gw.createdCustomers, 1)

		nc := gw.createdCustomers[0]
		assert.Equal(t, "Jane", nc.GivenName)
		assert.Empty(t, nc.CompanyName)
		assert.Equal(t, "jane.doe.id.7@example.com", nc.Email)
		assert.Equal(t, "0712345678", nc.Phone)
		assert.Equal(t, integration.Address{
			Line1:       "N/A",
			City:        "Nairobi",
			Country:     "Kenya",
			SubDivision: "KE-110",
			PostalCode:  "00100",
		}, nc.Address)
		assert.Equal(t, id, cache.customers["Jane Doe ID 7"])
	})

	t.Run("creates insurer with company name", func(t *testing.T) {
		gw := newFakeGateway()
		r := NewCustomerResolver(gw, newMemoryMappings(), zaptest.NewLogger(t))

		_, err := r.Resolve(ctx, billing.Customer{
			DisplayName: "Jubilee Insurance Ltd",
			IsInsurer:   true,
			CompanyName: "Jubilee Insurance Ltd",
		})
		require.NoError(t, err)
		require.Len(t, gw.createdCustomers, 1)
		assert.Equal(t, "Jubilee Insurance Ltd", gw.createdCustomers[0].CompanyName)
		assert.Empty(t, gw.createdCustomers[0].GivenName)
	})

	t.Run("recovers from duplicate by lookup", func(t *testing.T) {
		gw := newFakeGateway()
		gw.createCustomerErr = []error{fmt.Errorf("%w: code 6240", integration.ErrDuplicateName)}
		cache := newMemoryMappings()
		r := NewCustomerResolver(gw, cache, zaptest.NewLogger(t))
		r.delay = 0

		id, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.NoError(t, err)
		assert.Equal(t, gw.customers["Jane Doe ID 7"], id)
		assert.Equal(t, id, cache.customers["Jane Doe ID 7"])
		assert.Len(t, gw.createdCustomers, 1)
	})

	t.Run("retries then gives up", func(t *testing.T) {
		gw := newFakeGateway()
		gw.createCustomerErr = []error{errBoom, errBoom, errBoom}
		r := NewCustomerResolver(gw, newMemoryMappings(), zaptest.NewLogger(t))
		r.delay = 0

		_, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnresolved)
		assert.ErrorIs(t, err, errBoom)
		assert.Len(t, gw.createdCustomers, 3)
	})

	t.Run("auth failure stops retries", func(t *testing.T) {
		gw := newFakeGateway()
		gw.createCustomerErr = []error{integration.ErrPlatformAuthFailed}
		r := NewCustomerResolver(gw, newMemoryMappings(), zaptest.NewLogger(t))
		r.delay = 0

		_, err := r.Resolve(ctx, patient("Jane Doe ID 7"))
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrPlatformAuthFailed)
		assert.Len(t, gw.createdCustomers, 1)
	})
}

func TestNameVariants(t *testing.T) {
	assert.Equal(t, []string{"Jane ID 7", "Jane Id 7", "Jane id 7"}, nameVariants("Jane ID 7"))
	assert.Equal(t, []string{"Jubilee Insurance Ltd"}, nameVariants("Jubilee Insurance Ltd"))
}

func TestPickCustomer(t *testing.T) {
	refs := []integration.Ref{
		{ID: "x", Name: "Jane ID 7"},
		{ID: "10", Name: "Jane ID 77"},
		{ID: "11", Name: "jane id 7"},
	}
	got := pickCustomer(refs, "Jane ID 7")
	require.NotNil(t, got)
	assert.Equal(t, "11", got.ID)

	got = pickCustomer(refs[:2], "Jane ID 7")
	require.NotNil(t, got)
	assert.Equal(t, "10", got.ID)

	assert.Nil(t, pickCustomer(nil, "Jane"))
}

func pharmacyLine() billing.LineItem {
	return billing.LineItem{
		SourceLine:  2,
		Product:     "Paracetamol 500mg",
		ItemName:    "Paracetamol Tablets",
		Description: "Paracetamol Tablets",
		Category:    billing.Category("Pharmacy"),
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.RequireFromString("125"),
		Amount:      decimal.RequireFromString("125"),
	}
}

func TestItemResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with income account", func(t *testing.T) {
		gw := newFakeGateway()
		cache := newMemoryMappings()
		r := NewItemResolver(gw, cache, 3, 0, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, pharmacyLine())
		require.NoError(t, err)
		require.Len(t, gw.createdItems, 1)
		assert.Equal(t, integration.NewItem{
			Name:            "Paracetamol Tablets",
			Description:     "Paracetamol 500mg",
			IncomeAccountID: "79",
		}, gw.createdItems[0])
		assert.Equal(t, id, cache.services["Paracetamol Tablets"])

		again, err := r.Resolve(ctx, pharmacyLine())
		require.NoError(t, err)
		assert.Equal(t, id, again)
		assert.Len(t, gw.createdItems, 1)
	})

	t.Run("finds existing item", func(t *testing.T) {
		gw := newFakeGateway()
		gw.items["Paracetamol Tablets"] = "42"
		r := NewItemResolver(gw, newMemoryMappings(), 3, 0, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, pharmacyLine())
		require.NoError(t, err)
		assert.Equal(t, "42", id)
		assert.Empty(t, gw.createdItems)
	})

	t.Run("duplicate retries lookup with backoff", func(t *testing.T) {
		gw := newFakeGateway()
		gw.items["Paracetamol Tablets"] = "42"
		gw.hiddenItems["Paracetamol Tablets"] = 2
		gw.createItemErr = integration.ErrDuplicateName
		r := NewItemResolver(gw, newMemoryMappings(), 3, time.Millisecond, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, pharmacyLine())
		require.NoError(t, err)
		assert.Equal(t, "42", id)
	})

	t.Run("duplicate never visible", func(t *testing.T) {
		gw := newFakeGateway()
		gw.createItemErr = integration.ErrDuplicateName
		r := NewItemResolver(gw, newMemoryMappings(), 2, time.Millisecond, zaptest.NewLogger(t))

		_, err := r.Resolve(ctx, pharmacyLine())
		assert.ErrorIs(t, err, ErrUnresolved)
	})

	t.Run("other create error", func(t *testing.T) {
		gw := newFakeGateway()
		gw.createItemErr = integration.ErrPlatformRequestFailed
		r := NewItemResolver(gw, newMemoryMappings(), 3, 0, zaptest.NewLogger(t))

		_, err := r.Resolve(ctx, pharmacyLine())
		assert.ErrorIs(t, err, integration.ErrPlatformRequestFailed)
	})

	t.Run("cache write failure is not fatal", func(t *testing.T) {
		gw := newFakeGateway()
		cache := newMemoryMappings()
		cache.setErr = errBoom
		r := NewItemResolver(gw, cache, 3, 0, zaptest.NewLogger(t))

		id, err := r.Resolve(ctx, pharmacyLine())
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}

func TestPaymentMethodResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	gw := newFakeGateway()
	gw.methods["Cash"] = "3"
	cache := newMemoryMappings()
	r := NewPaymentMethodResolver(gw, cache, zaptest.NewLogger(t))

	id, err := r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "3", id)
	assert.Equal(t, "3", cache.methods["Cash"])

	id, err = r.Resolve(ctx, "MPESA")
	require.NoError(t, err)
	assert.Equal(t, gw.methods["MPESA"], id)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), 0))
}
