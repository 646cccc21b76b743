package syncapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/billing"
	"github.com/qbsync/backend/internal/domain/integration"
	"github.com/qbsync/backend/internal/infrastructure/logger"
)

// IDCache holds IDs learned from earlier runs, keyed by name.
// mapping.Store implements it on top of mappings.json.
type IDCache interface {
	CustomerID(displayName string) (string, bool)
	SetCustomerID(displayName, id string) error
	ServiceID(name string) (string, bool)
	SetServiceID(name, id string) error
	PaymentMethodID(name string) (string, bool)
	SetPaymentMethodID(name, id string) error
	IncomeAccount(category billing.Category) (string, bool)
}

// Placeholder contact details sent with every new customer
const (
	placeholderPhone       = "0712345678"
	placeholderLine1       = "N/A"
	placeholderCity        = "Nairobi"
	placeholderCountry     = "Kenya"
	placeholderSubDivision = "KE-110"
	placeholderPostalCode  = "00100"
)

const defaultCustomerAttempts = 3

// ErrUnresolved is returned when a record could be neither found nor created
var ErrUnresolved = errors.New("sync: record could not be resolved")

// isNumericID reports whether id looks like a platform record ID
func isNumericID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

// isFatal reports errors that no retry can fix within this run
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, integration.ErrPlatformAuthFailed) ||
		errors.Is(err, integration.ErrPlatformNotConfigured)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// remember stores a learned ID. A failed write only costs a lookup next run.
func remember(log *zap.Logger, kind, name, id string, set func(string, string) error) {
	if err := set(name, id); err != nil {
		log.Warn("Failed to cache resolved ID",
			zap.String("kind", kind),
			zap.String("name", name),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// CustomerResolver finds or creates the customer a transaction is billed to
type CustomerResolver struct {
	directory integration.CustomerDirectory
	cache     IDCache
	logger    *zap.Logger
	attempts  int
	delay     time.Duration
}

// NewCustomerResolver creates a CustomerResolver
func NewCustomerResolver(directory integration.CustomerDirectory, cache IDCache, logger *zap.Logger) *CustomerResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerResolver{
		directory: directory,
		cache:     cache,
		logger:    logger,
		attempts:  defaultCustomerAttempts,
		delay:     time.Second,
	}
}

// Resolve returns the platform ID of the customer
func (r *CustomerResolver) Resolve(ctx context.Context, c billing.Customer) (string, error) {
	log := logger.FromContext(ctx, r.logger)
	name := c.DisplayName

	if id, ok := r.cache.CustomerID(name); ok {
		if isNumericID(id) {
			return id, nil
		}
		log.Warn("Ignoring non-numeric cached customer ID", zap.String("customer", name), zap.String("id", id))
	}

	ref, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if ref != nil {
		log.Info("Found existing customer", zap.String("customer", name), zap.String("id", ref.ID))
		remember(log, "customer", name, ref.ID, r.cache.SetCustomerID)
		return ref.ID, nil
	}

	nc := newCustomer(c)
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		created, err := r.directory.CreateCustomer(ctx, nc)
		if err == nil && isNumericID(created.ID) {
			log.Info("Created customer", zap.String("customer", name), zap.String("id", created.ID))
			remember(log, "customer", name, created.ID, r.cache.SetCustomerID)
			return created.ID, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %q", integration.ErrInvalidRecordID, created.ID)
		}
		lastErr = err

		if errors.Is(err, integration.ErrDuplicateName) {
			log.Info("Customer already exists, looking it up", zap.String("customer", name))
			ref, lookupErr := r.lookup(ctx, name)
			if lookupErr == nil && ref != nil {
				remember(log, "customer", name, ref.ID, r.cache.SetCustomerID)
				return ref.ID, nil
			}
		}
		if isFatal(ctx, err) {
			break
		}

		log.Warn("Customer creation attempt failed",
			zap.String("customer", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < r.attempts {
			if err := sleepContext(ctx, r.delay); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("%w: customer %q: %w", ErrUnresolved, name, lastErr)
}

// lookup tries an exact display name match, then LIKE searches over the
// spellings of the patient ID marker.
func (r *CustomerResolver) lookup(ctx context.Context, name string) (*integration.Ref, error) {
	ref, err := r.directory.FindCustomerByDisplayName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ref != nil && isNumericID(ref.ID) {
		return ref, nil
	}

	log := logger.FromContext(ctx, r.logger)
	for _, variant := range nameVariants(name) {
		refs, err := r.directory.SearchCustomers(ctx, variant)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			log.Debug("Customer search failed", zap.String("fragment", variant), zap.Error(err))
			continue
		}
		if match := pickCustomer(refs, variant); match != nil {
			return match, nil
		}
	}
	return nil, nil
}

// nameVariants returns the distinct spellings to search for
func nameVariants(name string) []string {
	candidates := []string{
		name,
		strings.ReplaceAll(name, " ID ", " Id "),
		strings.ReplaceAll(name, " ID ", " id "),
	}
	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// pickCustomer prefers a case-insensitive exact match over the first hit
func pickCustomer(refs []integration.Ref, name string) *integration.Ref {
	var first *integration.Ref
	for i := range refs {
		if !isNumericID(refs[i].ID) {
			continue
		}
		if strings.EqualFold(refs[i].Name, name) {
			return &refs[i]
		}
		if first == nil {
			first = &refs[i]
		}
	}
	return first
}

func newCustomer(c billing.Customer) integration.NewCustomer {
	nc := integration.NewCustomer{
		DisplayName: c.DisplayName,
		Email:       c.Email,
		Phone:       placeholderPhone,
		Address: integration.Address{
			Line1:       placeholderLine1,
			City:        placeholderCity,
			Country:     placeholderCountry,
			SubDivision: placeholderSubDivision,
			PostalCode:  placeholderPostalCode,
		},
	}
	if c.IsInsurer {
		nc.CompanyName = c.CompanyName
	} else {
		nc.GivenName = c.GivenName
	}
	return nc
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// ItemResolver finds or creates the service item a line posts against
type ItemResolver struct {
	catalog integration.ItemCatalog
	cache   IDCache
	logger  *zap.Logger
	retries int
	delay   time.Duration
}

// NewItemResolver creates an ItemResolver. After a duplicate-name create the
// lookup is retried up to retries times, waiting delay × attempt between tries.
func NewItemResolver(catalog integration.ItemCatalog, cache IDCache, retries int, delay time.Duration, logger *zap.Logger) *ItemResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries <= 0 {
		retries = 3
	}
	return &ItemResolver{
		catalog: catalog,
		cache:   cache,
		logger:  logger,
		retries: retries,
		delay:   delay,
	}
}

// Resolve returns the platform ID of the line's service item
func (r *ItemResolver) Resolve(ctx context.Context, line billing.LineItem) (string, error) {
	log := logger.FromContext(ctx, r.logger)
	name := line.ItemName

	if id, ok := r.cache.ServiceID(name); ok && isNumericID(id) {
		return id, nil
	}

	ref, err := r.catalog.FindItemByName(ctx, name)
	if err != nil {
		return "", err
	}
	if ref != nil && isNumericID(ref.ID) {
		remember(log, "item", name, ref.ID, r.cache.SetServiceID)
		return ref.ID, nil
	}

	item := integration.NewItem{
		Name:        name,
		Description: billing.ItemDescription(line.Product),
	}
	if account, ok := r.cache.IncomeAccount(line.Category); ok {
		item.IncomeAccountID = account
	}

	created, err := r.catalog.CreateItem(ctx, item)
	switch {
	case err == nil && isNumericID(created.ID):
		log.Info("Created item",
			zap.String("item", name),
			zap.String("category", line.Category.String()),
			zap.String("id", created.ID),
		)
		remember(log, "item", name, created.ID, r.cache.SetServiceID)
		return created.ID, nil
	case err == nil:
		return "", fmt.Errorf("%w: item %q: %w: %q", ErrUnresolved, name, integration.ErrInvalidRecordID, created.ID)
	case !errors.Is(err, integration.ErrDuplicateName):
		return "", fmt.Errorf("%w: item %q: %w", ErrUnresolved, name, err)
	}

	// another writer created it; wait for it to become visible to queries
	log.Info("Item already exists, retrying lookup", zap.String("item", name))
	for attempt := 1; attempt <= r.retries; attempt++ {
		if err := sleepContext(ctx, r.delay*time.Duration(attempt)); err != nil {
			return "", err
		}
		ref, err := r.catalog.FindItemByName(ctx, name)
		if err != nil {
			if isFatal(ctx, err) {
				return "", err
			}
			log.Debug("Item lookup failed", zap.String("item", name), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if ref != nil && isNumericID(ref.ID) {
			remember(log, "item", name, ref.ID, r.cache.SetServiceID)
			return ref.ID, nil
		}
	}

	return "", fmt.Errorf("%w: item %q exists but could not be found", ErrUnresolved, name)
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

// PaymentMethodResolver finds or creates the payment method of a receipt
type PaymentMethodResolver struct {
	methods integration.PaymentMethods
	cache   IDCache
	logger  *zap.Logger
}

// NewPaymentMethodResolver creates a PaymentMethodResolver
func NewPaymentMethodResolver(methods integration.PaymentMethods, cache IDCache, logger *zap.Logger) *PaymentMethodResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentMethodResolver{methods: methods, cache: cache, logger: logger}
}

// Resolve returns the platform ID of the named payment method
func (r *PaymentMethodResolver) Resolve(ctx context.Context, name string) (string, error) {
	log := logger.FromContext(ctx, r.logger)
	if name == "" {
		name = billing.DefaultPaymentMethod
	}

	if id, ok := r.cache.PaymentMethodID(name); ok && isNumericID(id) {
		return id, nil
	}

	ref, err := r.methods.FindPaymentMethod(ctx, name)
	if err != nil {
		return "", err
	}
	if ref == nil {
		created, createErr := r.methods.CreatePaymentMethod(ctx, name)
		switch {
		case createErr == nil:
			log.Info("Created payment method", zap.String("payment_method", name), zap.String("id", created.ID))
			ref = &created
		case errors.Is(createErr, integration.ErrDuplicateName):
			if ref, err = r.methods.FindPaymentMethod(ctx, name); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("%w: payment method %q: %w", ErrUnresolved, name, createErr)
		}
	}
	if ref == nil || !isNumericID(ref.ID) {
		return "", fmt.Errorf("%w: payment method %q", ErrUnresolved, name)
	}

	remember(log, "payment_method", name, ref.ID, r.cache.SetPaymentMethodID)
	return ref.ID, nil
}
