// Package mapping persists the static product tables and the learned
// QuickBooks ID caches in a single JSON file.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/billing"
)

// Document is the on-disk layout of mappings.json
type Document struct {
	RealmID        string                     `json:"realm_id,omitempty"`
	Categories     map[string]string          `json:"categories"`
	Markups        map[string]decimal.Decimal `json:"markups"`
	IncomeAccounts map[string]string          `json:"income_accounts"`
	Services       map[string]string          `json:"services"`
	Customers      map[string]string          `json:"customers"`
	PaymentMethods map[string]string          `json:"payment_methods"`
}

func newDocument() Document {
	return Document{
		Categories:     make(map[string]string),
		Markups:        make(map[string]decimal.Decimal),
		IncomeAccounts: make(map[string]string),
		Services:       make(map[string]string),
		Customers:      make(map[string]string),
		PaymentMethods: make(map[string]string),
	}
}

// normalize fills nil maps so lookups and writes never need a nil check
func (d *Document) normalize() {
	if d.Categories == nil {
		d.Categories = make(map[string]string)
	}
	if d.Markups == nil {
		d.Markups = make(map[string]decimal.Decimal)
	}
	if d.IncomeAccounts == nil {
		d.IncomeAccounts = make(map[string]string)
	}
	if d.Services == nil {
		d.Services = make(map[string]string)
	}
	if d.Customers == nil {
		d.Customers = make(map[string]string)
	}
	if d.PaymentMethods == nil {
		d.PaymentMethods = make(map[string]string)
	}
}

// ErrUnreadable is returned by writes while the mappings file on disk
// cannot be parsed. Writing would replace the operator's tables with the
// in-memory copy.
var ErrUnreadable = errors.New("mapping: mappings file is unreadable")

// Store is a mutex-guarded view of mappings.json. Every learned ID is
// written through to disk immediately, and the file is re-read whenever its
// modification time or size changes, so tables edited by hand while the
// service runs are picked up.
type Store struct {
	mu     sync.Mutex
	path   string
	doc    Document
	logger *zap.Logger

	// stamp identifies the version of the file doc was read from or written to
	stamp fileStamp
	// broken is the parse error of the file currently on disk
	broken error
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(info fs.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (f fileStamp) same(o fileStamp) bool {
	return f.size == o.size && f.modTime.Equal(o.modTime)
}

// Open loads the mappings file at path. A missing file yields an empty
// store. A corrupt one is logged and leaves the store empty and read-only
// until the file is fixed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, doc: newDocument(), logger: logger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	if s.stamp.modTime.IsZero() && s.broken == nil {
		logger.Info("mappings file not found, starting empty", zap.String("path", path))
	}
	return s, nil
}

// refreshLocked re-reads the file when it changed since the last read or
// write. Callers hold s.mu.
func (s *Store) refreshLocked() error {
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// removed by hand; the next write recreates it from memory
		s.stamp = fileStamp{}
		s.broken = nil
		return nil
	case err != nil:
		return fmt.Errorf("mapping: stat %s: %w", s.path, err)
	}
	stamp := stampOf(info)
	if stamp.same(s.stamp) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("mapping: read %s: %w", s.path, err)
	}
	s.stamp = stamp

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.broken = err
		s.logger.Error("failed to parse mappings file, keeping previous tables",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}
	doc.normalize()
	s.logger.Info("reloaded mappings file", zap.String("path", s.path))
	s.doc = doc
	s.broken = nil
	return nil
}

// view refreshes the document and runs fn under the lock. A failed refresh
// is logged and fn sees the last good document.
func (s *Store) view(fn func(*Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		s.logger.Warn("failed to reload mappings file", zap.Error(err))
	}
	fn(&s.doc)
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a deep copy of the current document
func (s *Store) Snapshot() Document {
	out := newDocument()
	s.view(func(d *Document) {
		out.RealmID = d.RealmID
		maps.Copy(out.Categories, d.Categories)
		maps.Copy(out.Markups, d.Markups)
		maps.Copy(out.IncomeAccounts, d.IncomeAccounts)
		maps.Copy(out.Services, d.Services)
		maps.Copy(out.Customers, d.Customers)
		maps.Copy(out.PaymentMethods, d.PaymentMethods)
	})
	return out
}

// BindRealm scopes the learned caches to a QuickBooks company. When the
// file was built against a different realm its cached IDs are dropped.
func (s *Store) BindRealm(realmID string) error {
	if realmID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return err
	}
	if s.doc.RealmID == realmID {
		return nil
	}
	if s.doc.RealmID != "" {
		s.logger.Warn("mappings realm changed, clearing cached IDs",
			zap.String("previous", s.doc.RealmID), zap.String("realm_id", realmID))
		s.doc.Services = make(map[string]string)
		s.doc.Customers = make(map[string]string)
		s.doc.PaymentMethods = make(map[string]string)
	}
	s.doc.RealmID = realmID
	return s.saveLocked()
}

// CategoryFor implements billing.CategoryLookup. Exact keys win over
// case-insensitive matches.
func (s *Store) CategoryFor(product string) (category string, found bool) {
	s.view(func(d *Document) {
		if c, ok := d.Categories[product]; ok {
			category, found = c, true
			return
		}
		for k, c := range d.Categories {
			if strings.EqualFold(k, product) {
				category, found = c, true
				return
			}
		}
	})
	return category, found
}

// Markups returns the configured markup factors keyed by category
func (s *Store) Markups() map[billing.Category]decimal.Decimal {
	out := make(map[billing.Category]decimal.Decimal)
	s.view(func(d *Document) {
		for k, v := range d.Markups {
			out[billing.Category(k)] = v
		}
	})
	return out
}

// IncomeAccount returns the income account configured for a category
func (s *Store) IncomeAccount(category billing.Category) (account string, found bool) {
	s.view(func(d *Document) {
		for k, v := range d.IncomeAccounts {
			if strings.EqualFold(k, string(category)) && v != "" {
				account, found = v, true
				return
			}
		}
	})
	return account, found
}

// ServiceID returns the cached item ID for a product name
func (s *Store) ServiceID(name string) (string, bool) {
	return s.get(func(d *Document) map[string]string { return d.Services }, name)
}

// SetServiceID caches an item ID and persists the file
func (s *Store) SetServiceID(name, id string) error {
	return s.set(func(d *Document) map[string]string { return d.Services }, name, id)
}

// CustomerID returns the cached customer ID for a display name
func (s *Store) CustomerID(displayName string) (string, bool) {
	return s.get(func(d *Document) map[string]string { return d.Customers }, displayName)
}

// SetCustomerID caches a customer ID and persists the file
func (s *Store) SetCustomerID(displayName, id string) error {
	return s.set(func(d *Document) map[string]string { return d.Customers }, displayName, id)
}

// PaymentMethodID returns the cached payment method ID for a name
func (s *Store) PaymentMethodID(name string) (string, bool) {
	return s.get(func(d *Document) map[string]string { return d.PaymentMethods }, name)
}

// SetPaymentMethodID caches a payment method ID and persists the file
func (s *Store) SetPaymentMethodID(name, id string) error {
	return s.set(func(d *Document) map[string]string { return d.PaymentMethods }, name, id)
}

func (s *Store) get(table func(*Document) map[string]string, key string) (value string, found bool) {
	s.view(func(d *Document) {
		value, found = table(d)[key]
	})
	return value, found && value != ""
}

func (s *Store) set(table func(*Document) map[string]string, key, value string) error {
	if key == "" || value == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(); err != nil {
		return err
	}
	m := table(&s.doc)
	if m[key] == value {
		return nil
	}
	m[key] = value
	return s.saveLocked()
}

// saveLocked writes the document atomically through a temp file in the same
// directory. Callers hold s.mu and have refreshed the document.
func (s *Store) saveLocked() error {
	if s.broken != nil {
		return fmt.Errorf("%w: fix %s before new IDs can be saved: %v", ErrUnreadable, s.path, s.broken)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mapping: create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("mapping: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mappings-*.json")
	if err != nil {
		return fmt.Errorf("mapping: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mapping: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mapping: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mapping: replace %s: %w", s.path, err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.stamp = stampOf(info)
	}
	return nil
}
