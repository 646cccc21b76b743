// Package syncapp drives billing exports through the accounting platform:
// read, group, resolve references, post, then route the file.
package syncapp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbsync/backend/internal/domain/billing"
	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/shared"
	csvimport "github.com/qbsync/backend/internal/infrastructure/import"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/infrastructure/scheduler"
	"github.com/qbsync/backend/internal/infrastructure/telemetry"
)

// Archiver copies a routed file to long-term storage and returns its key
type Archiver interface {
	Archive(ctx context.Context, folder, localPath string) (string, error)
}

// MappingSource supplies product categories and markups, and scopes the
// learned ID caches to the connected company.
type MappingSource interface {
	billing.CategoryLookup
	Markups() map[billing.Category]decimal.Decimal
	BindRealm(realmID string) error
}

// RealmProvider identifies the connected company
type RealmProvider interface {
	CompanyID() string
}

// Config holds the orchestrator's directories and pacing
type Config struct {
	InputDir         string
	ProcessedDir     string
	ErrorDir         string
	LedgerTTL        time.Duration
	TransactionDelay time.Duration
}

// Outcome is what happened to one transaction
type Outcome string

const (
	OutcomePosted        Outcome = "posted"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeAlreadyPosted Outcome = "already_posted"
	OutcomeFailed        Outcome = "failed"
)

// TransactionResult reports one transaction of a file
type TransactionResult struct {
	InvoiceNo  string  `json:"invoice_no"`
	Kind       string  `json:"kind"`
	Customer   string  `json:"customer"`
	Lines      int     `json:"lines"`
	Total      string  `json:"total"`
	Outcome    Outcome `json:"outcome"`
	DocumentID string  `json:"document_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Result reports one processed file
type Result struct {
	Success      bool                `json:"success"`
	FileName     string              `json:"file_name"`
	Destination  string              `json:"destination,omitempty"`
	ArchiveKey   string              `json:"archive_key,omitempty"`
	HistoryID    string              `json:"history_id,omitempty"`
	Posted       int                 `json:"posted"`
	Skipped      int                 `json:"skipped"`
	Failed       int                 `json:"failed"`
	Error        string              `json:"error,omitempty"`
	Transactions []TransactionResult `json:"transactions"`
	Logs         []string            `json:"logs"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLedger skips transactions the ledger has already seen
func WithLedger(ledger shared.IdempotencyStore) Option {
	return func(o *Orchestrator) {
		o.ledger = ledger
	}
}

// WithArchive copies every routed file to archive
func WithArchive(archive Archiver) Option {
	return func(o *Orchestrator) {
		o.archive = archive
	}
}

// WithHistory records one import history row per file
func WithHistory(history *HistoryService) Option {
	return func(o *Orchestrator) {
		o.history = history
	}
}

// WithMetrics records file and transaction counters
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithClock replaces time.Now for transaction dates and file prefixes
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator processes billing files one at a time
type Orchestrator struct {
	// mu serializes runs so uploads and the watcher never interleave on the
	// mappings file
	mu sync.Mutex

	cfg      Config
	poster   *Poster
	mappings MappingSource
	realm    RealmProvider
	mover    *FileMover
	history  *HistoryService
	ledger   shared.IdempotencyStore
	archive  Archiver
	metrics  *telemetry.SyncMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(
	cfg Config,
	poster *Poster,
	mappings MappingSource,
	realm RealmProvider,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		poster:   poster,
		mappings: mappings,
		realm:    realm,
		mover:    NewFileMover(cfg.ProcessedDir, cfg.ErrorDir),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.mover.now = o.now
	return o
}

// LedgerKey identifies a posted transaction within a company
func LedgerKey(realm string, tx billing.Transaction) string {
	return realm + ":" + tx.InvoiceNo + ":" + tx.Fingerprint()
}

// ProcessDirectory processes every supported file in the input directory in
// name order. Per-file failures are reported in the results; the returned
// error joins the files that could not be routed.
func (o *Orchestrator) ProcessDirectory(ctx context.Context, source bulk.ImportSource) ([]*Result, error) {
	names, err := scheduler.PendingFiles(o.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input directory: %w", err)
	}

	results := make([]*Result, 0, len(names))
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := o.ProcessFile(ctx, filepath.Join(o.cfg.InputDir, name), source)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return results, errors.Join(errs...)
}

// ProcessFile runs one file through the pipeline and moves it to the
// processed or error directory. The returned error is non-nil only when the
// file could not be moved; pipeline failures are reported in the Result.
func (o *Orchestrator) ProcessFile(ctx context.Context, path string, source bulk.ImportSource) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	started := time.Now()
	name := filepath.Base(path)

	ctx, span := telemetry.Start(ctx, "sync.process_file", telemetry.SpanFile.String(name))
	defer span.End()

	capture := logger.NewCapture(zapcore.InfoLevel)
	log := logger.WithTraceContext(ctx, capture.Attach(o.logger)).With(zap.String("file", name))
	ctx = logger.WithContext(ctx, log)

	log.Info("Processing file", zap.String("source", string(source)))

	res := &Result{FileName: name, Transactions: []TransactionResult{}}
	history := o.openHistory(ctx, log, path, name, source)
	if history != nil {
		res.HistoryID = history.ID.String()
		span.SetAttributes(telemetry.SpanHistoryID.String(res.HistoryID))
	}

	details := o.runGuarded(ctx, log, path, history, res)

	folder := FolderError
	if res.Success {
		folder = FolderProcessed
	}
	dest, moveErr := o.mover.Move(path, folder)
	if moveErr != nil {
		log.Error("Failed to move file", zap.String("folder", folder), zap.Error(moveErr))
		res.Success = false
		if res.Error == "" {
			res.Error = moveErr.Error()
		}
	} else {
		res.Destination = dest
		log.Info("Moved file", zap.String("destination", dest))
		res.ArchiveKey = o.archiveCopy(ctx, log, folder, dest)
	}

	o.closeHistory(ctx, log, history, res, details)
	o.metrics.RecordFile(ctx, string(source), folder, time.Since(started))
	span.SetAttributes(
		telemetry.SpanDestination.String(folder),
		telemetry.SpanTransactions.Int(len(res.Transactions)),
	)
	switch {
	case moveErr != nil:
		telemetry.Fail(span, moveErr)
	case res.Success:
		telemetry.Succeed(span)
	}

	log.Info("Finished file",
		zap.Bool("success", res.Success),
		zap.Int("posted", res.Posted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(started)),
	)
	res.Logs = capture.Lines()

	if moveErr != nil {
		return res, moveErr
	}
	return res, nil
}

// runGuarded turns a panic in the pipeline into a failed result so the file
// still leaves the input directory.
func (o *Orchestrator) runGuarded(ctx context.Context, log *zap.Logger, path string, history *bulk.ImportHistory, res *Result) (details []bulk.ImportErrorDetail) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", zap.Any("panic", r), zap.Stack("stacktrace"))
			res.Success = false
			res.Error = fmt.Sprintf("internal error: %v", r)
			details = append(details, bulk.ImportErrorDetail{Code: csvimport.ErrCodeSyncFailed, Message: res.Error})
		}
	}()
	return o.run(ctx, log, path, history, res)
}

// run reads, groups and posts a file, filling res and returning the details
// to record on its history.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, path string, history *bulk.ImportHistory, res *Result) []bulk.ImportErrorDetail {
	file, err := csvimport.ReadInvoiceFile(path)
	if err != nil {
		log.Error("Cannot read file", zap.Error(err))
		res.Error = err.Error()
		return []bulk.ImportErrorDetail{readErrorDetail(err)}
	}

	rowErrs := file.Errors.Errors()
	details := rowErrorDetails(rowErrs)
	warnings := 0
	for _, e := range rowErrs {
		if e.Warning {
			warnings++
			continue
		}
		log.Warn("Row rejected", zap.Int("row", e.Row), zap.String("column", e.Column), zap.String("reason", e.Message))
	}
	if warnings > 0 {
		log.Warn("Rows cleaned with defaults", zap.Int("warnings", warnings))
	}

	valid := file.ValidRows()
	rows := make([]billing.Row, 0, len(valid))
	for _, r := range valid {
		rows = append(rows, billing.ParseRow(r.LineNumber, r.Data))
	}
	groups, unassigned := billing.GroupByInvoice(rows)
	for _, r := range unassigned {
		log.Warn("Row has no invoice number", zap.Int("row", r.Line))
	}
	log.Info("Read file",
		zap.Int("rows", len(file.Rows)),
		zap.Int("transactions", len(groups)),
	)

	if history != nil {
		if err := o.history.StartProcessing(ctx, history, len(file.Rows), len(groups)); err != nil {
			log.Warn("Failed to update import history", zap.Error(err))
		}
	}

	if len(groups) == 0 {
		res.Error = "file has no rows with an invoice number"
		log.Error("Nothing to post", zap.String("reason", res.Error))
		return details
	}

	realm := ""
	if o.realm != nil {
		realm = o.realm.CompanyID()
	}
	if err := o.mappings.BindRealm(realm); err != nil {
		log.Warn("Failed to bind mappings to company", zap.String("realm_id", realm), zap.Error(err))
	}
	builder := billing.Builder{
		Categories: o.mappings,
		Markups:    billing.NewMarkupTable(o.mappings.Markups()),
		Now:        o.now,
	}

	for i, g := range groups {
		if i > 0 && o.cfg.TransactionDelay > 0 {
			_ = sleepContext(ctx, o.cfg.TransactionDelay)
		}
		tr, detail := o.processTransaction(ctx, log, realm, builder.Build(g), g.First().Line)
		res.Transactions = append(res.Transactions, tr)
		switch tr.Outcome {
		case OutcomePosted:
			res.Posted++
		case OutcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		if detail != nil {
			details = append(details, *detail)
		}
	}

	res.Success = res.Failed == 0
	if !res.Success {
		res.Error = fmt.Sprintf("%d of %d transactions failed", res.Failed, len(groups))
	}
	return details
}

// processTransaction posts one transaction unless the ledger has seen it
func (o *Orchestrator) processTransaction(
	ctx context.Context,
	log *zap.Logger,
	realm string,
	tx billing.Transaction,
	firstRow int,
) (tr TransactionResult, detail *bulk.ImportErrorDetail) {
	log = log.With(zap.String("invoice_no", tx.InvoiceNo))
	ctx = logger.WithContext(ctx, log)

	ctx, span := telemetry.Start(ctx, "sync.post_transaction",
		telemetry.SpanInvoiceNo.String(tx.InvoiceNo),
		telemetry.SpanDocumentKind.String(tx.Kind.String()),
		telemetry.SpanCustomer.String(tx.Customer.DisplayName),
		telemetry.SpanLineCount.Int(len(tx.Lines)),
	)
	defer span.End()

	tr = TransactionResult{
		InvoiceNo: tx.InvoiceNo,
		Kind:      tx.Kind.String(),
		Customer:  tx.Customer.DisplayName,
		Lines:     len(tx.Lines),
		Total:     tx.Total().StringFixed(2),
	}
	defer func() {
		span.SetAttributes(telemetry.SpanOutcome.String(string(tr.Outcome)))
		o.metrics.RecordTransaction(ctx, tx.Kind.String(), string(tr.Outcome))
	}()

	fail := func(err error) (TransactionResult, *bulk.ImportErrorDetail) {
		log.Error("Failed to post transaction", zap.Error(err))
		telemetry.Fail(span, err)
		tr.Outcome = OutcomeFailed
		tr.Error = err.Error()
		return tr, &bulk.ImportErrorDetail{
			Row:       firstRow,
			InvoiceNo: tx.InvoiceNo,
			Code:      csvimport.ErrCodeSyncFailed,
			Message:   err.Error(),
		}
	}

	for _, s := range tx.Skipped {
		log.Warn("Skipping line", zap.Int("row", s.SourceLine), zap.String("product", s.Product), zap.String("reason", s.Reason))
	}
	for _, l := range tx.Lines {
		if l.Mismatch {
			log.Warn("Total Amount differs from Quantity x Unit Cost",
				zap.Int("row", l.SourceLine),
				zap.String("quantity", l.SourceQuantity.String()),
				zap.String("unit_cost", l.SourceUnitCost.String()),
				zap.String("amount", l.Amount.String()),
			)
		}
	}

	if len(tx.Lines) == 0 {
		log.Warn("No billable lines, skipping transaction")
		tr.Outcome = OutcomeSkipped
		return tr, &bulk.ImportErrorDetail{
			Row:       firstRow,
			InvoiceNo: tx.InvoiceNo,
			Code:      csvimport.ErrCodeSyncNoLines,
			Message:   "transaction has no billable lines",
			Warning:   true,
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	key := LedgerKey(realm, tx)
	if o.ledger != nil {
		done, err := o.ledger.IsProcessed(ctx, key)
		if err != nil {
			return fail(fmt.Errorf("sync ledger unavailable: %w", err))
		}
		if done {
			log.Info("Transaction already posted, skipping")
			tr.Outcome = OutcomeAlreadyPosted
			return tr, &bulk.ImportErrorDetail{
				Row:       firstRow,
				InvoiceNo: tx.InvoiceNo,
				Code:      csvimport.ErrCodeSyncDuplicated,
				Message:   "transaction was already posted",
				Warning:   true,
			}
		}
	}

	ref, err := o.poster.Post(ctx, tx)
	if err != nil {
		return fail(err)
	}
	tr.Outcome = OutcomePosted
	tr.DocumentID = ref.ID
	log.Info("Posted "+documentLabel(tx.Kind),
		zap.String("customer", tx.Customer.DisplayName),
		zap.String("document_id", ref.ID),
		zap.String("total", tr.Total),
	)
	span.AddEvent("posted", trace.WithAttributes(attribute.String("document_id", ref.ID)))

	if o.ledger != nil {
		if _, err := o.ledger.MarkProcessed(ctx, key, o.cfg.LedgerTTL); err != nil {
			log.Warn("Failed to record transaction in sync ledger", zap.Error(err))
		}
	}
	return tr, nil
}

func documentLabel(k billing.Kind) string {
	if k == billing.KindInvoice {
		return "invoice"
	}
	return "sales receipt"
}

// readErrorDetail describes a file that could not be read
func readErrorDetail(err error) bulk.ImportErrorDetail {
	d := bulk.ImportErrorDetail{Code: csvimport.ErrCodeImportInvalidFile, Message: err.Error()}
	var missing *csvimport.MissingColumnsError
	switch {
	case errors.As(err, &missing):
		d.Code = csvimport.ErrCodeImportMissingHeader
		d.Value = strings.Join(missing.Columns, ", ")
	case errors.Is(err, csvimport.ErrMissingHeader):
		d.Code = csvimport.ErrCodeImportMissingHeader
	case errors.Is(err, csvimport.ErrNoDataRows):
		d.Code = csvimport.ErrCodeImportNoDataRows
	case errors.Is(err, csvimport.ErrEmptyFile):
		d.Code = csvimport.ErrCodeImportEmptyFile
	case errors.Is(err, csvimport.ErrInvalidEncoding):
		d.Code = csvimport.ErrCodeImportInvalidEncoding
	}
	return d
}

// openHistory creates the history row for a file. History is best effort:
// a failure is logged and the file is processed without one.
func (o *Orchestrator) openHistory(ctx context.Context, log *zap.Logger, path, name string, source bulk.ImportSource) *bulk.ImportHistory {
	if o.history == nil {
		return nil
	}
	hash, size, err := hashFile(path)
	if err != nil {
		log.Warn("Failed to hash file", zap.Error(err))
	}
	if prev := o.history.FindPreviousImport(ctx, hash); prev != nil {
		log.Info("Identical content was imported before",
			zap.String("import_id", prev.ID.String()),
			zap.String("status", string(prev.Status)),
		)
	}
	history, err := o.history.CreateHistory(ctx, name, hash, size, source)
	if err != nil {
		log.Warn("Failed to create import history", zap.Error(err))
		return nil
	}
	return history
}

func (o *Orchestrator) closeHistory(ctx context.Context, log *zap.Logger, history *bulk.ImportHistory, res *Result, details []bulk.ImportErrorDetail) {
	if history == nil {
		return
	}
	var err error
	if history.Status == bulk.ImportStatusProcessing && (res.Success || res.Failed > 0) {
		err = o.history.CompleteImport(ctx, history, res.Posted, res.Skipped, res.Failed, res.Destination, details)
	} else {
		err = o.history.FailImport(ctx, history, res.Destination, details)
	}
	if err != nil {
		log.Warn("Failed to update import history", zap.Error(err))
	}
}

// archiveCopy uploads a routed file when an archive is configured
func (o *Orchestrator) archiveCopy(ctx context.Context, log *zap.Logger, folder, path string) string {
	if o.archive == nil {
		return ""
	}
	key, err := o.archive.Archive(ctx, folder, path)
	if err != nil {
		log.Warn("Failed to archive file", zap.Error(err))
		return ""
	}
	log.Info("Archived file", zap.String("key", key))
	return key
}
