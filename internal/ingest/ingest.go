// Package ingest drives uploaded rows through normalization, scoring and
// classification, handing each valid customer to a Sink.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/churn"
	"github.com/refset/churnguard/internal/source"
)

// HeaderOffset converts a zero-based data row index into the row number shown
// to users: one for 1-indexing plus one for the header line.
const HeaderOffset = 2

// DefaultErrorLimit is how many row errors a Summary shows.
const DefaultErrorLimit = 10

var (
	// ErrMissingName is the row error for a row with no customer name.
	ErrMissingName = errors.New("Missing required field: name")
	// ErrMissingTenant is returned when Run is called without a tenant.
	ErrMissingTenant = errors.New("tenant id is required")
)

// Sink persists a scored customer and returns its generated id.
type Sink interface {
	Create(ctx context.Context, tenantID string, customer *churn.Customer) (string, error)
}

// RowError records why one row was not imported.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Created is a row that made it to the sink.
type Created struct {
	Row      int
	Customer *churn.Customer
}

// Result is the full, untruncated outcome of a batch.
type Result struct {
	Total    int
	Imported int
	Failed   int
	Errors   []RowError
	Created  []Created
}

// Summary is the presentation form of a Result.
type Summary struct {
	Message  string     `json:"message"`
	Total    int        `json:"total"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

// Summary keeps every count but only the first limit errors. A limit of zero
// or less keeps them all.
func (r *Result) Summary(limit int) Summary {
	errs := r.Errors
	if limit > 0 && len(errs) > limit {
		errs = errs[:limit]
	}
	message := fmt.Sprintf("Successfully imported %d customers", r.Imported)
	if r.Failed > 0 {
		message += fmt.Sprintf(", %d failed", r.Failed)
	}
	return Summary{
		Message:  message,
		Total:    r.Total,
		Imported: r.Imported,
		Failed:   r.Failed,
		Errors:   append([]RowError{}, errs...),
	}
}

// Orchestrator runs batches of rows. It keeps no state between calls.
type Orchestrator struct {
	sink   Sink
	now    func() time.Time
	logger *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for inactivity scoring.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger used for row failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator that hands customers to sink.
func New(sink Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sink:   sink,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes rows in order. Row failures are collected and never stop the
// batch; only a missing tenant or a cancelled context does.
func (o *Orchestrator) Run(ctx context.Context, tenantID string, rows []source.Row) (*Result, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrMissingTenant
	}

	now := o.now()
	result := &Result{}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rowNumber := i + HeaderOffset
		result.Total++

		customer, err := o.processRow(ctx, tenantID, row, now)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Error: err.Error()})
			o.logger.Warn("row not imported",
				zap.String("tenant", tenantID),
				zap.Int("row", rowNumber),
				zap.Error(err))
			continue
		}

		result.Imported++
		result.Created = append(result.Created, Created{Row: rowNumber, Customer: customer})
	}

	o.logger.Info("batch processed",
		zap.String("tenant", tenantID),
		zap.Int("total", result.Total),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed))
	return result, nil
}

// CreateOne validates, scores and stores a single customer. Unlike Run, the
// validation error is returned to the caller.
func (o *Orchestrator) CreateOne(ctx context.Context, tenantID string, fields churn.Fields) (*churn.Customer, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrMissingTenant
	}
	customer, err := Build(tenantID, fields, o.now())
	if err != nil {
		return nil, err
	}
	id, err := o.sink.Create(ctx, tenantID, customer)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	customer.ID = id
	return customer, nil
}

func (o *Orchestrator) processRow(ctx context.Context, tenantID string, row source.Row, now time.Time) (customer *churn.Customer, err error) {
	defer func() {
		if r := recover(); r != nil {
			customer = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	customer, err = Build(tenantID, churn.Normalize(row), now)
	if err != nil {
		return nil, err
	}
	id, err := o.sink.Create(ctx, tenantID, customer)
	if err != nil {
		return nil, err
	}
	customer.ID = id
	return customer, nil
}

// Build turns normalized fields into a scored customer using the import-time
// heuristic.
func Build(tenantID string, fields churn.Fields, now time.Time) (*churn.Customer, error) {
	name := strings.TrimSpace(fields.Get(churn.FieldName))
	if name == "" {
		return nil, ErrMissingName
	}

	customer := &churn.Customer{
		TenantID:         tenantID,
		Name:             name,
		Email:            strings.TrimSpace(fields.Get(churn.FieldEmail)),
		Phone:            strings.TrimSpace(fields.Get(churn.FieldPhone)),
		Company:          strings.TrimSpace(fields.Get(churn.FieldCompany)),
		Segment:          strings.ToLower(strings.TrimSpace(fields.Get(churn.FieldSegment))),
		LastActivityDate: strings.TrimSpace(fields.Get(churn.FieldLastActivityDate)),
		TotalRevenue:     ParseRevenue(fields.Get(churn.FieldTotalRevenue)),
		SupportTickets:   ParseTickets(fields.Get(churn.FieldSupportTickets)),
	}
	if len(fields.Extra) > 0 {
		customer.Metadata = make(map[string]string, len(fields.Extra))
		for k, v := range fields.Extra {
			customer.Metadata[k] = v
		}
	}

	customer.Apply(churn.Score(churn.ImportTimeHeuristic, customer.Signals(), now))
	return customer, nil
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// ParseRevenue reads a monetary amount, tolerating a dollar sign and thousands
// separators. Anything else that does not parse to a finite number is 0.
func ParseRevenue(value string) float64 {
	value = amountCleaner.Replace(strings.TrimSpace(value))
	if value == "" {
		return 0
	}
	revenue, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(revenue) || math.IsInf(revenue, 0) {
		return 0
	}
	return revenue
}

// ParseTickets reads a ticket count. Fractional counts are truncated and
// unparsable values are 0.
func ParseTickets(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if tickets, err := strconv.Atoi(value); err == nil {
		return tickets
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}
