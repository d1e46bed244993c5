package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"github.com/MarcoPoloResearchLab/footprint/internal/payments"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLookupTimeout = 10 * time.Second
	maxCommitAttempts    = 2
)

var errMissingDependency = errors.New("publish coordinator dependency missing")

// PaymentSource resolves a transaction id to the processor's view of the payment.
type PaymentSource interface {
	Retrieve(ctx context.Context, transactionID identity.TransactionID) (payments.Event, error)
}

// SerialAllocator mints new serial numbers.
type SerialAllocator interface {
	ClaimNextSerial(ctx context.Context) (identity.SerialNumber, error)
}

// PurchaseLedger is the idempotency anchor keyed by transaction id.
type PurchaseLedger interface {
	Lookup(ctx context.Context, transactionID identity.TransactionID) (identity.Purchase, bool, error)
	RecordIfAbsentWithin(tx *gorm.DB, entry identity.PurchaseEntry) (identity.RecordOutcome, error)
}

// PageWriter upserts the page row for a serial and slug.
type PageWriter interface {
	UpsertPrimaryWithin(tx *gorm.DB, serial identity.SerialNumber, slug footprints.Slug, profile footprints.Profile) (footprints.Footprint, error)
}

// ContentReplacer swaps the full tile set of a page.
type ContentReplacer interface {
	ReplaceWithin(tx *gorm.DB, footprintID int64, descriptors []content.Descriptor) ([]content.Tile, error)
	MaxTiles() int
}

// Notifier receives the once-per-customer first publish.
type Notifier interface {
	FootprintPublished(ctx context.Context, result Result)
}

// Config describes the collaborators of the Coordinator.
type Config struct {
	Database      *gorm.DB
	Payments      PaymentSource
	Allocator     SerialAllocator
	Ledger        PurchaseLedger
	Pages         PageWriter
	Content       ContentReplacer
	Notifier      Notifier
	LookupTimeout time.Duration
	Logger        *zap.Logger
}

// Result is the outcome of a publish that reached Done.
type Result struct {
	SerialNumber identity.SerialNumber
	Slug         footprints.Slug
	Footprint    footprints.Footprint
	Tiles        []content.Tile
	// FirstPublish is true only for the run that created the ledger row.
	FirstPublish bool
}

// Coordinator runs the publish pipeline. Each call is independent; every cross-call
// guarantee comes from store constraints, so any number of coordinators in any number of
// processes may serve the same database.
type Coordinator struct {
	db            *gorm.DB
	payments      PaymentSource
	allocator     SerialAllocator
	ledger        PurchaseLedger
	pages         PageWriter
	content       ContentReplacer
	notifier      Notifier
	lookupTimeout time.Duration
	logger        *zap.Logger
}

// NewCoordinator validates configuration and constructs a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Database == nil:
		return nil, fmt.Errorf("%w: database", errMissingDependency)
	case cfg.Payments == nil:
		return nil, fmt.Errorf("%w: payments", errMissingDependency)
	case cfg.Allocator == nil:
		return nil, fmt.Errorf("%w: allocator", errMissingDependency)
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger", errMissingDependency)
	case cfg.Pages == nil:
		return nil, fmt.Errorf("%w: pages", errMissingDependency)
	case cfg.Content == nil:
		return nil, fmt.Errorf("%w: content", errMissingDependency)
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:            cfg.Database,
		payments:      cfg.Payments,
		allocator:     cfg.Allocator,
		ledger:        cfg.Ledger,
		pages:         cfg.Pages,
		content:       cfg.Content,
		notifier:      cfg.Notifier,
		lookupTimeout: timeout,
		logger:        logger,
	}, nil
}

// stepError records which transactional step failed.
type stepError struct {
	state State
	err   error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %v", e.state, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

// serialConflict reports that the ledger already binds the transaction id to another serial.
type serialConflict struct {
	state  State
	serial identity.SerialNumber
}

func (e *serialConflict) Error() string {
	return fmt.Sprintf("transaction already bound to serial %d", e.serial)
}

// Publish runs ValidatingPayment, ResolvingIdentity, UpsertingProfile, ReplacingContent and
// RecordingPurchase. The last three share one transaction, so an abort leaves no partial
// page behind; the only effect that outlives an abort is a burned serial number. Replaying a
// request with the same transaction id converges on the same serial and content.
func (c *Coordinator) Publish(ctx context.Context, request Request) (Result, error) {
	transactionID, err := identity.NewTransactionID(request.TransactionID)
	if err != nil {
		return Result{}, c.fail(StateValidatingPayment, ReasonInvalidDraft, err, request.TransactionID)
	}
	slug, err := footprints.NewSlug(request.Slug)
	if err != nil {
		return Result{}, c.fail(StateValidatingPayment, ReasonInvalidDraft, err, transactionID.String())
	}
	draft, err := prepareDraft(request.Draft, c.content.MaxTiles())
	if err != nil {
		return Result{}, c.fail(StateValidatingPayment, ReasonInvalidDraft, err, transactionID.String())
	}

	event, err := c.validatePayment(ctx, transactionID, slug)
	if err != nil {
		return Result{}, err
	}

	c.trace(StateResolvingIdentity, transactionID)
	serial, replay, err := c.resolveIdentity(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for attempt := 1; ; attempt++ {
		result, err = c.commit(ctx, transactionID, serial, slug, draft, event)
		if err == nil {
			break
		}
		adopted, retry, abortErr := c.classifyCommitError(ctx, transactionID, serial, err)
		if abortErr != nil {
			return Result{}, abortErr
		}
		if !retry || attempt >= maxCommitAttempts {
			return Result{}, c.fail(StateRecordingPurchase, ReasonStoreWriteFailure, err, transactionID.String())
		}
		c.logger.Info("publish adopting ledger serial",
			zap.String("transaction_id", transactionID.String()),
			zap.Int64("claimed_serial", serial.Int64()),
			zap.Int64("ledger_serial", adopted.Int64()))
		serial = adopted
		replay = true
	}

	c.trace(StateDone, transactionID)
	c.logger.Info("footprint published",
		zap.String("transaction_id", transactionID.String()),
		zap.Int64("serial_number", result.SerialNumber.Int64()),
		zap.String("slug", result.Slug.String()),
		zap.Bool("first_publish", result.FirstPublish),
		zap.Bool("replay", replay),
		zap.Int("tiles", len(result.Tiles)))
	if result.FirstPublish && c.notifier != nil {
		c.notifier.FootprintPublished(ctx, result)
	}
	return result, nil
}

func (c *Coordinator) validatePayment(ctx context.Context, transactionID identity.TransactionID, slug footprints.Slug) (payments.Event, error) {
	c.trace(StateValidatingPayment, transactionID)
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	event, err := c.payments.Retrieve(lookupCtx, transactionID)
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		return payments.Event{}, c.fail(StateValidatingPayment, ReasonPaymentNotFound, err, transactionID.String())
	case err != nil:
		return payments.Event{}, c.fail(StateValidatingPayment, ReasonPaymentUnavailable, err, transactionID.String())
	}
	if !event.Paid() {
		return payments.Event{}, c.fail(StateValidatingPayment, ReasonPaymentIncomplete,
			fmt.Errorf("payment status %q", event.Status), transactionID.String())
	}
	recorded, err := footprints.NewSlug(event.Slug)
	if err != nil || recorded != slug {
		return payments.Event{}, c.fail(StateValidatingPayment, ReasonSlugMismatch,
			fmt.Errorf("checkout recorded slug %q, request slug %q", event.Slug, slug), transactionID.String())
	}
	return event, nil
}

func (c *Coordinator) resolveIdentity(ctx context.Context, transactionID identity.TransactionID) (identity.SerialNumber, bool, error) {
	purchase, found, err := c.ledger.Lookup(ctx, transactionID)
	if err != nil {
		return 0, false, c.fail(StateResolvingIdentity, ReasonStoreWriteFailure, err, transactionID.String())
	}
	if found {
		serial, err := identity.NewSerialNumber(purchase.SerialNumber)
		if err != nil {
			return 0, false, c.fail(StateResolvingIdentity, ReasonStoreWriteFailure, err, transactionID.String())
		}
		return serial, true, nil
	}
	serial, err := c.allocator.ClaimNextSerial(ctx)
	if err != nil {
		return 0, false, c.fail(StateResolvingIdentity, ReasonAllocationFailure, err, transactionID.String())
	}
	return serial, false, nil
}

func (c *Coordinator) commit(
	ctx context.Context,
	transactionID identity.TransactionID,
	serial identity.SerialNumber,
	slug footprints.Slug,
	draft preparedDraft,
	event payments.Event,
) (Result, error) {
	result := Result{SerialNumber: serial, Slug: slug}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.trace(StateUpsertingProfile, transactionID)
		page, err := c.pages.UpsertPrimaryWithin(tx, serial, slug, draft.profile)
		if err != nil {
			return &stepError{state: StateUpsertingProfile, err: err}
		}

		c.trace(StateReplacingContent, transactionID)
		tiles, err := c.content.ReplaceWithin(tx, page.ID, draft.descriptors)
		if err != nil {
			return &stepError{state: StateReplacingContent, err: err}
		}

		c.trace(StateRecordingPurchase, transactionID)
		outcome, err := c.ledger.RecordIfAbsentWithin(tx, identity.PurchaseEntry{
			TransactionID: transactionID,
			SerialNumber:  serial,
			Slug:          slug.String(),
			AmountCents:   event.AmountCents,
			Currency:      event.Currency,
			Status:        event.Status.String(),
		})
		if err != nil {
			return &stepError{state: StateRecordingPurchase, err: err}
		}
		if !outcome.Created && outcome.Serial() != serial {
			return &serialConflict{state: StateRecordingPurchase, serial: outcome.Serial()}
		}

		result.Footprint = page
		result.Tiles = tiles
		result.FirstPublish = outcome.Created
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// classifyCommitError decides how a rolled back commit continues. A concurrent run with the
// same transaction id may have committed first: its ledger row is authoritative, so the
// commit is retried once under that serial. The ledger is consulted after rollback because
// a failed statement poisons the transaction on some drivers.
func (c *Coordinator) classifyCommitError(
	ctx context.Context,
	transactionID identity.TransactionID,
	serial identity.SerialNumber,
	err error,
) (identity.SerialNumber, bool, error) {
	var conflict *serialConflict
	if errors.As(err, &conflict) {
		return conflict.serial, true, nil
	}

	state := StateRecordingPurchase
	var step *stepError
	if errors.As(err, &step) {
		state = step.state
	}

	switch {
	case errors.Is(err, footprints.ErrSlugTaken):
		purchase, found, lookupErr := c.ledger.Lookup(ctx, transactionID)
		if lookupErr != nil {
			return 0, false, c.fail(state, ReasonStoreWriteFailure, errors.Join(err, lookupErr), transactionID.String())
		}
		if found && purchase.SerialNumber != serial.Int64() {
			adopted, serialErr := identity.NewSerialNumber(purchase.SerialNumber)
			if serialErr != nil {
				return 0, false, c.fail(state, ReasonStoreWriteFailure, serialErr, transactionID.String())
			}
			return adopted, true, nil
		}
		return 0, false, c.fail(state, ReasonSlugTaken, err, transactionID.String())
	case errors.Is(err, footprints.ErrInvalidProfile), errors.Is(err, content.ErrTooManyTiles):
		return 0, false, c.fail(state, ReasonInvalidDraft, err, transactionID.String())
	default:
		return 0, false, c.fail(state, ReasonStoreWriteFailure, err, transactionID.String())
	}
}

func (c *Coordinator) fail(state State, reason Reason, cause error, transactionID string) error {
	fields := []zap.Field{
		zap.String("state", state.String()),
		zap.String("reason", string(reason)),
		zap.String("transaction_id", transactionID),
		zap.Bool("retryable", reason.Retryable()),
		zap.Error(cause),
	}
	if reason.Retryable() {
		c.logger.Error("publish aborted", fields...)
	} else {
		c.logger.Warn("publish aborted", fields...)
	}
	return abort(state, reason, cause)
}

func (c *Coordinator) trace(state State, transactionID identity.TransactionID) {
	c.logger.Debug("publish state",
		zap.String("state", state.String()),
		zap.String("transaction_id", transactionID.String()))
}
