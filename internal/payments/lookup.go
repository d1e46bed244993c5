package payments

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"go.uber.org/zap"
)

// Source resolves a transaction id to the processor's view of the payment.
type Source interface {
	Retrieve(ctx context.Context, transactionID identity.TransactionID) (Event, error)
}

// LookupConfig wires the stored events and the optional processor fallback.
type LookupConfig struct {
	Events   *EventStore
	Fallback Source
	Logger   *zap.Logger
}

// Lookup answers from delivered notifications first and asks the processor only when the
// stored event is missing or not yet paid. Fetched events are written back to the store.
type Lookup struct {
	events   *EventStore
	fallback Source
	logger   *zap.Logger
}

// NewLookup constructs a Lookup. Either dependency may be nil but not both.
func NewLookup(cfg LookupConfig) (*Lookup, error) {
	if cfg.Events == nil && cfg.Fallback == nil {
		return nil, errors.New("payments lookup requires an event store or a fallback source")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Lookup{events: cfg.Events, fallback: cfg.Fallback, logger: logger}, nil
}

// Retrieve implements Source.
func (l *Lookup) Retrieve(ctx context.Context, transactionID identity.TransactionID) (Event, error) {
	var stored Event
	found := false
	if l.events != nil {
		event, ok, err := l.events.Find(ctx, transactionID)
		if err != nil {
			return Event{}, errors.Join(ErrProcessorUnavailable, err)
		}
		if ok && event.Paid() {
			return event, nil
		}
		stored, found = event, ok
	}
	if l.fallback == nil {
		if found {
			return stored, nil
		}
		return Event{}, ErrPaymentNotFound
	}

	fetched, err := l.fallback.Retrieve(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) && found {
			return stored, nil
		}
		return Event{}, err
	}
	if l.events != nil {
		if saved, saveErr := l.events.Save(ctx, fetched); saveErr != nil {
			l.logger.Warn("payment event cache write failed",
				zap.String("transaction_id", transactionID.String()),
				zap.Error(saveErr))
		} else {
			fetched = saved
		}
	}
	return fetched, nil
}
