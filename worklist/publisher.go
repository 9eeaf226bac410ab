package worklist

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	derrors "github.com/clinimage/imagingd/errors"
	"github.com/clinimage/imagingd/records"
)

// Publisher releases orders to the worklist. Publication assigns the
// accession number exactly once; publishing an already-published order
// is a no-op that returns the existing accession.
type Publisher struct {
	store  *records.Store
	logger zerolog.Logger
}

// NewPublisher creates a Publisher backed by the store.
func NewPublisher(store *records.Store, logger zerolog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Publish makes the order visible to modality worklist queries and
// returns its accession number.
func (p *Publisher) Publish(ctx context.Context, orderID uuid.UUID) (string, error) {
	var accession string

	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		order, err := p.store.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Published() {
			accession = order.AccessionNumber
			return nil
		}

		accession = newAccessionNumber(time.Now())
		if err := p.store.Orders.Publish(ctx, orderID, accession); err != nil {
			if !errors.Is(err, derrors.ErrDuplicate) {
				return err
			}
			// ErrDuplicate covers two cases: a concurrent Publish won
			// the race, or the generated accession collides with
			// another order. Re-read to tell them apart.
			order, err = p.store.Orders.GetByID(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Published() {
				accession = order.AccessionNumber
				return nil
			}
			// Accession collision; one retry with a fresh number.
			accession = newAccessionNumber(time.Now())
			if err := p.store.Orders.Publish(ctx, orderID, accession); err != nil {
				return err
			}
		}

		return p.store.Audit.Append(ctx, &records.AuditEntry{
			EntityKind: "order",
			EntityID:   orderID,
			Action:     "published",
			Detail:     fmt.Sprintf("accession %s assigned", accession),
		})
	})
	if err != nil {
		return "", err
	}

	p.logger.Info().
		Str("order_id", orderID.String()).
		Str("accession_number", accession).
		Msg("order published")
	return accession, nil
}

// newAccessionNumber builds ACC<YYYYMMDD><6 hex>.
func newAccessionNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:6])
	return fmt.Sprintf("ACC%s%s", now.Format("20060102"), suffix)
}

// studyUIDForOrder derives a stable Study Instance UID for the
// worklist entry using the UUID-derived OID arc.
func studyUIDForOrder(order *records.Order) string {
	n := new(big.Int).SetBytes(order.ID[:])
	return "2.25." + n.String()
}
