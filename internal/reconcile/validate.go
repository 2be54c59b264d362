package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/split"
	"revshare-ledger-go/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// candidate is a validated source record ready to be merged.
type candidate struct {
	txn       *models.Transaction
	rawStatus string
	mapped    bool
	at        time.Time
}

func newValidator() *validator.Validate {
	return validator.New()
}

// prepare validates rec and builds the transaction it would become. Record
// problems are returned as ErrValidation; anything else is a store failure.
func (r *run) prepare(ctx context.Context, rec models.SourceRecord) (*candidate, error) {
	if rec.Malformed != "" {
		return nil, fmt.Errorf("%w: unreadable record: %s", store.ErrValidation, rec.Malformed)
	}
	if err := r.e.validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrValidation, validationMessage(err))
	}
	if rec.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: created_at is required", store.ErrValidation)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(rec.Amount))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", store.ErrValidation, rec.Amount, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", store.ErrValidation, amount)
	}

	item, err := r.item(ctx, strings.TrimSpace(rec.ItemRef))
	if err != nil {
		return nil, err
	}
	if err := split.ValidateCommission(item.Commission); err != nil {
		return nil, fmt.Errorf("%w: item %s: %v", store.ErrValidation, item.Id, err)
	}

	status, mapped := r.e.statuses.Map(rec.Status)
	createdAt := rec.CreatedAt.UTC()
	at := createdAt
	if !rec.UpdatedAt.IsZero() {
		at = rec.UpdatedAt.UTC()
	}

	txn := &models.Transaction{
		Id:           uuid.New().String(),
		Amount:       amount,
		Status:       status,
		ItemId:       item.Id,
		ItemKind:     item.Kind,
		AffiliateRef: strings.TrimSpace(rec.AffiliateRef),
		BuyerRef:     strings.TrimSpace(rec.BuyerRef),
		Source:       r.e.source.Name(),
		ExternalId:   externalId(rec.Id),
		Fingerprint:  Fingerprint(amount, createdAt, status),
		Commission:   item.Commission,
		CreatedAt:    createdAt,
		UpdatedAt:    at,
	}
	if status == models.StatusSuccess {
		paid := at
		txn.PaidAt = &paid
	}

	return &candidate{txn: txn, rawStatus: rec.Status, mapped: mapped, at: at}, nil
}

// item resolves a catalog item once per run. Unknown items are a record
// problem, not a store failure.
func (r *run) item(ctx context.Context, id string) (*models.Item, error) {
	if item, ok := r.items[id]; ok {
		if item == nil {
			return nil, fmt.Errorf("%w: unknown item %q", store.ErrValidation, id)
		}
		return item, nil
	}

	item, err := r.e.store.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.items[id] = nil
			return nil, fmt.Errorf("%w: unknown item %q", store.ErrValidation, id)
		}
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	r.items[id] = item
	return item, nil
}

// externalId normalizes a source id; blank and stringified nulls count as
// absent.
func externalId(raw string) string {
	id := strings.TrimSpace(raw)
	if strings.EqualFold(id, "null") {
		return ""
	}
	return id
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(e.Field())+" is required")
		case "numeric":
			msgs = append(msgs, strings.ToLower(e.Field())+" must be numeric")
		default:
			msgs = append(msgs, strings.ToLower(e.Field())+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}
