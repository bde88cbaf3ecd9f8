package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/printful"
)

const maxSubmissionErrorLength = 500

// FulfillmentSubmitter sends provider-fulfilled line items to the
// print-on-demand provider and records the outcome on the order. The
// provider call never runs inside a ledger transaction.
type FulfillmentSubmitter struct {
	ledger   Ledger
	provider FulfillmentProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFulfillmentSubmitter returns a submitter. A nil provider disables
// submission; flagged orders then wait for the retrier.
func NewFulfillmentSubmitter(ledger Ledger, provider FulfillmentProvider, timeout time.Duration, logger *slog.Logger) *FulfillmentSubmitter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FulfillmentSubmitter{
		ledger:   ledger,
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *FulfillmentSubmitter) Enabled() bool {
	return s != nil && s.provider != nil
}

// BuildProviderOrder translates the provider-fulfilled line items of an
// order into a provider order request. It reports false when the order has
// nothing for the provider.
func BuildProviderOrder(order *models.Order, products map[int64]models.Product) (printful.OrderRequest, bool) {
	if order == nil {
		return printful.OrderRequest{}, false
	}

	var items []printful.Item
	for _, item := range order.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.ProviderFulfilled || product.ProviderVariantID <= 0 {
			continue
		}
		items = append(items, printful.Item{
			VariantID: product.ProviderVariantID,
			Quantity:  item.Quantity,
		})
	}
	if len(items) == 0 {
		return printful.OrderRequest{}, false
	}

	request := printful.OrderRequest{
		ExternalID: ProviderExternalID(order.ID),
		Items:      items,
	}
	request.Recipient.Name = order.CustomerName
	request.Recipient.Email = order.CustomerEmail
	if f := order.Fulfillment; f != nil {
		request.Recipient.Address1 = f.Address.Line1
		request.Recipient.Address2 = f.Address.Line2
		request.Recipient.City = f.Address.City
		request.Recipient.StateCode = f.Address.State
		request.Recipient.CountryCode = printful.CountryCode(f.Address.Country)
		request.Recipient.Zip = f.Address.PostalCode
	}
	return request, true
}

// ProviderExternalID is the reference the provider stores for an order: the
// order uuid without dashes.
func ProviderExternalID(orderID uuid.UUID) string {
	return strings.ReplaceAll(orderID.String(), "-", "")
}

// orderIDFromExternalID reverses ProviderExternalID.
func orderIDFromExternalID(externalID string) (uuid.UUID, bool) {
	externalID = strings.TrimSpace(externalID)
	if len(externalID) != 32 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(externalID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// needsProvider reports whether any line item maps to a provider variant.
func needsProvider(order *models.Order, products map[int64]models.Product) bool {
	_, ok := BuildProviderOrder(order, products)
	return ok
}

// Submit sends the order to the provider with a bounded timeout, or links
// the provider order an earlier attempt already created. On success the
// provider reference is stored and the retry flag cleared; on failure the
// attempt is recorded and the flag stays set. The order is updated in
// place to match what was persisted.
func (s *FulfillmentSubmitter) Submit(ctx context.Context, order *models.Order, products map[int64]models.Product) error {
	if !s.Enabled() || order == nil {
		return nil
	}

	span := sentry.StartSpan(
		ctx,
		"service.fulfillment.submit",
		sentry.WithOpName("service.fulfillment"),
		sentry.WithDescription("Submit"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, s.logger).With("order_id", order.ID)
	meter := observability.MeterFromContext(ctx)

	if products == nil {
		var err error
		products, err = s.ledger.GetProducts(ctx, order.ProductIDs())
		if err != nil {
			return classifyStoreError("load products for fulfillment", err)
		}
	}

	request, ok := BuildProviderOrder(order, products)
	if !ok {
		return nil
	}

	created, err := s.createOnce(ctx, logger, order, request)

	// The provider has already acted; persist even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		reason := submissionFailureReason(err)
		meter.Count("fulfillment.submission.failed", 1, sentry.WithAttributes(
			attribute.String("reason", submissionFailureKind(err)),
		))
		logArgs := []any{"error", err, "attempt", order.FulfillmentSubmissionAttempts + 1}
		var apiErr *printful.APIError
		if errors.As(err, &apiErr) {
			logArgs = append(logArgs, "status_code", apiErr.StatusCode, "provider_response", apiErr.Body)
		}
		logger.Error("fulfillment submission failed, order flagged for retry", logArgs...)

		if recordErr := s.ledger.InTx(persistCtx, func(tx db.LedgerTx) error {
			return tx.RecordFulfillmentSubmissionFailure(persistCtx, order.ID, reason)
		}); recordErr != nil {
			logger.Error("failed to record fulfillment submission failure", "error", recordErr)
		} else {
			order.FulfillmentSubmissionAttempts++
			order.FulfillmentSubmissionError = reason
		}
		return fmt.Errorf("%w: submit order to fulfillment provider: %w", ErrExternalService, err)
	}

	if err := s.ledger.InTx(persistCtx, func(tx db.LedgerTx) error {
		return tx.CompleteFulfillmentSubmission(persistCtx, order.ID, created.ID)
	}); err != nil {
		logger.Error("provider accepted order but reference could not be stored", "error", err, "external_reference", created.ID)
		return classifyStoreError("record fulfillment reference", err)
	}

	order.ExternalFulfillmentReference = created.ID
	order.NeedsFulfillmentSubmission = false
	order.FulfillmentSubmissionAttempts++
	order.FulfillmentSubmissionError = ""
	if order.Fulfillment != nil && order.Fulfillment.Status == models.FulfillmentUnfulfilled {
		order.Fulfillment.Status = models.FulfillmentProcessing
	}
	if !order.Status.Open() {
		logger.Warn("provider accepted an order that is no longer open, cancel it with the provider", "status", order.Status, "external_reference", created.ID)
	}

	meter.Count("fulfillment.submission.succeeded", 1)
	logger.Info("order submitted to fulfillment provider", "external_reference", created.ID, "provider_status", created.Status, "items", len(request.Items))
	return nil
}

// createOnce creates the provider order unless an earlier attempt already
// did. An order with recorded attempts is looked up before it is posted
// again, and a failed create is followed by a lookup because the provider
// may have stored the order before the call failed.
func (s *FulfillmentSubmitter) createOnce(ctx context.Context, logger *slog.Logger, order *models.Order, request printful.OrderRequest) (*printful.CreatedOrder, error) {
	if order.FulfillmentSubmissionAttempts > 0 {
		if existing := s.findExisting(ctx, logger, request.ExternalID); existing != nil {
			return existing, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	created, err := s.provider.CreateOrder(callCtx, request)
	cancel()
	if err == nil {
		return created, nil
	}

	if existing := s.findExisting(context.WithoutCancel(ctx), logger, request.ExternalID); existing != nil {
		logger.Warn("provider create failed but the order exists, linking it", "error", err)
		return existing, nil
	}
	return nil, err
}

// findExisting returns the provider order for externalID, or nil when there
// is none or the lookup failed.
func (s *FulfillmentSubmitter) findExisting(ctx context.Context, logger *slog.Logger, externalID string) *printful.CreatedOrder {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.provider.GetOrder(callCtx, externalID)
	if err != nil {
		if !errors.Is(err, printful.ErrOrderNotFound) {
			logger.Warn("provider order lookup failed", "error", err, "external_id", externalID)
		}
		return nil
	}
	observability.MeterFromContext(ctx).Count("fulfillment.submission.recovered", 1)
	return existing
}

func submissionFailureReason(err error) string {
	reason := err.Error()
	var apiErr *printful.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		reason = fmt.Sprintf("provider returned %d: %s", apiErr.StatusCode, apiErr.Message)
	}
	if len(reason) > maxSubmissionErrorLength {
		reason = reason[:maxSubmissionErrorLength]
	}
	return reason
}

func submissionFailureKind(err error) string {
	var apiErr *printful.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr) && apiErr.Temporary():
		return "provider_unavailable"
	case errors.As(err, &apiErr):
		return "provider_rejected"
	default:
		return "transport"
	}
}
