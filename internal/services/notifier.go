package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/printshopapp/printshop/internal/email"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/models"
)

// Notifier is the outbound notification sink for order milestones.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
	OrderShipped(ctx context.Context, order *models.Order) error
	OrderDelivered(ctx context.Context, order *models.Order) error
}

// EmailNotifier renders order emails and hands them to an email provider.
type EmailNotifier struct {
	provider email.Provider
	renderer *email.Renderer
	shopName string
}

func NewEmailNotifier(provider email.Provider, renderer *email.Renderer, shopName string) (*EmailNotifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("email renderer is required")
	}
	return &EmailNotifier{
		provider: provider,
		renderer: renderer,
		shopName: shopName,
	}, nil
}

func (n *EmailNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.KindOrderConfirmation, order)
}

func (n *EmailNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.KindOrderShipped, order)
}

func (n *EmailNotifier) OrderDelivered(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.KindOrderDelivered, order)
}

func (n *EmailNotifier) send(ctx context.Context, kind email.Kind, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	if order.CustomerEmail == "" {
		return fmt.Errorf("order %s has no customer email", order.ID)
	}

	message, err := n.renderer.Render(kind, BuildOrderInfo(n.shopName, order))
	if err != nil {
		return fmt.Errorf("failed to render %s email: %w", kind, err)
	}
	if err := n.provider.SendEmail(ctx, message); err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

// AsyncNotifier dispatches notifications in the background so callers never
// wait on or fail because of the mail transport. Failures are logged.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewAsyncNotifier(next Notifier, timeout time.Duration, logger *slog.Logger) *AsyncNotifier {
	if next == nil {
		next = noopNotifier{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncNotifier{
		next:    next,
		timeout: timeout,
		logger:  logger,
	}
}

func (n *AsyncNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	n.dispatch(ctx, "order_confirmed", order, n.next.OrderConfirmed)
	return nil
}

func (n *AsyncNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	n.dispatch(ctx, "order_shipped", order, n.next.OrderShipped)
	return nil
}

func (n *AsyncNotifier) OrderDelivered(ctx context.Context, order *models.Order) error {
	n.dispatch(ctx, "order_delivered", order, n.next.OrderDelivered)
	return nil
}

// Close waits for in-flight notifications.
func (n *AsyncNotifier) Close() {
	n.wg.Wait()
}

func (n *AsyncNotifier) dispatch(ctx context.Context, kind string, order *models.Order, send func(context.Context, *models.Order) error) {
	if order == nil {
		return
	}
	logger := logging.FromContext(ctx, n.logger)
	bg := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		sendCtx, cancel := context.WithTimeout(bg, n.timeout)
		defer cancel()
		if err := send(sendCtx, order); err != nil {
			logger.Error("failed to send notification", "error", err, "notification", kind, "order_id", order.ID)
			return
		}
		logger.Info("notification sent", "notification", kind, "order_id", order.ID)
	}()
}

type noopNotifier struct{}

func (noopNotifier) OrderConfirmed(context.Context, *models.Order) error {
	return nil
}

func (noopNotifier) OrderShipped(context.Context, *models.Order) error {
	return nil
}

func (noopNotifier) OrderDelivered(context.Context, *models.Order) error {
	return nil
}
