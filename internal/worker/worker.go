package worker

import (
	"context"

	"github.com/yadokani389/taiyaq/internal/broker"
	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/notify"
	"github.com/yadokani389/taiyaq/internal/util"

	"go.uber.org/zap"
)

// NotifyWorker consumes OrderReady events and delivers notifications to
// each registered target. Delivery is fire-and-forget from the order flow's
// point of view: a failed dispatch is logged and counted, and never blocks
// or rolls back anything.
type NotifyWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dispatcher   notify.Dispatcher
	logger       *zap.Logger
}

// NewNotifyWorker creates a worker delivering through the given dispatcher.
func NewNotifyWorker(consumer *broker.Consumer, dispatcher notify.Dispatcher) *NotifyWorker {
	w := &NotifyWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		dispatcher:   dispatcher,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderReady(w.handleOrderReady)
	return w
}

// Start starts the worker
func (w *NotifyWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notify worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotifyWorker) Stop() error {
	w.logger.Info("Stopping notify worker")
	return w.consumer.Close()
}

// handleOrderReady dispatches to every target of a newly-Ready order.
// Always returns nil: a dispatch failure must not keep the event in the
// topic for redelivery to targets that already got their message.
func (w *NotifyWorker) handleOrderReady(ctx context.Context, event *models.OrderReadyEvent) error {
	for _, target := range event.Targets {
		if err := w.dispatcher.Dispatch(ctx, target, event.OrderID, event.Message); err != nil {
			util.NotificationsFailedTotal.WithLabelValues(string(target.Channel)).Inc()
			w.logger.Error("Failed to dispatch notification",
				zap.Uint32("order_id", event.OrderID),
				zap.String("channel", string(target.Channel)),
				zap.Error(err))
			continue
		}
		util.NotificationsSentTotal.WithLabelValues(string(target.Channel)).Inc()
	}
	return nil
}
