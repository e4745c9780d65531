package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/service"
)

// Observer records session lifecycle events as OpenTelemetry instruments.
type Observer struct {
	connectAttempts metric.Int64Counter
	connectDuration metric.Float64Histogram
	closed          metric.Int64Counter
	evicted         metric.Int64Counter
	sent            metric.Int64Counter
	inbound         metric.Int64Counter
}

var _ service.SessionObserver = (*Observer)(nil)

// NewObserver creates the instruments on meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	var (
		o    Observer
		err  error
		errs []error
	)
	o.connectAttempts, err = meter.Int64Counter("metricon.session.connect.attempts",
		metric.WithDescription("Connection attempts started"))
	errs = append(errs, err)
	o.connectDuration, err = meter.Float64Histogram("metricon.session.connect.duration",
		metric.WithDescription("Time from attempt start to connected or failed"),
		metric.WithUnit("s"))
	errs = append(errs, err)
	o.closed, err = meter.Int64Counter("metricon.session.connections.closed",
		metric.WithDescription("Connections closed by the remote network"))
	errs = append(errs, err)
	o.evicted, err = meter.Int64Counter("metricon.session.evicted",
		metric.WithDescription("Sessions closed for inactivity"))
	errs = append(errs, err)
	o.sent, err = meter.Int64Counter("metricon.messages.sent",
		metric.WithDescription("Outgoing message attempts"))
	errs = append(errs, err)
	o.inbound, err = meter.Int64Counter("metricon.messages.inbound",
		metric.WithDescription("Inbound messages received"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Observer) ConnectStarted() {
	o.connectAttempts.Add(context.Background(), 1)
}

func (o *Observer) ConnectFinished(ok bool, elapsed time.Duration) {
	o.connectDuration.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (o *Observer) ConnectionClosed(reason chat.CloseReason) {
	o.closed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("code", strconv.Itoa(reason.Code))))
}

func (o *Observer) SessionEvicted() {
	o.evicted.Add(context.Background(), 1)
}

func (o *Observer) MessageSent(ok bool) {
	o.sent.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (o *Observer) InboundReceived() {
	o.inbound.Add(context.Background(), 1)
}
