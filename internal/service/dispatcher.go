package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/gateway"
	"github.com/kursadbilgin/push-engine/internal/observability"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Success bool
	Detail  gateway.Detail
}

// EntryDispatcher delivers a single entry. Delivery failures are reported
// through Outcome; a non-nil error means the entry itself is malformed.
type EntryDispatcher interface {
	Dispatch(ctx context.Context, entry *domain.NotificationEntry) (Outcome, error)
}

var _ EntryDispatcher = (*Dispatcher)(nil)

type Dispatcher struct {
	client  gateway.Client
	timeout time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

func NewDispatcher(client gateway.Client, timeout time.Duration) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}

	return &Dispatcher{
		client:  client,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

func (d *Dispatcher) Dispatch(ctx context.Context, entry *domain.NotificationEntry) (Outcome, error) {
	req, err := buildGatewayRequest(entry)
	if err != nil {
		return Outcome{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	kind := entry.Kind.String()
	d.metrics.IncDispatchInFlight()
	start := d.now()
	resp, sendErr := d.client.Send(callCtx, req)
	elapsed := d.now().Sub(start)
	d.metrics.DecDispatchInFlight()
	d.metrics.ObserveDispatchDuration(kind, elapsed)

	detail := gateway.Detail{DurationMs: elapsed.Milliseconds()}
	if sendErr == nil {
		if resp != nil {
			detail.StatusCode = resp.StatusCode
			detail.SetBody(resp.Body)
			detail.RequestID = resp.RequestID
		}
		return Outcome{Success: true, Detail: detail}, nil
	}

	detail.Error = sendErr.Error()
	detail.Transient = gateway.IsTransient(sendErr)
	var gwErr *gateway.Error
	if errors.As(sendErr, &gwErr) {
		detail.StatusCode = gwErr.StatusCode
		detail.SetBody(gwErr.Body)
	}
	return Outcome{Success: false, Detail: detail}, nil
}

func buildGatewayRequest(entry *domain.NotificationEntry) (gateway.Request, error) {
	if entry == nil {
		return gateway.Request{}, fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if strings.TrimSpace(entry.DeviceRef) == "" {
		return gateway.Request{}, fmt.Errorf("%w: entry %s has no device reference", domain.ErrValidation, entry.ID)
	}
	if len(entry.Payload) == 0 {
		return gateway.Request{}, fmt.Errorf("%w: entry %s has no payload", domain.ErrValidation, entry.ID)
	}
	if !entry.Kind.IsValid() {
		return gateway.Request{}, fmt.Errorf("%w: entry %s has unknown kind %q", domain.ErrValidation, entry.ID, entry.Kind)
	}

	return gateway.Request{
		DeviceRef: entry.DeviceRef,
		Title:     entry.Kind.Title(),
		Body:      entry.Kind.Body(),
		Metadata: gateway.Metadata{
			Kind:       entry.Kind.String(),
			Priority:   entry.Priority.String(),
			PayloadHex: hex.EncodeToString(entry.Payload),
		},
	}, nil
}

func detailFromError(err error) gateway.Detail {
	return gateway.Detail{Error: err.Error()}
}
