// Package mediator is the in-process dispatch bus: typed request/response
// routing to exactly one handler and sequential publish/subscribe fan-out
// of notifications. Handlers are registered at startup into a static table
// keyed by each message's declared type string; there is no runtime
// discovery.
package mediator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"conference-lab/errors"
)

// Request describes an intended state transition. Each request type has
// exactly one handler and may return a result or a typed error.
type Request interface {
	RequestType() string
}

// Notification is an immutable fact that already happened. It fans out to
// zero or many handlers and returns nothing.
type Notification interface {
	NotificationType() string
}

// UnregisteredError reports a request type without a handler. This is a
// configuration defect, not a runtime condition.
type UnregisteredError struct {
	Type string
}

func (e *UnregisteredError) Error() string {
	return fmt.Sprintf("no handler registered for request %q", e.Type)
}

type requestHandler func(ctx context.Context, req Request) (any, error)

type notificationHandler func(ctx context.Context, n Notification) error

type Mediator struct {
	mu            sync.RWMutex
	requests      map[string]requestHandler
	notifications map[string][]notificationHandler
	log           *slog.Logger
}

func New(log *slog.Logger) *Mediator {
	return &Mediator{
		requests:      make(map[string]requestHandler),
		notifications: make(map[string][]notificationHandler),
		log:           log,
	}
}

func (m *Mediator) registerRequest(requestType string, h requestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[requestType]; exists {
		panic(fmt.Sprintf("mediator: duplicate handler for request %q", requestType))
	}
	m.requests[requestType] = h
}

func (m *Mediator) registerNotification(notificationType string, h notificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[notificationType] = append(m.notifications[notificationType], h)
}

// Send dispatches req to its single registered handler.
func (m *Mediator) Send(ctx context.Context, req Request) (any, error) {
	m.mu.RLock()
	h, ok := m.requests[req.RequestType()]
	m.mu.RUnlock()
	if !ok {
		return nil, &UnregisteredError{Type: req.RequestType()}
	}

	m.log.Debug("dispatching request", "type", req.RequestType())
	return h(ctx, req)
}

// Publish invokes every handler registered for the notification's type,
// sequentially in registration order, awaiting each before the next. A
// handler issuing further Send/Publish calls completes them before the
// next registered handler runs, so induced effects are fully visible
// downstream. The first handler error aborts the fan-out.
func (m *Mediator) Publish(ctx context.Context, n Notification) error {
	m.mu.RLock()
	handlers := m.notifications[n.NotificationType()]
	m.mu.RUnlock()

	m.log.Debug("publishing notification", "type", n.NotificationType(), "handlers", len(handlers))
	for _, h := range handlers {
		if err := h(ctx, n); err != nil {
			return fmt.Errorf("notification %s: %w", n.NotificationType(), err)
		}
	}
	return nil
}

// HandleRequest registers a typed handler for the request type R.
func HandleRequest[R Request, T any](m *Mediator, h func(ctx context.Context, req R) (T, error)) {
	var zero R
	m.registerRequest(zero.RequestType(), func(ctx context.Context, req Request) (any, error) {
		typed, ok := req.(R)
		if !ok {
			return nil, errors.NewValidation("", "request %q carries unexpected payload %T", zero.RequestType(), req)
		}
		return h(ctx, typed)
	})
}

// HandleNotification appends a typed handler for the notification type N.
// Registration order is fan-out order.
func HandleNotification[N Notification](m *Mediator, h func(ctx context.Context, n N) error) {
	var zero N
	m.registerNotification(zero.NotificationType(), func(ctx context.Context, n Notification) error {
		typed, ok := n.(N)
		if !ok {
			return errors.NewValidation("", "notification %q carries unexpected payload %T", zero.NotificationType(), n)
		}
		return h(ctx, typed)
	})
}

// Send dispatches req and asserts the response type.
func Send[T any](ctx context.Context, m *Mediator, req Request) (T, error) {
	var zero T
	res, err := m.Send(ctx, req)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("request %s returned %T, want %T", req.RequestType(), res, zero)
	}
	return typed, nil
}

// Unit is the response type of requests that return no result.
type Unit struct{}
