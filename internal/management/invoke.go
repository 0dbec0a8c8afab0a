package management

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
	"github.com/nuetzliches/brokeradmin/internal/view"
)

const (
	callGetAttribute    = "get_attribute"
	callInvokeOperation = "invoke_operation"
	callQuery           = "query"
)

// GetAttribute reads one attribute of the named resource. Every failure,
// whether the resource is missing, the attribute is unknown, access is
// denied or the read fails, is reported as the same ErrInvalidState.
func (g *Gateway) GetAttribute(ctx context.Context, resourceName, attr string, subject security.Subject) (any, error) {
	member := security.AttributeMember(attr)
	ctx, span := g.startSpan(ctx, callGetAttribute, resourceName, member)
	defer span.End()
	start := time.Now()

	invalid := func(outcome string, cause error) (any, error) {
		g.finish(span, CallEvent{Call: callGetAttribute, Resource: resourceName, Member: attr, Outcome: outcome}, start, cause)
		g.logger.Debug("get_attribute_failed",
			slog.String("resource", resourceName),
			slog.String("attribute", attr),
			slog.String("outcome", outcome),
			slog.Any("err", cause),
		)
		return nil, fmt.Errorf("%w: could not get attribute %q of resource %q", ErrInvalidState, attr, resourceName)
	}

	c, ok := g.reg.GetByName(resourceName)
	if !ok {
		return invalid(OutcomeNotFound, ErrResourceNotFound)
	}
	if !g.authorizer.Authorize(ctx, subject, resourceName, member) {
		return invalid(OutcomeDenied, ErrUnauthorized)
	}
	v, err := c.Attribute(attr)
	if err != nil {
		return invalid(OutcomeInvalidState, err)
	}
	g.finish(span, CallEvent{Call: callGetAttribute, Resource: resourceName, Member: attr, Outcome: OutcomeOK}, start, nil)
	return v, nil
}

// InvokeOperation calls one operation on the named resource. The subject is
// attached to the context handed to the operation.
func (g *Gateway) InvokeOperation(ctx context.Context, resourceName, operation string, params []any, subject security.Subject) (any, error) {
	ctx, span := g.startSpan(ctx, callInvokeOperation, resourceName, operation)
	defer span.End()
	start := time.Now()
	ev := CallEvent{Call: callInvokeOperation, Resource: resourceName, Member: operation}

	c, ok := g.reg.GetByName(resourceName)
	if !ok {
		ev.Outcome = OutcomeNotFound
		err := fmt.Errorf("%w: %s", ErrResourceNotFound, resourceName)
		g.finish(span, ev, start, err)
		return nil, err
	}
	if !g.authorizer.Authorize(ctx, subject, resourceName, operation) {
		ev.Outcome = OutcomeDenied
		err := fmt.Errorf("%w: %s on %s", ErrUnauthorized, operation, resourceName)
		g.finish(span, ev, start, err)
		return nil, err
	}
	v, err := c.Invoke(security.WithSubject(ctx, subject), operation, params)
	if err != nil {
		ev.Outcome = OutcomeFailed
		opErr := &OperationError{Resource: resourceName, Operation: operation, Err: err}
		g.finish(span, ev, start, opErr)
		return nil, opErr
	}
	ev.Outcome = OutcomeOK
	g.finish(span, ev, start, nil)
	return v, nil
}

// Query runs a view query over one entity collection of the registered
// broker, authorized as the matching list operation.
func (g *Gateway) Query(ctx context.Context, entity, options string, page, pageSize int, subject security.Subject) ([]byte, error) {
	member := queryMember(entity)
	brokerName := resource.Name(resource.KindBroker, "")
	ctx, span := g.startSpan(ctx, callQuery, brokerName, member)
	defer span.End()
	start := time.Now()
	ev := CallEvent{Call: callQuery, Resource: brokerName, Member: entity}

	b := g.BrokerControl()
	if b == nil {
		ev.Outcome = OutcomeNotFound
		err := fmt.Errorf("%w: %s", ErrResourceNotFound, brokerName)
		g.finish(span, ev, start, err)
		return nil, err
	}
	if !g.authorizer.Authorize(ctx, subject, brokerName, member) {
		ev.Outcome = OutcomeDenied
		err := fmt.Errorf("%w: %s on %s", ErrUnauthorized, member, brokerName)
		g.finish(span, ev, start, err)
		return nil, err
	}
	out, err := b.Query(entity, options, page, pageSize)
	if err != nil {
		ev.Outcome = OutcomeFailed
		g.finish(span, ev, start, err)
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	ev.Outcome = OutcomeOK
	g.finish(span, ev, start, nil)
	return out, nil
}

// queryMember names the broker operation equivalent to a query over entity,
// e.g. listQueues.
func queryMember(entity string) string {
	if entity == "" {
		return "list"
	}
	plural := entity + "s"
	if entity == view.EntityAddress {
		plural = entity + "es"
	}
	return "list" + strings.ToUpper(plural[:1]) + plural[1:]
}

func (g *Gateway) startSpan(ctx context.Context, call, resourceName, member string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "management."+call,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("brokeradmin.resource", resourceName),
			attribute.String("brokeradmin.member", member),
		),
	)
}

func (g *Gateway) finish(span trace.Span, ev CallEvent, start time.Time, err error) {
	ev.Duration = time.Since(start)
	span.SetAttributes(attribute.String("brokeradmin.outcome", ev.Outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ev.Outcome)
	}
	if g.observeCall != nil {
		g.observeCall(ev)
	}
}
