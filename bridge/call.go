package bridge

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
)

var tracer = otel.Tracer("github.com/wippyai/frida-go/bridge")

// Call invokes a blocking native operation on the handle's object. The handle
// cannot be released while fn runs.
func Call[R any](h *Handle, op string, fn func(native.Pointer) (R, *native.Error)) (R, error) {
	var zero R

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.liveLocked() {
		h.rt.metrics.call(h.kind, op, resultDisposed)
		return zero, errors.Disposed(h.kind, op)
	}

	_, span := tracer.Start(context.Background(), "frida."+strings.ToLower(h.kind)+"."+op,
		trace.WithAttributes(
			attribute.String("frida.resource", h.kind),
			attribute.String("frida.op", op),
		))
	defer span.End()

	result, nerr := fn(h.ptr)
	if nerr != nil {
		err := errors.Native(h.kind, op, nerr.Domain, nerr.Code, nerr.Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, nerr.Message)
		h.rt.metrics.call(h.kind, op, resultError)
		Logger().Debug("native call failed",
			zap.String("kind", h.kind),
			zap.String("op", op),
			zap.String("domain", nerr.Domain),
			zap.Int("code", nerr.Code),
			zap.String("message", nerr.Message))
		return zero, err
	}

	h.rt.metrics.call(h.kind, op, resultOK)
	return result, nil
}

// Exec is Call for operations without a result.
func Exec(h *Handle, op string, fn func(native.Pointer) *native.Error) error {
	_, err := Call(h, op, func(p native.Pointer) (struct{}, *native.Error) {
		return struct{}{}, fn(p)
	})
	return err
}

// Get reads a property that cannot fail natively. Only the disposed check applies.
func Get[R any](h *Handle, op string, fn func(native.Pointer) R) (R, error) {
	var zero R

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.liveLocked() {
		return zero, errors.Disposed(h.kind, op)
	}
	return fn(h.ptr), nil
}
