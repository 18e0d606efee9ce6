package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/docflow/internal/observability/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxAttributeLength = 256

var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// GinMiddleware opens a server span per request, continuing any W3C trace
// context sent by the caller. The span is renamed to the matched route and
// tagged with the document the handler touched.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("docflow/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if id := logger.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", method),
			attribute.Int("http.response.status_code", status),
		}
		if route := c.FullPath(); route != "" {
			span.SetName(method + " " + route)
			attrs = append(attrs, attribute.String("http.route", route))
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, truncate("document.id", id))
		}
		if v := c.GetString("document_type"); v != "" {
			attrs = append(attrs, truncate("document.type", v))
		}
		if v := c.GetString("document_number"); v != "" {
			attrs = append(attrs, truncate("document.number", v))
		}
		span.SetAttributes(attrs...)

		if status >= http.StatusInternalServerError {
			msg := http.StatusText(status)
			if lastErr := c.Errors.Last(); lastErr != nil {
				msg = clip(lastErr.Err.Error())
			}
			span.SetStatus(codes.Error, msg)
		}
	}
}

// ExtractContext reads W3C trace context and baggage from the carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return propagator.Extract(ctx, carrier)
}

func truncate(key, value string) attribute.KeyValue {
	return attribute.String(key, clip(value))
}

func clip(s string) string {
	if len(s) > maxAttributeLength {
		return s[:maxAttributeLength]
	}
	return s
}
