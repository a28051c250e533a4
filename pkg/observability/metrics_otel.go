package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the OTel instruments.
const MeterName = "github.com/platinummonkey/warden"

// OTelMetrics mirrors the security-relevant Prometheus counters as OTel
// instruments so they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	authAttempts     metric.Int64Counter
	permissionChecks metric.Int64Counter
	tokensPurged     metric.Int64Counter
	emailsSent       metric.Int64Counter
}

// NewOTelMetrics creates the instruments on meter. A nil meter uses the
// global provider, which forwards to whatever InitOTel installs.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	m := &OTelMetrics{}
	var err error

	m.authAttempts, err = meter.Int64Counter(
		"warden.auth.attempts",
		metric.WithDescription("Authentication attempts by method and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth attempts counter: %w", err)
	}

	m.permissionChecks, err = meter.Int64Counter(
		"warden.permission.checks",
		metric.WithDescription("Permission checks by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission checks counter: %w", err)
	}

	m.tokensPurged, err = meter.Int64Counter(
		"warden.tokens.purged",
		metric.WithDescription("Expired tokens deleted"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens purged counter: %w", err)
	}

	m.emailsSent, err = meter.Int64Counter(
		"warden.emails.sent",
		metric.WithDescription("Emails sent by template and result"),
		metric.WithUnit("{email}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create emails sent counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordAuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.authAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
}

func (m *OTelMetrics) recordPermissionCheck(result string) {
	if m == nil {
		return
	}
	m.permissionChecks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *OTelMetrics) recordTokensPurged(n int64) {
	if m == nil {
		return
	}
	m.tokensPurged.Add(context.Background(), n)
}

func (m *OTelMetrics) recordEmail(template, result string) {
	if m == nil {
		return
	}
	m.emailsSent.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("template", template),
		attribute.String("result", result),
	))
}
