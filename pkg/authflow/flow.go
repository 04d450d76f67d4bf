package authflow

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Stages of an SSO flow. Each transition is a span event and increments
// gatehouse_sso_flow_total with the stage label.
const (
	StageLoginURLIssued      = "login_url_issued"
	StageCallbackReceived    = "callback_received"
	StageAttributesExtracted = "attributes_extracted"
	StageReconciled          = "reconciled"
	StageTokenIssued         = "token_issued"
	StageFailed              = "failed"
)

const (
	resultOK       = "ok"
	resultInternal = "internal"
)

// flow tracks one leg of an SSO login. Flows only move forward; a failure
// is terminal.
type flow struct {
	span     trace.Span
	metrics  *observability.Metrics
	protocol string
	stage    string
}

func newFlow(span trace.Span, metrics *observability.Metrics, protocol sso.Protocol) *flow {
	f := &flow{span: span, metrics: metrics, stage: "idle"}
	f.setProtocol(protocol)
	return f
}

func (f *flow) setProtocol(protocol sso.Protocol) {
	f.protocol = "unknown"
	if protocol != "" {
		f.protocol = strings.ToLower(string(protocol))
	}
	f.span.SetAttributes(attribute.String("sso.protocol", f.protocol))
}

func (f *flow) advance(stage string) {
	f.stage = stage
	f.span.AddEvent(stage)
	f.count(stage, resultOK)
}

// fail records err against the stage reached so far and returns it
func (f *flow) fail(err error) error {
	result := resultCode(err)
	f.span.AddEvent(StageFailed, trace.WithAttributes(
		attribute.String("sso.last_stage", f.stage),
		attribute.String("error.code", result),
	))
	f.span.RecordError(err)
	f.span.SetStatus(codes.Error, result)
	f.count(StageFailed, result)
	f.stage = StageFailed
	return err
}

func (f *flow) count(stage, result string) {
	if f.metrics != nil {
		f.metrics.SSOFlowTotal.WithLabelValues(f.protocol, stage, result).Inc()
	}
}

func resultCode(err error) string {
	if code := auth.CodeOf(err); code != "" {
		return string(code)
	}
	return resultInternal
}
