package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-qalab/internal/ports"
)

const tracerName = "github.com/ahrav/go-qalab/infrastructure/llm"

// Span attributes follow the OpenTelemetry gen_ai semantic conventions.
const (
	attrSystem        = attribute.Key("gen_ai.system")
	attrRequestModel  = attribute.Key("gen_ai.request.model")
	attrMaxTokens     = attribute.Key("gen_ai.request.max_tokens")
	attrResponseModel = attribute.Key("gen_ai.response.model")
	attrFinishReasons = attribute.Key("gen_ai.response.finish_reasons")
	attrInputTokens   = attribute.Key("gen_ai.usage.input_tokens")
	attrOutputTokens  = attribute.Key("gen_ai.usage.output_tokens")
	attrJSONMode      = attribute.Key("qalab.json_mode")
	attrMessages      = attribute.Key("qalab.messages")
)

// TracingMiddleware records one client span per chat call on the global
// tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithProvider(serviceName, otel.GetTracerProvider())
}

func TracingMiddlewareWithProvider(serviceName string, tp trace.TracerProvider) Middleware {
	tracer := tp.Tracer(tracerName, trace.WithInstrumentationAttributes(attribute.String("service.name", serviceName)))
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{CoreLLM: next, tracer: tracer}
	}
}

type tracedLLM struct {
	CoreLLM
	tracer trace.Tracer
}

func (t *tracedLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	req := ParseRequestOptions(opts, t.GetModel())
	ctx, span := t.tracer.Start(ctx, "chat "+req.Model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attrSystem.String(providerFromModel(req.Model)),
			attrRequestModel.String(req.Model),
			attrMaxTokens.Int(req.MaxTokens),
			attrJSONMode.Bool(req.JSONMode),
			attrMessages.Int(len(messages)),
		),
	)
	defer span.End()

	completion, err := t.CoreLLM.DoRequest(ctx, messages, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return completion, err
	}
	span.SetAttributes(
		attrResponseModel.String(completion.Model),
		attrFinishReasons.StringSlice([]string{completion.FinishReason}),
		attrInputTokens.Int(completion.Usage.PromptTokens),
		attrOutputTokens.Int(completion.Usage.CompletionTokens),
	)
	return completion, nil
}
