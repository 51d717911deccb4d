package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

var tracer = otel.Tracer("codeanalysis.llm")

// InstrumentedModel wraps a LanguageModel and records every call as
// telemetry events, Prometheus samples and a trace span.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Provider  string
	Telemetry framework.Telemetry
	Metrics   *framework.Metrics
	Logger    *zap.Logger
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, provider string, telemetry framework.Telemetry, metrics *framework.Metrics, logger *zap.Logger) *InstrumentedModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedModel{
		Inner:     inner,
		Provider:  provider,
		Telemetry: telemetry,
		Metrics:   metrics,
		Logger:    logger.With(zap.String("component", "llm"), zap.String("provider", provider)),
	}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emitPrompt("generate", map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}, map[string]interface{}{"prompt": clip(prompt, 8192)})
	ctx, span, start := m.begin(ctx, "generate")
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.end(span, "generate", start, resp, err)
	return resp, err
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	meta := chatMeta(messages, options)
	m.emitPrompt("chat", meta.base, meta.debug)
	ctx, span, start := m.begin(ctx, "chat")
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.end(span, "chat", start, resp, err)
	return resp, err
}

func (m *InstrumentedModel) begin(ctx context.Context, kind string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "llm."+kind, trace.WithAttributes(attribute.String("provider", m.Provider)))
	return ctx, span, time.Now()
}

func (m *InstrumentedModel) end(span trace.Span, kind string, start time.Time, resp *framework.LLMResponse, err error) {
	elapsed := time.Since(start)
	m.Metrics.ObserveModel(m.Provider, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.Logger.Warn("model call failed", zap.String("kind", kind), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		span.SetStatus(codes.Ok, "")
		m.Logger.Debug("model call", zap.String("kind", kind), zap.Duration("elapsed", elapsed))
	}
	span.End()
	m.emitResponse(kind, resp, err)
}

type chatMetaPayload struct {
	base  map[string]interface{}
	debug map[string]interface{}
}

func chatMeta(messages []framework.Message, options *framework.LLMOptions) chatMetaPayload {
	var roles []string
	preview := make([]map[string]interface{}, 0, min(len(messages), 20))
	images := 0
	for i, msg := range messages {
		images += len(msg.Images)
		if i >= 20 {
			continue
		}
		roles = append(roles, msg.Role)
		preview = append(preview, map[string]interface{}{
			"role":    msg.Role,
			"name":    msg.Name,
			"content": clip(msg.Content, 512),
		})
	}
	base := map[string]interface{}{
		"model":            modelFromOptions(options),
		"message_count":    len(messages),
		"image_count":      images,
		"roles":            roles,
		"messages_preview": preview,
	}
	debug := map[string]interface{}{}
	if len(messages) > 0 {
		full := make([]map[string]interface{}, 0, len(messages))
		for _, msg := range messages {
			full = append(full, map[string]interface{}{
				"role":    msg.Role,
				"name":    msg.Name,
				"content": clip(msg.Content, 8192),
			})
		}
		debug["messages"] = full
	}
	return chatMetaPayload{base: base, debug: debug}
}

func (m *InstrumentedModel) emitPrompt(kind string, base map[string]interface{}, debugFields map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind, "provider": m.Provider}
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	framework.EmitTo(m.Telemetry, framework.Event{
		Type:     framework.EventLLMPrompt,
		Message:  fmt.Sprintf("llm %s prompt", kind),
		Metadata: metadata,
	})
}

func (m *InstrumentedModel) emitResponse(kind string, resp *framework.LLMResponse, err error) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind, "provider": m.Provider}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		metadata["usage"] = resp.Usage
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	framework.EmitTo(m.Telemetry, framework.Event{
		Type:     framework.EventLLMResponse,
		Message:  fmt.Sprintf("llm %s response", kind),
		Metadata: metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
