// Package ai turns conversation context into emotion, memory and suggestion
// results via a pluggable LLM backend, protected by retry and a circuit
// breaker. Failures degrade to "no result"; nothing here ever reaches a
// chat session as an error.
package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/tools/errs"
)

// EmotionLabels is the fixed label set of an emotion distribution.
var EmotionLabels = []string{"neutral", "happy", "tense", "negative"}

// suggestionKeywords gates suggestion generation: a cheap local pre-filter
// over the trailing window, so most chatter never hits the backend.
var suggestionKeywords = []string{
	"明天", "下周", "周末", "计划", "安排", "出去玩", "聚餐", "学习",
	"tomorrow", "weekend", "plan", "schedule",
}

const suggestionWindow = 5

// Suggestion is a structured planning suggestion, or absent.
type Suggestion struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Provider ProviderConfig
	Retry    RetryPolicy
	Breaker  BreakerConfig

	// Temperature / MaxTokens starting points; attempts after an empty
	// response run with lowered values.
	Temperature float64
	MaxTokens   int
}

func (c *DispatcherConfig) norm() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
}

// Dispatcher owns one provider, one breaker and the health counters.
type Dispatcher struct {
	conf     DispatcherConfig
	provider Provider
	breaker  *CircuitBreaker
	health   *healthTracker
	log      *zap.Logger

	// injected providers (tests, offline mock) skip per-call config checks.
	injected bool
}

// NewDispatcher validates the provider configuration once up front; per-call
// validation still guards against hot-reconfigured dispatchers.
func NewDispatcher(conf DispatcherConfig) (*Dispatcher, error) {
	conf.norm()
	provider, err := NewProvider(conf.Provider)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		conf:     conf,
		provider: provider,
		breaker:  NewCircuitBreaker(conf.Breaker),
		health:   newHealthTracker(),
		log:      logger.Log.Named("ai"),
	}, nil
}

// NewDispatcherWithProvider injects a prebuilt provider (tests, offline mock).
func NewDispatcherWithProvider(conf DispatcherConfig, p Provider) *Dispatcher {
	conf.norm()
	return &Dispatcher{
		conf:     conf,
		provider: p,
		breaker:  NewCircuitBreaker(conf.Breaker),
		health:   newHealthTracker(),
		log:      logger.Log.Named("ai"),
		injected: true,
	}
}

// Breaker exposes the breaker for health snapshots and tests.
func (d *Dispatcher) Breaker() *CircuitBreaker { return d.breaker }

// Health returns the cumulative health snapshot.
func (d *Dispatcher) Health() HealthSnapshot {
	return d.health.snapshot(d.breaker.Snapshot())
}

// AnalyzeEmotion produces a probability distribution over EmotionLabels.
// Unrecognized labels are dropped; a zero total degenerates to neutral.
func (d *Dispatcher) AnalyzeEmotion(ctx context.Context, msgs []protocol.ContextMessage) (map[string]float64, error) {
	if len(msgs) == 0 {
		return map[string]float64{"neutral": 1.0}, nil
	}

	prompt := "分析以下对话的整体情绪氛围，给出 neutral/happy/tense/negative 四类情绪的概率分布。\n\n对话内容：\n" +
		renderContext(msgs) +
		"\n\n只返回 JSON 对象，形如 {\"neutral\":0.5,\"happy\":0.3,\"tense\":0.1,\"negative\":0.1}，总和为 1，不要其他说明。"

	content, err := d.call(ctx, []Message{
		{Role: "system", Content: "你是一个情绪分析助手，专注于分析对话的整体氛围。"},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	raw := extractJSONObject(content)
	var scores map[string]float64
	if raw == nil || json.Unmarshal(raw, &scores) != nil {
		return map[string]float64{"neutral": 1.0}, nil
	}
	return NormalizeEmotion(scores), nil
}

// NormalizeEmotion drops unknown labels and renormalizes known weights to sum
// to 1.0; an all-zero result defaults to {neutral: 1.0}.
func NormalizeEmotion(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(EmotionLabels))
	total := 0.0
	for _, label := range EmotionLabels {
		v := scores[label]
		if v < 0 {
			v = 0
		}
		out[label] = v
		total += v
	}
	if total <= 0 {
		return map[string]float64{"neutral": 1.0}
	}
	for label := range out {
		out[label] /= total
	}
	return out
}

// ExtractMemories pulls key facts out of the conversation. Fewer than two
// messages short-circuit to an empty list without a backend call.
func (d *Dispatcher) ExtractMemories(ctx context.Context, msgs []protocol.ContextMessage) ([]protocol.MemoryItem, error) {
	if len(msgs) < 2 {
		return nil, nil
	}

	prompt := "从以下对话中提取关键信息：共同提到的重要事件、已达成的明确约定、需要记住的长期话题。\n\n对话内容：\n" +
		renderContext(msgs) +
		"\n\n返回 JSON 数组，每个元素包含 content（摘要）和 category（event/agreement/topic 等）。没有关键信息返回 []。只返回 JSON 数组。"

	content, err := d.call(ctx, []Message{
		{Role: "system", Content: "你是一个信息提取助手，专注于从对话中提取关键信息。"},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	raw := extractJSONArray(content)
	var memories []protocol.MemoryItem
	if raw == nil || json.Unmarshal(raw, &memories) != nil {
		return nil, nil
	}
	return memories, nil
}

// GenerateSuggestion returns a planning suggestion, or nil when the keyword
// pre-filter does not trigger or the model declines.
func (d *Dispatcher) GenerateSuggestion(ctx context.Context, msgs []protocol.ContextMessage) (*Suggestion, error) {
	window := msgs
	if len(window) > suggestionWindow {
		window = window[len(window)-suggestionWindow:]
	}
	text := renderContext(window)
	if !containsAnyKeyword(text) {
		return nil, nil
	}

	prompt := "分析以下对话，如果涉及计划、安排或决策，生成一个实用建议，包含 title、content、type（plan/schedule/checklist 等）。不需要建议则返回 null。\n\n对话内容：\n" +
		text + "\n\n只返回 JSON 对象或 null。"

	content, err := d.call(ctx, []Message{
		{Role: "system", Content: "你是一个决策辅助助手，帮助用户整理计划和安排。"},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(content)) {
	case "null", "none", "":
		return nil, nil
	}
	raw := extractJSONObject(content)
	var s Suggestion
	if raw == nil || json.Unmarshal(raw, &s) != nil {
		return nil, nil
	}
	if s.Title == "" && s.Content == "" {
		return nil, nil
	}
	if s.Type == "" {
		s.Type = "suggestion"
	}
	return &s, nil
}

// call runs one backend request under validation, breaker and retry.
func (d *Dispatcher) call(ctx context.Context, msgs []Message) (string, error) {
	if !d.injected {
		// Not transient: no retry budget, no breaker slot.
		if err := d.conf.Provider.Validate(); err != nil {
			return "", err
		}
	}

	if !d.breaker.AllowRequest() {
		d.health.recordBlocked()
		return "", &errs.CircuitOpenError{RetryAfter: d.breaker.RetryAfter()}
	}

	d.health.recordStart()
	start := time.Now()

	content, err := Retry(ctx, d.conf.Retry, IsRetryable, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 1 {
			d.health.recordRetry()
		}
		return d.provider.GenerateContent(ctx, msgs, d.optsForAttempt(attempt))
	})
	if err != nil {
		d.breaker.RecordFailure()
		d.health.recordFailure()
		d.log.Warn("backend call failed", zap.String("provider", d.provider.Name()), zap.Error(err))
		return "", err
	}

	d.breaker.RecordSuccess()
	d.health.recordSuccess(time.Since(start), len(content))
	return content, nil
}

// optsForAttempt lowers temperature and shrinks the token budget on each
// retry, nudging a backend that returned empty output toward something usable.
func (d *Dispatcher) optsForAttempt(attempt int) GenerateOptions {
	temp := d.conf.Temperature - 0.1*float64(attempt-1)
	if temp < 0.1 {
		temp = 0.1
	}
	tokens := d.conf.MaxTokens
	for i := 1; i < attempt; i++ {
		tokens = tokens * 3 / 4
	}
	if tokens < 64 {
		tokens = 64
	}
	return GenerateOptions{Temperature: temp, MaxTokens: tokens}
}

func renderContext(msgs []protocol.ContextMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func containsAnyKeyword(text string) bool {
	for _, kw := range suggestionKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
