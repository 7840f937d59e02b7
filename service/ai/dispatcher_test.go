package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PetChat/protocol"
	"PetChat/tools/errs"
)

func testConf() DispatcherConfig {
	return DispatcherConfig{
		Provider: ProviderConfig{Type: "openai", APIKey: "k", Model: "m"},
		Retry:    fastPolicy(3),
		Breaker: BreakerConfig{
			FailureThreshold:         2,
			RecoveryTimeout:          10 * time.Second,
			HalfOpenSuccessThreshold: 1,
		},
		Temperature: 0.3,
		MaxTokens:   500,
	}
}

func ctxMsgs(contents ...string) []protocol.ContextMessage {
	out := make([]protocol.ContextMessage, 0, len(contents))
	for i, c := range contents {
		sender := "Alice"
		if i%2 == 1 {
			sender = "Bob"
		}
		out = append(out, protocol.ContextMessage{Sender: sender, Content: c})
	}
	return out
}

func TestAnalyzeEmotion(t *testing.T) {
	mock := &MockProvider{Responses: []string{`根据对话 {"neutral":0.5,"happy":0.5} 就这样`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	scores, err := d.AnalyzeEmotion(context.Background(), ctxMsgs("今天真开心", "我也是"))
	require.NoError(t, err)

	total := 0.0
	for _, v := range scores {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.InDelta(t, 0.5, scores["neutral"], 1e-9)
	assert.InDelta(t, 0.5, scores["happy"], 1e-9)
}

func TestAnalyzeEmotionEmptyContextSkipsBackend(t *testing.T) {
	mock := &MockProvider{Responses: []string{`{"happy":1}`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	scores, err := d.AnalyzeEmotion(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"neutral": 1.0}, scores)
	assert.Equal(t, 0, mock.Calls())
}

func TestNormalizeEmotion(t *testing.T) {
	// Unrecognized labels dropped, rest renormalized.
	out := NormalizeEmotion(map[string]float64{"happy": 0.3, "neutral": 0.3, "angry": 0.4})
	assert.InDelta(t, 0.5, out["happy"], 1e-9)
	assert.InDelta(t, 0.5, out["neutral"], 1e-9)
	_, hasAngry := out["angry"]
	assert.False(t, hasAngry)

	// Degenerate all-zero weights default to neutral.
	assert.Equal(t, map[string]float64{"neutral": 1.0}, NormalizeEmotion(map[string]float64{"happy": 0}))
	assert.Equal(t, map[string]float64{"neutral": 1.0}, NormalizeEmotion(nil))
}

func TestExtractMemories(t *testing.T) {
	mock := &MockProvider{Responses: []string{`[{"content":"周末出游","category":"event"}]`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	memories, err := d.ExtractMemories(context.Background(), ctxMsgs("周末出去玩吧", "好啊，去爬山"))
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "周末出游", memories[0].Content)
	assert.Equal(t, "event", memories[0].Category)
}

func TestExtractMemoriesShortCircuit(t *testing.T) {
	mock := &MockProvider{Responses: []string{`[]`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	memories, err := d.ExtractMemories(context.Background(), ctxMsgs("只有一条"))
	require.NoError(t, err)
	assert.Empty(t, memories)
	assert.Equal(t, 0, mock.Calls())
}

func TestGenerateSuggestionKeywordGate(t *testing.T) {
	mock := &MockProvider{Responses: []string{`{"title":"周末计划","content":"...","type":"plan"}`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	// No planning keywords: gated locally.
	s, err := d.GenerateSuggestion(context.Background(), ctxMsgs("哈哈", "嗯"))
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, mock.Calls())

	// Keyword in the trailing window triggers the call.
	s, err = d.GenerateSuggestion(context.Background(), ctxMsgs("周末出去玩吗", "好啊"))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "周末计划", s.Title)
	assert.Equal(t, "plan", s.Type)
	assert.Equal(t, 1, mock.Calls())
}

func TestGenerateSuggestionNull(t *testing.T) {
	mock := &MockProvider{Responses: []string{"null"}}
	d := NewDispatcherWithProvider(testConf(), mock)

	s, err := d.GenerateSuggestion(context.Background(), ctxMsgs("明天干嘛", "不知道"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestEmptyResponseDegradesOptions(t *testing.T) {
	mock := &MockProvider{Fails: 2, Responses: []string{`{"neutral":1.0}`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	_, err := d.AnalyzeEmotion(context.Background(), ctxMsgs("a", "b"))
	require.NoError(t, err)
	require.Equal(t, 3, mock.Calls())

	opts := mock.Opts()
	assert.Greater(t, opts[0].Temperature, opts[1].Temperature)
	assert.Greater(t, opts[1].Temperature, opts[2].Temperature)
	assert.Greater(t, opts[0].MaxTokens, opts[1].MaxTokens)
	assert.Greater(t, opts[1].MaxTokens, opts[2].MaxTokens)
}

func TestExhaustionOpensBreaker(t *testing.T) {
	mock := &MockProvider{Fails: 100}
	conf := testConf()
	d := NewDispatcherWithProvider(conf, mock)

	_, err := d.AnalyzeEmotion(context.Background(), ctxMsgs("a", "b"))
	assert.True(t, errs.IsRetryExhausted(err))
	_, err = d.AnalyzeEmotion(context.Background(), ctxMsgs("a", "b"))
	assert.True(t, errs.IsRetryExhausted(err))

	// Two exhausted calls = two breaker failures = open.
	assert.Equal(t, BreakerOpen, d.Breaker().State())

	_, err = d.AnalyzeEmotion(context.Background(), ctxMsgs("a", "b"))
	assert.True(t, errs.IsCircuitOpen(err))

	snap := d.Health()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.FailureRequests)
	assert.Equal(t, int64(1), snap.BlockedRequests)
	assert.Equal(t, int64(2), snap.ConsecutiveFailures)
	assert.Equal(t, int64(4), snap.RetryAttempts)
}

func TestConfigErrorBypassesBreaker(t *testing.T) {
	conf := testConf()
	conf.Provider.APIKey = ""
	d, err := NewDispatcher(conf)
	assert.Nil(t, d)
	assert.True(t, errs.IsConfig(err))

	conf.Provider.APIKey = "k"
	conf.Provider.BaseURL = "ftp://nope"
	_, err = NewDispatcher(conf)
	assert.True(t, errs.IsConfig(err))
}

func TestHealthLatency(t *testing.T) {
	mock := &MockProvider{Responses: []string{`{"neutral":1.0}`}}
	d := NewDispatcherWithProvider(testConf(), mock)

	for i := 0; i < 3; i++ {
		_, err := d.AnalyzeEmotion(context.Background(), ctxMsgs("a", "b"))
		require.NoError(t, err)
	}

	snap := d.Health()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.SuccessRequests)
	assert.GreaterOrEqual(t, snap.P95LatencyMs, snap.AvgLatencyMs*0) // populated, non-negative
}
