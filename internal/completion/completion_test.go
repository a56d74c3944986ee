package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/recall/internal/history"
	"github.com/ent0n29/recall/internal/prompts"
)

type recordingGenerator struct {
	reply string
	err   error
	last  GenerateRequest
	calls int
}

func (r *recordingGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	r.calls++
	r.last = req
	return r.reply, r.err
}

func TestNewGeneratorAutoFallsBackToMockWhenCLIMissing(t *testing.T) {
	var logs bytes.Buffer
	gen, err := NewGenerator(context.Background(), Config{
		Mode:    "auto",
		CLIPath: "/definitely/missing/recall-cli",
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	_, ok := gen.(*MockGenerator)
	assert.True(t, ok)
	assert.Contains(t, logs.String(), "generator ready")
	assert.Contains(t, logs.String(), "mode=mock")
}

func TestNewGeneratorRequiresBackendSettings(t *testing.T) {
	for _, mode := range []string{"gemini", "openai", "http", "cli"} {
		_, err := NewGenerator(context.Background(), Config{Mode: mode})
		assert.Error(t, err, "mode %s", mode)
	}
	_, err := NewGenerator(context.Background(), Config{Mode: "palm"})
	assert.Error(t, err)
}

func TestMockReplyMentionsMostRelevantHistory(t *testing.T) {
	raw, err := json.Marshal(Payload{
		Query: "and in rust?",
		History: history.RankedHistory{
			{UserPrompt: "how do I sort a slice in go", AIResponse: "sort.Slice"},
			{UserPrompt: "older", AIResponse: "x"},
		},
	})
	require.NoError(t, err)

	got, err := NewMockGenerator().Generate(context.Background(), GenerateRequest{Prompt: string(raw)})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: and in rust?\nI also remember: how do I sort a slice in go", got)

	got, err = NewMockGenerator().Generate(context.Background(), GenerateRequest{Prompt: "plain text"})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: plain text", got)
}

func TestInvokerSerializesPayload(t *testing.T) {
	gen := &recordingGenerator{reply: "4"}
	inv := NewInvoker(gen, prompts.Static("be brief"), nil)

	res := inv.Invoke(context.Background(), Payload{
		Query:   "what is 2+2",
		Context: JoinContext([]string{"math", " ", "arithmetic"}),
		History: history.RankedHistory{{UserPrompt: "hi", AIResponse: "hello"}},
	})
	assert.Equal(t, "4", res.Text)
	assert.Empty(t, res.Error)
	assert.Equal(t, "be brief", gen.last.SystemInstruction)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(gen.last.Prompt), &sent))
	assert.Equal(t, "what is 2+2", sent["query"])
	assert.Equal(t, "math\narithmetic", sent["context"])
	hist, ok := sent["history"].([]any)
	require.True(t, ok)
	require.Len(t, hist, 1)
	assert.Equal(t, map[string]any{"user_prompt": "hi", "ai_response": "hello"}, hist[0])
}

func TestInvokerSendsEmptyHistoryAsArray(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	NewInvoker(gen, nil, nil).Invoke(context.Background(), Payload{Query: "q"})
	assert.Contains(t, gen.last.Prompt, `"history":[]`)
}

func TestInvokerEmptyQuery(t *testing.T) {
	gen := &recordingGenerator{}
	res := NewInvoker(gen, nil, nil).Invoke(context.Background(), Payload{Query: "  "})
	assert.Equal(t, NoInputMessage, res.Error)
	assert.ErrorIs(t, res.Err, ErrNoInput)
	assert.Zero(t, gen.calls)
}

func TestInvokerSurfacesGeneratorFailureOnce(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("quota exceeded")}
	res := NewInvoker(gen, nil, nil).Invoke(context.Background(), Payload{Query: "q"})
	assert.Empty(t, res.Text)
	assert.Contains(t, res.Error, "quota exceeded")
	assert.Equal(t, 1, gen.calls)
}

func TestHTTPGeneratorJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body httpGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body.SystemInstruction)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" echo: ` + body.Prompt + ` "}`))
	}))
	defer srv.Close()

	got, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), GenerateRequest{SystemInstruction: "sys", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", got)
}

func TestHTTPGeneratorPlainTextAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("just text\n"))
	}))
	defer srv.Close()

	got, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "just text", got)

	_, err = NewHTTPGenerator(srv.URL+"/fail").Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestConsumeStreamSSEAndNDJSON(t *testing.T) {
	sse := strings.Join([]string{
		": keepalive",
		"",
		`data: {"delta":"Hel"}`,
		"",
		`data: {"delta":"lo"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")
	got, err := consumeStream(strings.NewReader(sse))
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)

	got, err = consumeStream(strings.NewReader("{\"delta\":\"Hi\"}\n{\"delta\":\" there\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)
}

func TestOpenAIGeneratorSendsSystemAndUserMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":" 4 "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL + "/v1"})
	got, err := gen.Generate(context.Background(), GenerateRequest{SystemInstruction: "sys", Prompt: "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestCLIGeneratorPassesPromptAsArgument(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}
	got, err := NewCLIGenerator(echo).Generate(context.Background(), GenerateRequest{Prompt: `{"query":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, `{"query":"hi"}`, got)
}

func TestCLIGeneratorFailure(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	_, err = NewCLIGenerator(bin).Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
}

func TestEnhancerParsesFencedReply(t *testing.T) {
	gen := &recordingGenerator{reply: "```json\n{\"enhancedQuery\": \"divideNumbers division arithmetic\", \"error\": null}\n```"}
	res, err := NewEnhancer(gen, nil).Enhance(context.Background(), EnhanceRequest{
		Query:   "how to use divideNumbers",
		Context: map[string]any{"language": "typescript"},
	})
	require.NoError(t, err)
	assert.Equal(t, "divideNumbers division arithmetic", res.EnhancedQuery)
	assert.Nil(t, res.Error)
	assert.Equal(t, prompts.DefaultQueryEnhancementInstruction, gen.last.SystemInstruction)
	assert.Contains(t, gen.last.Prompt, `"language":"typescript"`)
}

func TestEnhancerFallsBackToOriginalQuery(t *testing.T) {
	gen := &recordingGenerator{reply: "I could not do that"}
	res, err := NewEnhancer(gen, nil).Enhance(context.Background(), EnhanceRequest{Query: "fix login"})
	require.NoError(t, err)
	assert.Equal(t, "fix login", res.EnhancedQuery)

	gen.reply = `{"enhancedQuery": null, "error": "query is empty of meaning"}`
	res, err = NewEnhancer(gen, nil).Enhance(context.Background(), EnhanceRequest{Query: "fix login"})
	require.NoError(t, err)
	assert.Equal(t, "fix login", res.EnhancedQuery)
	require.NotNil(t, res.Error)
	assert.Equal(t, "query is empty of meaning", *res.Error)
}

func TestEnhancerErrors(t *testing.T) {
	_, err := NewEnhancer(&recordingGenerator{}, nil).Enhance(context.Background(), EnhanceRequest{})
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = NewEnhancer(&recordingGenerator{reply: "  "}, nil).Enhance(context.Background(), EnhanceRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = NewEnhancer(&recordingGenerator{err: errors.New("down")}, nil).Enhance(context.Background(), EnhanceRequest{Query: "q"})
	assert.Error(t, err)
}
