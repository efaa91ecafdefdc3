package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(provider, endpoint string) *Client {
	return NewClient(Config{
		Timeout:   2 * time.Second,
		Endpoints: map[string]string{provider: endpoint},
	}, nil)
}

func TestClientSendOpenAICompatible(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "moonshot-v1-8k-vision", payload["model"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"itemized_scores\":[1]}"}}]}`))
	}))
	defer server.Close()

	c := newTestClient("moonshot", server.URL)
	text, err := c.Send(context.Background(), Call{
		Provider: "moonshot",
		APIKey:   "Bearer sk-test",
		Model:    "moonshot-v1-8k-vision",
		Image:    []byte{0xff, 0xd8, 0xff},
		Prompt:   Prompt{System: "s", User: "u"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"itemized_scores":[1]}`, text)
}

func TestClientSendStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   ErrorKind
		text   string
	}{
		{401, KindAuth, "unauthorized"},
		{403, KindAuth, "unauthorized"},
		{400, KindBadRequest, "bad request"},
		{429, KindRateLimit, "rate limit"},
		{503, KindUpstream, "service unavailable"},
		{500, KindUpstream, "internal server error"},
		{418, KindHTTP, "unexpected status"},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(strings.Repeat("x", 500)))
		}))

		c := newTestClient("openai", server.URL)
		_, err := c.Send(context.Background(), Call{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o", Prompt: Prompt{User: "u"}})
		server.Close()

		var ce *CallError
		require.ErrorAs(t, err, &ce, "status %d", tc.status)
		assert.Equal(t, tc.kind, ce.Kind)
		assert.Equal(t, tc.status, ce.Status)
		assert.Len(t, ce.Body, 200)
		assert.Contains(t, err.Error(), tc.text)
	}
}

func TestClientMalformedTencentKeyMakesNoRequest(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := newTestClient("tencent", server.URL)
	_, err := c.Send(context.Background(), Call{Provider: "tencent", APIKey: "SecretIdOnly", Model: "hunyuan-vision", Prompt: Prompt{User: "u"}})

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindInvalidKey, ce.Kind)
	assert.Contains(t, ce.Message, "缺少冒号分隔符")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestClientTencentSignedRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=AKID123456789/"))
		assert.Equal(t, "ChatCompletions", r.Header.Get("X-TC-Action"))
		assert.NotEmpty(t, r.Header.Get("X-TC-Timestamp"))
		_, _ = w.Write([]byte(`{"Response":{"Choices":[{"Message":{"Content":"ok"}}]}}`))
	}))
	defer server.Close()

	c := newTestClient("tencent", server.URL)
	text, err := c.Send(context.Background(), Call{Provider: "tencent", APIKey: "AKID123456789:secret123456", Model: "hunyuan-vision", Prompt: Prompt{User: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestClientGeminiKeyInURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "AIzaSyA1234567890abcdef", r.URL.Query().Get("key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"g"}]}}]}`))
	}))
	defer server.Close()

	c := newTestClient("gemini", server.URL+"/models/{model}:generateContent")
	text, err := c.Send(context.Background(), Call{Provider: "gemini", APIKey: "AIzaSyA1234567890abcdef", Model: "gemini-1.5-flash", Prompt: Prompt{User: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "g", text)
}

func TestClientGeminiTransportErrorHidesKey(t *testing.T) {
	t.Parallel()

	const key = "AIzaSECRETSECRETSECRET1234"
	c := newTestClient("gemini", "http://127.0.0.1:1/v1beta/models/{model}:generateContent")
	_, err := c.Send(context.Background(), Call{Provider: "gemini", APIKey: key, Model: "gemini-pro", Prompt: Prompt{User: "u"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), key)
	assert.NotContains(t, err.Error(), "key=")

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindConnection, ce.Kind)
	assert.Contains(t, ce.Message, "127.0.0.1:1/v1beta/models/gemini-pro:generateContent")
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://h/v1/m:gen", redactURL("https://h/v1/m:gen?key=abc"))
	assert.Equal(t, "https://h/p", redactURL("https://user:pw@h/p"))
	assert.Equal(t, "%zz", redactURL("%zz?key=abc"))
}

func TestClientNoContentAndTimeout(t *testing.T) {
	t.Parallel()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()

	c := newTestClient("openai", empty.URL)
	_, err := c.Send(context.Background(), Call{Provider: "openai", APIKey: "sk", Model: "m", Prompt: Prompt{User: "u"}})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNoContent, ce.Kind)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	c = NewClient(Config{Timeout: 50 * time.Millisecond, Endpoints: map[string]string{"openai": slow.URL}}, nil)
	_, err = c.Send(context.Background(), Call{Provider: "openai", APIKey: "sk", Model: "m", Prompt: Prompt{User: "u"}})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Contains(t, err.Error(), "timeout")
}

func TestClientResetDropsSession(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, nil)
	first := c.httpClient()
	assert.Same(t, first, c.httpClient())

	c.Reset()
	assert.NotSame(t, first, c.httpClient())
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	_, err := BuildPrompt("数学", "  ", "")
	require.Error(t, err)

	p, err := BuildPrompt("", "第1空2分", "填空题")
	require.NoError(t, err)
	assert.Contains(t, p.System, "【通用】")
	assert.Contains(t, p.System, ManualPrefix)
	assert.Contains(t, p.User, "第1空2分")

	holistic, err := BuildPrompt("语文", "立意10分", "Holistic_Evaluation_Open")
	require.NoError(t, err)
	assert.NotContains(t, holistic.System, "【证据】")
	assert.Contains(t, holistic.User, "整体评估开放题")
}
