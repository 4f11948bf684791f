package anthropic

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbench/paperbench/pkg/chat"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{Model: "claude-test"})
	require.Error(t, err)
}

func messagesResponse(text ...string) map[string]any {
	blocks := make([]map[string]any, 0, len(text))
	for _, tx := range text {
		blocks = append(blocks, map[string]any{"type": "text", "text": tx})
	}
	return map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-test",
		"content":     blocks,
		"stop_reason": "end_turn",
		"usage":       map[string]int64{"input_tokens": 3, "output_tokens": 5},
	}
}

func TestCreateChatCompletion_ConvertsRoles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("x-api-key"))

		var payload map[string]any
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)
		assert.Equal(t, "claude-test", payload["model"])
		assert.Equal(t, float64(8192), payload["max_tokens"])

		// Both system turns collapse into the system field, joined.
		system, ok := payload["system"].([]any)
		assert.True(t, ok)
		assert.Len(t, system, 1)
		block, ok := system[0].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "be helpful\n\nbe brief", block["text"])

		// Non-system turns keep their order; the tool turn becomes a user
		// turn since the Messages API has no tool role.
		messages, ok := payload["messages"].([]any)
		assert.True(t, ok)
		roles := make([]string, 0, len(messages))
		for _, m := range messages {
			roles = append(roles, m.(map[string]any)["role"].(string))
		}
		assert.Equal(t, []string{"user", "assistant", "user"}, roles)

		w.Header().Set("content-type", "application/json")
		err = json.NewEncoder(w).Encode(messagesResponse("hel", "lo"))
		assert.NoError(t, err)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	require.NoError(t, err)

	reply, err := client.CreateChatCompletion(t.Context(), []chat.Message{
		{Role: chat.RoleSystem, Content: "be helpful"},
		{Role: chat.RoleSystem, Content: "be brief"},
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "running ls"},
		{Role: chat.RoleTool, Content: "exit code 0"},
	})
	require.NoError(t, err)
	// Text blocks concatenate into one reply.
	assert.Equal(t, "hello", reply)
}

func TestCreateStructuredCompletion_AppendsSchemaInstruction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)

		messages, ok := payload["messages"].([]any)
		assert.True(t, ok)
		require.NotEmpty(t, messages)
		last := messages[len(messages)-1].(map[string]any)
		content := last["content"].([]any)[0].(map[string]any)
		text := content["text"].(string)
		assert.True(t, strings.HasPrefix(text, "grade this"))
		assert.Contains(t, text, "leaf_grade")
		assert.Contains(t, text, "JSON")

		w.Header().Set("content-type", "application/json")
		err = json.NewEncoder(w).Encode(messagesResponse(`{"score": 0.5, "explanation": "ok"}`))
		assert.NoError(t, err)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	require.NoError(t, err)

	messages := []chat.Message{{Role: chat.RoleUser, Content: "grade this"}}
	raw, err := client.CreateStructuredCompletion(t.Context(), messages, "leaf_grade", map[string]any{"type": "object"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": 0.5, "explanation": "ok"}`, raw)

	// The instruction is appended to a copy; the caller's slice is untouched.
	assert.Equal(t, "grade this", messages[0].Content)
}

func TestCreateChatCompletion_Temperature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)
		assert.Equal(t, 0.2, payload["temperature"])

		w.Header().Set("content-type", "application/json")
		err = json.NewEncoder(w).Encode(messagesResponse("ok"))
		assert.NoError(t, err)
	}))
	defer server.Close()

	temp := 0.2
	client, err := NewClient(Config{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL, Temperature: &temp})
	require.NoError(t, err)

	_, err = client.CreateChatCompletion(t.Context(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}})
	require.NoError(t, err)
}
