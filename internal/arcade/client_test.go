package arcade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gmailDefs() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:          "ListEmails",
			QualifiedName: "Google.ListEmails",
			Description:   "List emails",
			Toolkit:       ToolkitDefinition{Name: "Google"},
			Input: ToolInput{Parameters: []ToolParameter{
				{Name: "n_emails", Required: false, ValueSchema: ValueSchema{ValType: "integer"}},
				{Name: "labels", ValueSchema: ValueSchema{ValType: "array"}},
			}},
			Requirements: &ToolRequirements{Authorization: &AuthorizationRequirement{ProviderID: "google"}},
		},
		{
			Name:          "Echo",
			QualifiedName: "Google.Echo",
			Description:   "Echo",
			Toolkit:       ToolkitDefinition{Name: "Google"},
		},
	}
}

type fakeArcade struct {
	t         *testing.T
	statusSeq []AuthorizationStatus
	calls     atomic.Int32
	executed  atomic.Int32
	lastUser  atomic.Value
}

func (f *fakeArcade) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(f.t, "Google", r.URL.Query().Get("toolkit"))
		defs := gmailDefs()
		_ = json.NewEncoder(w).Encode(listToolsResponse{Items: defs, TotalCount: len(defs)})
	})
	mux.HandleFunc("/v1/tools/authorize", func(w http.ResponseWriter, r *http.Request) {
		var req authorizeRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, "Google.ListEmails", req.ToolName)
		_ = json.NewEncoder(w).Encode(AuthorizationResponse{ID: "auth-1", Status: StatusPending, URL: "https://auth.example/1"})
	})
	mux.HandleFunc("/v1/auth/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "auth-1", r.URL.Query().Get("id"))
		i := int(f.calls.Add(1)) - 1
		st := StatusPending
		if i < len(f.statusSeq) {
			st = f.statusSeq[i]
		} else if len(f.statusSeq) > 0 {
			st = f.statusSeq[len(f.statusSeq)-1]
		}
		_ = json.NewEncoder(w).Encode(AuthorizationResponse{ID: "auth-1", Status: st})
	})
	mux.HandleFunc("/v1/tools/execute", func(w http.ResponseWriter, r *http.Request) {
		f.executed.Add(1)
		var req executeRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.lastUser.Store(req.UserID)
		switch req.ToolName {
		case "Google.ListEmails":
			_ = json.NewEncoder(w).Encode(ExecuteResponse{ID: "e1", Success: true, Output: &ExecuteOutput{
				Value: map[string]any{"emails": []string{"a", "b"}},
			}})
		default:
			_ = json.NewEncoder(w).Encode(ExecuteResponse{ID: "e2", Success: false, Output: &ExecuteOutput{
				Error: &ExecuteError{Message: "boom"},
			}})
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeArcade) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-key", WithPollInterval(time.Millisecond), WithStatusWait(0))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("", " ")
	require.Error(t, err)
}

func TestManager_LoadsToolkitAndReportsAuth(t *testing.T) {
	c := newTestClient(t, &fakeArcade{t: t})
	m := NewManager(c, zerolog.Nop())
	require.NoError(t, m.Init(context.Background(), []string{"Google"}))

	assert.True(t, m.RequiresAuth("Google_ListEmails"))
	assert.False(t, m.RequiresAuth("Google_Echo"))
	assert.False(t, m.RequiresAuth("Unknown_Tool"))

	tools := m.Tools()
	require.Len(t, tools, 2)
	var names []string
	for _, tl := range tools {
		info, err := tl.Info(context.Background())
		require.NoError(t, err)
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"Google_Echo", "Google_ListEmails"}, names)
}

func TestManager_AuthorizeAndWait(t *testing.T) {
	f := &fakeArcade{t: t, statusSeq: []AuthorizationStatus{StatusPending, StatusPending, StatusCompleted}}
	c := newTestClient(t, f)
	m := NewManager(c, zerolog.Nop())
	require.NoError(t, m.Init(context.Background(), []string{"Google"}))

	resp, err := m.Authorize(context.Background(), "Google_ListEmails", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resp.Status)
	assert.Equal(t, "https://auth.example/1", resp.URL)

	done, err := m.WaitForAuth(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.EqualValues(t, 3, f.calls.Load())

	ok, err := m.IsAuthorized(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_AuthorizeUnknownTool(t *testing.T) {
	m := NewManager(newTestClient(t, &fakeArcade{t: t}), zerolog.Nop())
	_, err := m.Authorize(context.Background(), "Nope", "u")
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestClient_WaitForAuthHonoursContext(t *testing.T) {
	f := &fakeArcade{t: t, statusSeq: []AuthorizationStatus{StatusPending}}
	c := newTestClient(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.WaitForAuth(ctx, "auth-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_WaitForAuthFailed(t *testing.T) {
	f := &fakeArcade{t: t, statusSeq: []AuthorizationStatus{StatusFailed}}
	c := newTestClient(t, f)
	resp, err := c.WaitForAuth(context.Background(), "auth-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Status)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "bad")
	require.NoError(t, err)
	_, err = c.ListTools(context.Background(), "Google")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode())
	assert.Equal(t, "invalid api key", apiErr.Message)
}

func TestTool_InvokableRun(t *testing.T) {
	f := &fakeArcade{t: t}
	c := newTestClient(t, f)
	m := NewManager(c, zerolog.Nop())
	require.NoError(t, m.Init(context.Background(), []string{"Google"}))

	def, ok := m.Definition("Google_ListEmails")
	require.True(t, ok)
	tl := NewTool(def, c, zerolog.Nop())

	ctx := WithUserID(context.Background(), "user@example.com")
	out, err := tl.InvokableRun(ctx, `{"n_emails":3}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"emails":["a","b"]}`, out)
	assert.Equal(t, "user@example.com", f.lastUser.Load())

	echo, _ := m.Definition("Google_Echo")
	out, err = NewTool(echo, c, zerolog.Nop()).InvokableRun(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, out)

	_, err = tl.InvokableRun(ctx, "{not json")
	assert.Error(t, err)
	assert.EqualValues(t, 2, f.executed.Load())
}

func TestToolInfo_ParameterTypes(t *testing.T) {
	info := toolInfo(gmailDefs()[0])
	assert.Equal(t, "Google_ListEmails", info.Name)
	require.NotNil(t, info.ParamsOneOf)

	echo := toolInfo(gmailDefs()[1])
	assert.Nil(t, echo.ParamsOneOf)
	assert.Equal(t, schema.Array, parameterInfo(ValueSchema{ValType: "array"}, "", false).Type)
	assert.Equal(t, schema.Integer, dataType("integer"))
	assert.Equal(t, schema.String, dataType("date"))
}
