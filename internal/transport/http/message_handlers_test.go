package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg11/boundless/internal/proto"
)

func (e *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestLoginAndRegister(t *testing.T) {
	env := startTestServer(t, testConfig())

	resp, body := env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "bob", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var auth AuthResponse
	require.NoError(t, json.Unmarshal(body, &auth))
	assert.NotEmpty(t, auth.Token)

	resp, _ = env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "bob", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "dave", Password: "password123"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "dave", Password: "password123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageEndpointsRequireAuth(t *testing.T) {
	env := startTestServer(t, testConfig())

	resp, _ := env.do(t, http.MethodGet, "/api/channels/"+env.general.ID+"/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/channels/"+env.general.ID+"/messages", env.carolToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/channels/"+env.staff.ID+"/messages", env.bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/channels/missing/messages", env.bobToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/messages/abc", env.bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/messages/12345", env.bobToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListChannelPaging(t *testing.T) {
	env := startTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := env.dial(t, ctx, env.general, env.bobToken)
	for i := range 5 {
		require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Message: fmt.Sprintf("m%d", i)}))
		readEvent(t, ctx, conn, proto.EventMessage)
	}

	path := "/api/channels/" + env.general.ID + "/messages"
	resp, body := env.do(t, http.MethodGet, path, env.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page MessagesResponse
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Messages, 5)
	assert.Equal(t, "m0", page.Messages[0].Message)
	assert.Equal(t, "Bob", page.Messages[0].User)

	resp, body = env.do(t, http.MethodGet, path+"?limit=2", env.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m3", page.Messages[0].Message)
	assert.Equal(t, "m4", page.Messages[1].Message)

	first := page.Messages[0]
	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("%s?after_id=%d", path, first.ID), env.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m4", page.Messages[0].Message)

	resp, _ = env.do(t, http.MethodGet, path+"?limit=-1", env.aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, path+"?after_ts=yesterday", env.aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEditDeleteAndHistoryOverREST(t *testing.T) {
	env := startTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, _ := env.dial(t, ctx, env.general, env.bobToken)
	require.NoError(t, wsjson.Write(ctx, bob, proto.Inbound{Message: "v1"}))
	sent := readEvent(t, ctx, bob, proto.EventMessage)
	msgPath := fmt.Sprintf("/api/messages/%d", sent.ID)

	resp, _ := env.do(t, http.MethodPatch, msgPath, env.aliceToken, EditMessageRequest{Message: "nope"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(t, http.MethodPatch, msgPath, env.bobToken, EditMessageRequest{Message: "v2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg proto.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "v2", msg.Message)

	// Connected sessions see REST edits.
	edited := readEvent(t, ctx, bob, proto.EventEdited)
	assert.Equal(t, "v2", edited.Message)

	resp, _ = env.do(t, http.MethodPatch, msgPath, env.bobToken, EditMessageRequest{Message: "v3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, msgPath+"/history", env.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Edits, 2)
	assert.Equal(t, "v2", history.Edits[0].OldBody)
	assert.Equal(t, "v1", history.Edits[1].OldBody)

	resp, _ = env.do(t, http.MethodDelete, msgPath, env.bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := readEvent(t, ctx, bob, proto.EventDeleted)
	assert.Equal(t, sent.ID, deleted.ID)

	resp, _ = env.do(t, http.MethodDelete, msgPath, env.bobToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, msgPath, env.bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.True(t, msg.Deleted)

	resp, body = env.do(t, http.MethodGet, "/api/channels/"+env.general.ID+"/messages", env.bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page MessagesResponse
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Empty(t, page.Messages)
}
