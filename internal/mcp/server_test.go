package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	caller signals.Caller
	name   string
	args   map[string]any
}

type fakeDispatcher struct {
	calls  []call
	result tools.Result
}

func (f *fakeDispatcher) Call(_ context.Context, caller signals.Caller, name string, args map[string]any) tools.Result {
	f.calls = append(f.calls, call{caller: caller, name: name, args: args})
	return f.result
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func run(t *testing.T, d Dispatcher, input ...string) []rpcReply {
	t.Helper()
	var out bytes.Buffer
	s := NewServer(d, "test")
	err := s.Run(context.Background(), strings.NewReader(strings.Join(input, "\n")+"\n"), &out)
	require.NoError(t, err)

	var replies []rpcReply
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r rpcReply
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), "line: %s", sc.Text())
		replies = append(replies, r)
	}
	return replies
}

func TestServer_InitializeAndList(t *testing.T) {
	replies := run(t, &fakeDispatcher{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":"two","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)
	require.Len(t, replies, 3, "notification must not be answered")

	assert.JSONEq(t, `1`, string(replies[0].ID))
	var initRes initializeResult
	require.NoError(t, json.Unmarshal(replies[0].Result, &initRes))
	assert.Equal(t, protocolVersion, initRes.ProtocolVersion)
	assert.Equal(t, "overnightedge", initRes.ServerInfo.Name)
	assert.Equal(t, "test", initRes.ServerInfo.Version)

	assert.JSONEq(t, `"two"`, string(replies[1].ID))
	var list struct {
		Tools []tools.Definition `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &list))
	assert.Len(t, list.Tools, 4)

	assert.JSONEq(t, `{}`, string(replies[2].Result))
}

func TestServer_ProtocolErrors(t *testing.T) {
	replies := run(t, &fakeDispatcher{},
		`{not json`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"arguments":{}}}`,
		`{"jsonrpc":"1.0","id":4,"method":"ping"}`,
	)
	require.Len(t, replies, 4)
	assert.Equal(t, codeParseError, replies[0].Error.Code)
	assert.Contains(t, []string{"", "null"}, string(replies[0].ID))
	assert.Equal(t, codeMethodNotFound, replies[1].Error.Code)
	assert.Equal(t, codeInvalidParams, replies[2].Error.Code)
	assert.Equal(t, codeInvalidRequest, replies[3].Error.Code)
}

func TestServer_ToolCallTier(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   models.Tier
	}{
		{"meta", `{"name":"get_top_movers","arguments":{"count":3},"_meta":{"user_info":{"tier":"war_room"}}}`, models.TierWarRoom},
		{"inline", `{"name":"get_top_movers","arguments":{"count":3,"_user_info":{"tier":"EDGE"}}}`, models.TierEdge},
		{"missing", `{"name":"get_top_movers","arguments":{"count":3}}`, models.TierFree},
		{"unknown", `{"name":"get_top_movers","arguments":{"count":3},"_meta":{"user_info":{"tier":"PLATINUM"}}}`, models.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{result: tools.Result{Body: map[string]any{"ok": true}}}
			replies := run(t, d, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":`+tt.params+`}`)

			require.Len(t, d.calls, 1)
			assert.Equal(t, tt.want, d.calls[0].caller.Tier)
			assert.Equal(t, "get_top_movers", d.calls[0].name)
			assert.NotContains(t, d.calls[0].args, userInfoArg)
			assert.Equal(t, 3.0, d.calls[0].args["count"])

			var res callToolResult
			require.NoError(t, json.Unmarshal(replies[0].Result, &res))
			assert.False(t, res.IsError)
			require.Len(t, res.Content, 1)
			assert.Equal(t, "text", res.Content[0].Type)
			assert.JSONEq(t, `{"ok":true}`, res.Content[0].Text)
		})
	}
}

func TestServer_ToolErrorBody(t *testing.T) {
	d := &fakeDispatcher{result: tools.Result{
		Body: &signals.Error{Code: signals.CodeUpgradeRequired, Message: "upgrade", URL: "https://gammarips.com/#pricing"},
		Code: signals.CodeUpgradeRequired,
	}}
	replies := run(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_signal_detail","arguments":{"ticker":"FSLY"}}}`)

	require.Nil(t, replies[0].Error)
	var res callToolResult
	require.NoError(t, json.Unmarshal(replies[0].Result, &res))
	assert.True(t, res.IsError)
	assert.JSONEq(t, `{"error":"upgrade_required","message":"upgrade","url":"https://gammarips.com/#pricing"}`, res.Content[0].Text)
}

func TestServer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := NewServer(&fakeDispatcher{}, "test").Run(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}
