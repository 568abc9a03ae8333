package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// fakeServerScript is a minimal shell "MCP server": it replies to each
// request by matching the method name in the request line, one canned
// response per line read. Good enough to exercise the real transport/
// client/adapter wiring end to end without needing a real MCP SDK
// dependency in the pack.
const fakeServerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"0.1"}}}'
      ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}'
      ;;
    *'"method":"tools/call"'*)
      echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hello from echo"}],"isError":false}}'
      ;;
  esac
done
`

func newFakeClient(t *testing.T) (*Client, func()) {
	t.Helper()
	cfg := &ServerConfig{ID: "fake", Command: "/bin/sh", Args: []string{"-c", fakeServerScript}, Timeout: 5 * time.Second}
	client := NewClient(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Connect(ctx); err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}
	return client, func() { cancel(); client.Close() }
}

func TestClientConnectAndListTools(t *testing.T) {
	client, cleanup := newFakeClient(t)
	defer cleanup()

	if got := client.ServerInfo().Name; got != "fake" {
		t.Errorf("ServerInfo().Name = %q, want %q", got, "fake")
	}
	toolList := client.Tools()
	if len(toolList) != 1 || toolList[0].Name != "echo" {
		t.Fatalf("Tools() = %+v, want one tool named echo", toolList)
	}
}

func TestAdaptedToolExecute(t *testing.T) {
	client, cleanup := newFakeClient(t)
	defer cleanup()

	adapted := NewRegistryTools("fake", client)
	if len(adapted) != 1 {
		t.Fatalf("NewRegistryTools returned %d tools, want 1", len(adapted))
	}
	tool := adapted[0]

	if want := "mcp_fake_echo"; tool.Name() != want {
		t.Errorf("Name() = %q, want %q", tool.Name(), want)
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Errorf("unexpected is_error result: %+v", result)
	}
	if result.Output != "hello from echo" {
		t.Errorf("Output = %q, want %q", result.Output, "hello from echo")
	}
}
