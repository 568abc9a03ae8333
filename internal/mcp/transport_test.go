package mcp

import "testing"

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"missing id", ServerConfig{Command: "echo"}, true},
		{"missing command", ServerConfig{ID: "x"}, true},
		{"valid", ServerConfig{ID: "x", Command: "echo"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewTransport(t *testing.T) {
	cfg := &ServerConfig{ID: "test", Command: "echo"}
	tr := newTransport(cfg, nil)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if tr.pending == nil {
		t.Error("expected pending map to be initialized")
	}
	if tr.connectedNow() {
		t.Error("expected connectedNow() false before connect()")
	}
}

func TestTransportCallNotConnected(t *testing.T) {
	cfg := &ServerConfig{ID: "test", Command: "echo"}
	tr := newTransport(cfg, nil)
	if _, err := tr.call(nil, "test", nil); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestTransportNotifyNotConnected(t *testing.T) {
	cfg := &ServerConfig{ID: "test", Command: "echo"}
	tr := newTransport(cfg, nil)
	if err := tr.notify("test", nil); err == nil {
		t.Error("expected error when not connected")
	}
}
