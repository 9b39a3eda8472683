package protocol

import "testing"

func TestFunctionName(t *testing.T) {
	tests := []struct {
		path string
		name string
		ok   bool
	}{
		{"/ws/functions/echo", "echo", true},
		{"/wss/functions/echo/", "echo", true},
		{"/ws/functions/", "", false},
		{"/ws/widget-1", "", false},
		{"/functions/echo", "", false},
	}
	for _, tt := range tests {
		name, ok := FunctionName(tt.path)
		if name != tt.name || ok != tt.ok {
			t.Errorf("FunctionName(%q) = %q, %v; want %q, %v", tt.path, name, ok, tt.name, tt.ok)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	tests := map[string]string{
		"/ws/widget-1":      "widget-1",
		"/wss/page/widget/": "page/widget",
		"/ws/":              "",
		"/other/thing":      "other/thing",
		"widget-2":          "widget-2",
	}
	for path, want := range tests {
		if got := RoutingKey(path); got != want {
			t.Errorf("RoutingKey(%q) = %q, want %q", path, got, want)
		}
	}
}
