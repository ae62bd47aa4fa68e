package main

import "testing"

func TestServiceURLNormalisesHosts(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		raw  string
		want string
	}{
		"plain_host":        {raw: "http://example.test:8080", want: "http://example.test:8080"},
		"ipv4_any":          {raw: "http://0.0.0.0:9000", want: "http://localhost:9000"},
		"ipv6_any":          {raw: "https://[::]:9000", want: "https://localhost:9000"},
		"no_port":           {raw: "https://game.example.test", want: "https://game.example.test"},
		"trailing_slash":    {raw: "http://localhost:43127/", want: "http://localhost:43127"},
		"surrounding_space": {raw: "  http://localhost:43127  ", want: "http://localhost:43127"},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := serviceURL(tc.raw)
			if err != nil {
				t.Fatalf("serviceURL(%q) returned error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("serviceURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestServiceURLRejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()
	for name, raw := range map[string]string{
		"websocket": "ws://localhost:43127",
		"bare_host": "localhost:43127",
		"empty":     "",
	} {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := serviceURL(raw); err == nil {
				t.Fatalf("serviceURL(%q) accepted a non-http URL", raw)
			}
		})
	}
}

func TestStreamURLSwitchesScheme(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		raw  string
		want string
	}{
		"http_becomes_ws":   {raw: "http://localhost:43127", want: "ws://localhost:43127"},
		"https_becomes_wss": {raw: "https://game.example.test", want: "wss://game.example.test"},
		"any_host_mapped":   {raw: "http://0.0.0.0:43127", want: "ws://localhost:43127"},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := streamURL(tc.raw)
			if err != nil {
				t.Fatalf("streamURL(%q) returned error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("streamURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}
