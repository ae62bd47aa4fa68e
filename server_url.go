package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// serviceURL normalises the configured API base URL into something dialable.
// 1.- Hosts that mean "any interface" on a server are mapped to localhost so a probe pointed at a local service just works.
// 2.- Trailing slashes are trimmed so path joining stays predictable.
func serviceURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("server url must be http or https, got %q", raw)
	}
	parsed.Host = dialableHost(parsed.Host)
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String(), nil
}

// streamURL derives the websocket base URL from the API base URL.
func streamURL(apiURL string) (string, error) {
	normalised, err := serviceURL(apiURL)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(normalised)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	return parsed.String(), nil
}

func dialableHost(hostport string) string {
	trimmed := strings.TrimSpace(hostport)
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		switch trimmed {
		case "", "0.0.0.0", "::", "[::]":
			return "localhost"
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
