package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/spokevisor/internal/config"
	"github.com/loykin/spokevisor/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// apiURL picks the daemon URL: --api-url, then the [server] section of
// --config, then the client default.
func apiURL(f GlobalFlags) (string, error) {
	if f.APIUrl != "" {
		return f.APIUrl, nil
	}
	if f.ConfigPath == "" {
		return client.DefaultConfig().BaseURL, nil
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return "", err
	}
	return baseURL(cfg.Server.Listen, cfg.Server.BasePath), nil
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen, basePath string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = listen, "80"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	bp := strings.TrimRight(strings.TrimSpace(basePath), "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return "http://" + net.JoinHostPort(host, port) + bp
}
