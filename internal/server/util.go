package server

import (
	"strings"

	"github.com/loykin/spokevisor/internal/service"
)

// mountPoint normalizes a configured base path to "" or "/seg[/seg...]".
func mountPoint(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// validKey rejects URL keys that could never name a registered service.
func validKey(k string) bool {
	return service.ValidKey(k) && !strings.Contains(k, "..")
}
