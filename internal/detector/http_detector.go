package detector

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single health request.
const DefaultProbeTimeout = 5 * time.Second

// HTTPDetector probes a health URL. Any status below 400 counts as alive;
// transport errors count as not alive and are returned for logging.
type HTTPDetector struct {
	URL    string
	Client *http.Client
}

func (d HTTPDetector) Alive(ctx context.Context) (bool, error) {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode < http.StatusBadRequest, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
