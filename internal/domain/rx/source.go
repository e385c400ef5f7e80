package rx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

// HTTPOrderSource pulls versions from the order system:
// GET <base>/patients/<id>/rx/latest.
type HTTPOrderSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOrderSource(baseURL string, timeout time.Duration) *HTTPOrderSource {
	return &HTTPOrderSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPOrderSource) LatestVersion(ctx context.Context, patientID string) (*OrderVersion, error) {
	endpoint := fmt.Sprintf("%s/patients/%s/rx/latest", s.baseURL, url.PathEscape(patientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build order system request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest rx for %s: %w", patientID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFoundf("no prescription for patient %s", patientID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("order system returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var v OrderVersion
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode order version: %w", err)
	}
	if v.PatientID == "" {
		v.PatientID = patientID
	}
	if v.PatientID != patientID {
		return nil, fmt.Errorf("order system answered for patient %s, asked for %s", v.PatientID, patientID)
	}
	return &v, nil
}
