package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/annotate"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const requestTimeout = 30 * time.Second

// Remote talks to an HTTP inference service: frames go up as JPEG, the
// detections come back as JSON. Detections below the requested confidence
// threshold are filtered out server-side.
type Remote struct {
	endpoint string
	model    string
	client   *http.Client
	loaded   atomic.Bool
}

func NewRemote(endpoint, model string) *Remote {
	return &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Load asks the service to load the configured model. It is idempotent:
// after the first success it returns immediately.
func (r *Remote) Load(ctx context.Context) error {
	if r.loaded.Load() {
		return nil
	}

	body, err := json.Marshal(map[string]string{"model": r.model})
	if err != nil {
		return fmt.Errorf("encode load request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("load model: service returned %d", resp.StatusCode)
	}

	r.loaded.Store(true)
	logger.Info("Engine", "Model %s loaded", r.model)
	return nil
}

// Loaded reports whether the model load has succeeded.
func (r *Remote) Loaded() bool {
	return r.loaded.Load()
}

type inferResponse struct {
	Detections []types.Detection `json:"detections"`
}

// Infer runs one detection pass over the frame.
func (r *Remote) Infer(ctx context.Context, frame *types.Frame, confidence float64) ([]types.Detection, error) {
	jpegData, err := annotate.EncodeJPEG(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	url := fmt.Sprintf("%s/detect?confidence=%.2f", r.endpoint, confidence)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return out.Detections, nil
}
