package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPRecognizer asks a gap-recognition service for the gap position. The
// service accepts a multipart "image" field and answers {"box":[x1,y1,x2,y2]}.
type HTTPRecognizer struct {
	endpoint   string
	httpClient *http.Client
}

type identifyResponse struct {
	Box   []float64 `json:"box"`
	Error string    `json:"error,omitempty"`
}

func NewHTTPRecognizer(endpoint string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRecognizer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Identify uploads the image and returns the left x coordinate of the gap.
func (r *HTTPRecognizer) Identify(ctx context.Context, imagePath string) (float64, error) {
	img, err := os.Open(imagePath) //nolint:gosec // scratch file written by the solver
	if err != nil {
		return 0, fmt.Errorf("open image: %w", err)
	}
	defer img.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, img); err != nil {
		return 0, fmt.Errorf("copy image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("recognizer returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result identifyResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Box) == 0 {
		if result.Error != "" {
			return 0, fmt.Errorf("%w: %s", ErrNoGap, result.Error)
		}
		return 0, ErrNoGap
	}
	return result.Box[0], nil
}
