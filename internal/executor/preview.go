package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
)

const previewProbeTimeout = 10 * time.Second

// Browser drives scripted page interactions and screenshots. Optional:
// without one, previews fall back to a plain HTTP health probe.
type Browser interface {
	Preview(ctx context.Context, url string, actions []domain.BrowserAction, captureScreenshot bool) (map[string]any, error)
}

// PreviewExecutor checks a running dev server and optionally drives a
// browser against it.
type PreviewExecutor struct {
	browser Browser
	client  *http.Client
}

// NewPreviewExecutor creates a preview executor. browser may be nil.
func NewPreviewExecutor(browser Browser) *PreviewExecutor {
	return &PreviewExecutor{
		browser: browser,
		client:  &http.Client{Timeout: previewProbeTimeout},
	}
}

func (e *PreviewExecutor) Kind() domain.ActionKind { return domain.ActionPreview }

func (e *PreviewExecutor) Execute(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	if payload.URL == "" {
		return nil, fmt.Errorf("url is required for preview actions")
	}

	if e.browser != nil {
		capture := true
		if payload.CaptureScreenshot != nil {
			capture = *payload.CaptureScreenshot
		}
		result, err := e.browser.Preview(ctx, payload.URL, payload.Actions, capture)
		if err != nil {
			return nil, fmt.Errorf("browser preview: %w", err)
		}
		return result, nil
	}

	status, err := e.probe(ctx, payload.URL)
	if err != nil {
		return nil, fmt.Errorf("preview probe %s: %w", payload.URL, err)
	}

	healthy := status >= 200 && status < 400
	slog.Info("Preview probe completed", "url", payload.URL, "httpStatus", status, "healthy", healthy, "sessionId", sess.ID)

	return map[string]any{
		"success":    healthy,
		"httpStatus": status,
		"healthy":    healthy,
	}, nil
}

func (e *PreviewExecutor) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
