package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/pipeline"
	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/store"
)

// Notifier reports the outcome of a scheduled surface run.
type Notifier interface {
	SendSuccess(ctx context.Context, res *pipeline.Result, date string) error
	SendFailure(ctx context.Context, res *pipeline.Result, date string, err error) error
}

// Client posts run outcomes to an ntfy topic.
type Client struct {
	httpClient *http.Client
	config     config.NotifyConfig
	logger     *zap.Logger
}

func NewClient(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger.With(zap.String("topic", cfg.Topic)),
	}
}

// alert is one ntfy message.
type alert struct {
	title    string
	body     string
	priority string
	tag      string
}

// successAlert grades a finished run by what it wrote and by the quality
// report. An unchanged surface is low priority; a CRITICAL report is raised.
func successAlert(res *pipeline.Result, date, priority string) alert {
	a := alert{
		title:    "Surface Updated: " + date,
		body:     FormatSuccessMessage(res),
		priority: priority,
		tag:      "white_check_mark",
	}
	if !res.Written {
		a.title, a.priority, a.tag = "Surface Unchanged: "+date, "low", "zzz"
		return a
	}
	if res.Quality == nil {
		return a
	}
	switch res.Quality.Status() {
	case report.StatusCritical:
		a.title, a.priority, a.tag = "Surface Updated With Errors: "+date, "high", "rotating_light"
	case report.StatusAcceptable:
		a.title, a.tag = "Surface Updated With Warnings: "+date, "warning"
	}
	return a
}

// failureAlert is high priority, urgent when the stored surface is corrupt
// and every later run would fail the same way.
func failureAlert(res *pipeline.Result, date string, err error) alert {
	a := alert{
		title:    "Surface Run Failed: " + date,
		body:     FormatFailureMessage(res, err),
		priority: "high",
		tag:      "x",
	}
	if errors.Is(err, store.ErrSurfaceCorrupt) {
		a.priority, a.tag = "urgent", "skull"
	}
	return a
}

// SendSuccess sends a success notification.
func (c *Client) SendSuccess(ctx context.Context, res *pipeline.Result, date string) error {
	if !c.config.Enabled {
		return nil
	}
	return c.post(ctx, successAlert(res, date, c.config.Priority))
}

// SendFailure sends a failure notification.
func (c *Client) SendFailure(ctx context.Context, res *pipeline.Result, date string, err error) error {
	if !c.config.Enabled {
		return nil
	}
	return c.post(ctx, failureAlert(res, date, err))
}

func (c *Client) post(ctx context.Context, a alert) error {
	url := strings.TrimSuffix(c.config.Server, "/") + "/" + c.config.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(a.body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", a.title)
	req.Header.Set("Priority", a.priority)
	tags := a.tag
	if c.config.Tags != "" {
		tags = c.config.Tags + "," + a.tag
	}
	req.Header.Set("Tags", tags)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.String("title", a.title), zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification rejected", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", a.title), zap.String("priority", a.priority))
	return nil
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendSuccess(_ context.Context, _ *pipeline.Result, _ string) error {
	return nil
}

func (n *NoopNotifier) SendFailure(_ context.Context, _ *pipeline.Result, _ string, _ error) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
