package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/logger"
)

const sendTimeout = 10 * time.Second

// Client posts detection alerts to an ntfy server. Formatting depends on
// the detected class: person alerts get a fixed title and richer tags,
// everything else gets a generic object alert.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: sendTimeout},
		now:     time.Now,
	}
}

// Resolve returns the publish URL for a topic. Full URLs pass through as
// the destination; bare topic names are joined onto the configured base.
func (c *Client) Resolve(topic string) string {
	if strings.HasPrefix(topic, "http://") || strings.HasPrefix(topic, "https://") {
		return topic
	}
	return c.baseURL + "/" + strings.TrimLeft(topic, "/")
}

// SendDetection delivers one alert for a detected object.
func (c *Client) SendDetection(ctx context.Context, topic, class string, confidence float64, priority string) error {
	var title, message, tags string
	if strings.EqualFold(class, "person") {
		title = "Person Detected!"
		message = fmt.Sprintf("A person was detected with %.2f%% confidence", confidence*100)
		tags = "warning,eyes,bell"
	} else {
		title = fmt.Sprintf("Object Detected: %s", class)
		message = fmt.Sprintf("Detected %s with %.2f%% confidence", class, confidence*100)
		tags = "warning"
	}
	if priority == "" {
		priority = "default"
	}
	message = fmt.Sprintf("[%s] %s", c.now().Format("15:04:05"), message)

	dest := c.Resolve(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	logger.Debug("Notify", "Notification delivered to %s", dest)
	return nil
}
