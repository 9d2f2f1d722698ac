package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/export"
)

type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

const (
	colorRed   = 16711680
	colorGreen = 65280
)

// Discord posts webhook embeds. An empty URL disables that kind of message.
type Discord struct {
	errorURL   string
	successURL string
	client     *http.Client
	log        logrus.FieldLogger
}

var _ export.Monitor = (*Discord)(nil)

func NewDiscord(errorURL, successURL string, log logrus.FieldLogger) *Discord {
	return &Discord{
		errorURL:   errorURL,
		successURL: successURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (d *Discord) SendError(ctx context.Context, errorMessage string) error {
	return d.send(ctx, d.errorURL, DiscordEmbed{
		Title:       "🚨 Error Notification",
		Description: fmt.Sprintf("An error occurred: %s", errorMessage),
		Color:       colorRed,
	})
}

func (d *Discord) SendSuccess(ctx context.Context, successMessage string) error {
	return d.send(ctx, d.successURL, DiscordEmbed{
		Title:       "✅ Success Notification",
		Description: successMessage,
		Color:       colorGreen,
	})
}

// JobFinished reports failed exports on the error webhook and finished ones
// on the success webhook.
func (d *Discord) JobFinished(r export.JobResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	if r.Status == export.JobFailed {
		err = d.SendError(ctx, fmt.Sprintf("NDVI export %s failed: %v", r.Name, r.Err))
	} else {
		err = d.SendSuccess(ctx, fmt.Sprintf("NDVI export %s finished\n\n%s\n%d scenes, %d valid pixels", r.Name, r.URI, r.SceneCount, r.ValidPixels))
	}
	if err != nil {
		d.log.WithError(err).Warn("Failed to send Discord notification")
	}
}

func (d *Discord) send(ctx context.Context, url string, embed DiscordEmbed) error {
	if url == "" {
		return nil
	}
	payload, err := json.Marshal(DiscordMessage{Embeds: []DiscordEmbed{embed}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send Discord notification, status code: %d", resp.StatusCode)
	}
	return nil
}
