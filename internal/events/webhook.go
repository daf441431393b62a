package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WebhookNotifier mirrors events to a Discord-compatible webhook so a phone
// or chat channel can act as the notification sink without any NATS
// consumer in place.
type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
}

type webhookMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   time.Time      `json:"timestamp"`
	Fields      []webhookField `json:"fields,omitempty"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) send(msg webhookMessage) error {
	if n.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequest("POST", n.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status: %d", resp.StatusCode)
	}

	return nil
}

func (n *WebhookNotifier) PublishDisambiguation(req DisambiguationRequest) error {
	fields := []webhookField{
		{Name: "travel", Value: strconv.FormatInt(req.TravelID, 10), Inline: true},
	}
	for _, id := range req.CandidateLineIDs {
		fields = append(fields, webhookField{Name: "candidate line", Value: strconv.FormatInt(id, 10), Inline: true})
	}
	desc := "Which line are you on?"
	if len(req.CandidateLineIDs) == 0 {
		desc = "No line is known for this stop yet, please pick one."
	}
	return n.send(webhookMessage{Embeds: []webhookEmbed{{
		Title:       "Line needed",
		Description: desc,
		Color:       0xFFA500,
		Timestamp:   req.EmittedAt,
		Fields:      fields,
	}}})
}

func (n *WebhookNotifier) PublishTravelCompleted(ev TravelCompleted) error {
	return n.send(webhookMessage{Embeds: []webhookEmbed{{
		Title: "Travel completed",
		Description: fmt.Sprintf("%d s, %.0f m travelled",
			ev.DurationSeconds, ev.DistanceMeters),
		Color:     0x2ECC71,
		Timestamp: ev.EmittedAt,
		Fields: []webhookField{
			{Name: "travel", Value: strconv.FormatInt(ev.TravelID, 10), Inline: true},
		},
	}}})
}

func (n *WebhookNotifier) PublishSyncUnauthorized(ev SyncUnauthorized) error {
	return n.send(webhookMessage{Embeds: []webhookEmbed{{
		Title:       "Sign-in required",
		Description: "The remote store rejected our credentials; sync is paused until re-login.",
		Color:       0xFF0000,
		Timestamp:   ev.EmittedAt,
	}}})
}
