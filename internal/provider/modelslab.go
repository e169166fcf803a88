package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ModelsLab drives the modelslab.com v7 endpoints. The same envelope serves
// several of their models (sora-2, hailuo, nano-banana image edit): a
// status field of "success", "processing" or "error", an eta hint and a
// fetch_result URL that is polled with a POST carrying the API key.
type ModelsLab struct {
	name       string
	endpoint   string
	apiKey     string
	modelID    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewModelsLab(name, endpoint, apiKey, modelID string, log *slog.Logger) *ModelsLab {
	return &ModelsLab{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (m *ModelsLab) Name() string { return m.name }

func (m *ModelsLab) Submit(ctx context.Context, p Payload) (*Outcome, error) {
	body := map[string]any{
		"key":      m.apiKey,
		"model_id": m.modelID,
		"prompt":   p.Prompt,
	}
	if p.ImageURL != "" {
		body["init_image"] = []string{p.ImageURL}
	}
	if p.AspectRatio != "" {
		body["aspect_ratio"] = p.AspectRatio
	}
	if p.Duration > 0 {
		// The v7 endpoints want duration as a string.
		body["duration"] = strconv.Itoa(p.Duration)
	}
	if p.Size != "" {
		body["size"] = p.Size
	}

	doc, err := m.postJSON(ctx, "submit", m.endpoint, body)
	if err != nil {
		return nil, err
	}
	return m.classify(doc)
}

func (m *ModelsLab) PollOnce(ctx context.Context, prev *Outcome) (*Outcome, error) {
	if prev == nil || prev.PollURL == "" {
		return nil, transportErr(m.name, "poll", 0, fmt.Errorf("no fetch_result handle"))
	}
	doc, err := m.postJSON(ctx, "poll", prev.PollURL, map[string]any{"key": m.apiKey})
	if err != nil {
		return nil, err
	}
	out, err := m.classify(doc)
	if err != nil {
		return nil, err
	}
	// Poll responses may omit the handle; carry it forward.
	if out.Status == StatusProcessing && out.PollURL == "" {
		out.PollURL = prev.PollURL
		out.JobID = prev.JobID
	}
	return out, nil
}

func (m *ModelsLab) classify(doc map[string]any) (*Outcome, error) {
	status, _ := doc["status"].(string)
	switch status {
	case "error":
		detail, _ := doc["message"].(string)
		if detail == "" {
			if msg, ok := doc["messege"].(string); ok { // yes, the API misspells it
				detail = msg
			}
		}
		if detail == "" {
			detail = "provider reported an error"
		}
		return &Outcome{Status: StatusRejected, Detail: detail}, nil

	case "success", "completed":
		return &Outcome{
			Status:    StatusCompleted,
			JobID:     stringField(doc, "id"),
			ResultURL: ExtractResultLink(doc),
		}, nil

	case "processing":
		fetchURL, _ := doc["fetch_result"].(string)
		if fetchURL == "" {
			return nil, transportErr(m.name, "classify", 0, fmt.Errorf("processing response without fetch_result"))
		}
		return &Outcome{
			Status:     StatusProcessing,
			JobID:      stringField(doc, "id"),
			PollURL:    fetchURL,
			ETASeconds: intField(doc, "eta"),
		}, nil

	default:
		return nil, transportErr(m.name, "classify", 0, fmt.Errorf("unexpected status %q", status))
	}
}

func (m *ModelsLab) postJSON(ctx context.Context, op, url string, payload map[string]any) (map[string]any, error) {
	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, transportErr(m.name, op, 0, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, transportErr(m.name, op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, transportErr(m.name, op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(m.name, op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 300 {
		m.log.Error("modelslab request failed", "op", op, "status", resp.StatusCode, "body", truncateBody(body))
		return nil, transportErr(m.name, op, resp.StatusCode, fmt.Errorf("body: %s", truncateBody(body)))
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, transportErr(m.name, op, resp.StatusCode, fmt.Errorf("decode body: %w (body=%s)", err, truncateBody(body)))
	}
	return doc, nil
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func intField(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}
