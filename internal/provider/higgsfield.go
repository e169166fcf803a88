package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Higgsfield drives the DoP image-to-video API. Submitting creates a job
// set; status is read from GET /v1/job-sets/{id}, where it may live at the
// envelope root or on the first job of the set.
type Higgsfield struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewHiggsfield(baseURL, apiKey, apiSecret, model string, log *slog.Logger) *Higgsfield {
	if model == "" {
		model = "dop-lite"
	}
	return &Higgsfield{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        log,
	}
}

func (h *Higgsfield) Name() string { return "higgsfield" }

func (h *Higgsfield) Submit(ctx context.Context, p Payload) (*Outcome, error) {
	payload := map[string]any{
		"image_url":      p.ImageURL,
		"prompt":         p.Prompt,
		"model":          h.model,
		"enhance_prompt": true,
	}

	doc, err := h.do(ctx, "submit", http.MethodPost, h.baseURL+"/v1/image2video", payload)
	if err != nil {
		return nil, err
	}

	if detail := stringField(doc, "error"); detail != "" {
		return &Outcome{Status: StatusRejected, Detail: detail}, nil
	}

	jobSetID := stringField(doc, "job_set_id")
	if jobSetID == "" {
		jobSetID = stringField(doc, "id")
	}
	if jobSetID == "" {
		return nil, transportErr(h.Name(), "submit", 0, fmt.Errorf("no job_set_id in response"))
	}

	h.log.Info("higgsfield job set created", "job_set_id", jobSetID)
	return &Outcome{Status: StatusProcessing, JobID: jobSetID, ETASeconds: 4}, nil
}

func (h *Higgsfield) PollOnce(ctx context.Context, prev *Outcome) (*Outcome, error) {
	if prev == nil || prev.JobID == "" {
		return nil, transportErr(h.Name(), "poll", 0, fmt.Errorf("no job_set_id handle"))
	}

	doc, err := h.do(ctx, "poll", http.MethodGet, h.baseURL+"/v1/job-sets/"+prev.JobID, nil)
	if err != nil {
		return nil, err
	}

	status := h.jobSetStatus(doc)
	switch status {
	case "completed", "succeeded", "success", "finished", "done":
		return &Outcome{
			Status:    StatusCompleted,
			JobID:     prev.JobID,
			ResultURL: ExtractResultLink(doc),
		}, nil

	case "failed", "error", "nsfw", "rejected", "canceled", "cancelled":
		detail := stringField(doc, "message")
		if detail == "" {
			detail = stringField(doc, "error")
		}
		if detail == "" {
			detail = "the job failed or was flagged as NSFW"
		}
		return &Outcome{Status: StatusRejected, JobID: prev.JobID, Detail: detail}, nil

	default:
		return &Outcome{Status: StatusProcessing, JobID: prev.JobID, ETASeconds: 4}, nil
	}
}

// jobSetStatus digs the status out of the envelope root or the first job.
func (h *Higgsfield) jobSetStatus(doc map[string]any) string {
	status := stringField(doc, "status")
	if status == "" {
		status = stringField(doc, "job_set_status")
	}
	if status == "" {
		for _, key := range []string{"jobs", "data"} {
			if arr, ok := doc[key].([]any); ok && len(arr) > 0 {
				if job, ok := arr[0].(map[string]any); ok {
					status = stringField(job, "status")
				}
				break
			}
		}
	}
	return strings.ToLower(strings.TrimSpace(status))
}

func (h *Higgsfield) do(ctx context.Context, op, method, fullURL string, payload map[string]any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		bs, err := json.Marshal(payload)
		if err != nil {
			return nil, transportErr(h.Name(), op, 0, fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, transportErr(h.Name(), op, 0, err)
	}
	req.Header.Set("hf-api-key", h.apiKey)
	req.Header.Set("hf-secret", h.apiSecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, transportErr(h.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(h.Name(), op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 300 {
		h.log.Error("higgsfield request failed", "op", op, "status", resp.StatusCode, "body", truncateBody(raw))
		return nil, transportErr(h.Name(), op, resp.StatusCode, fmt.Errorf("body: %s", truncateBody(raw)))
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, transportErr(h.Name(), op, resp.StatusCode, fmt.Errorf("decode body: %w (body=%s)", err, truncateBody(raw)))
	}
	return doc, nil
}
