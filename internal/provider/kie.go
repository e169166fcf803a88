package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// KIE talks to api.kie.ai's job API (createTask / recordInfo). Jobs are
// always asynchronous: submit returns a taskId, terminal results arrive as
// a JSON string inside the status envelope.
type KIE struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewKIE(baseURL, apiKey, model string, log *slog.Logger) *KIE {
	return &KIE{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (k *KIE) Name() string { return "kie" }

type kieEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

func (k *KIE) Submit(ctx context.Context, p Payload) (*Outcome, error) {
	input := map[string]any{
		"prompt":        p.Prompt,
		"output_format": "png",
	}
	if p.AspectRatio != "" {
		input["aspect_ratio"] = p.AspectRatio
	}
	if p.Resolution != "" {
		input["resolution"] = p.Resolution
	}
	if p.ImageURL != "" {
		input["image_input"] = []string{p.ImageURL}
	}

	payload := map[string]any{
		"model": k.model,
		"input": input,
	}

	env, err := k.call(ctx, "submit", http.MethodPost, k.baseURL+"/api/v1/jobs/createTask", payload)
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return &Outcome{Status: StatusRejected, Detail: fmt.Sprintf("code=%d msg=%s", env.Code, env.Msg)}, nil
	}
	if env.Data.TaskID == "" {
		return nil, transportErr(k.Name(), "submit", 0, fmt.Errorf("empty taskId in response"))
	}

	k.log.Info("kie task created", "task_id", env.Data.TaskID, "model", k.model)
	return &Outcome{Status: StatusProcessing, JobID: env.Data.TaskID, ETASeconds: 2}, nil
}

func (k *KIE) PollOnce(ctx context.Context, prev *Outcome) (*Outcome, error) {
	if prev == nil || prev.JobID == "" {
		return nil, transportErr(k.Name(), "poll", 0, fmt.Errorf("no taskId handle"))
	}

	params := url.Values{}
	params.Set("taskId", prev.JobID)
	env, err := k.call(ctx, "poll", http.MethodGet, k.baseURL+"/api/v1/jobs/recordInfo?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return &Outcome{Status: StatusRejected, JobID: prev.JobID, Detail: fmt.Sprintf("code=%d msg=%s", env.Code, env.Msg)}, nil
	}

	switch env.Data.State {
	case "success":
		if env.Data.ResultJSON == "" {
			return &Outcome{Status: StatusCompleted, JobID: prev.JobID}, nil
		}
		var result map[string]any
		if err := json.Unmarshal([]byte(env.Data.ResultJSON), &result); err != nil {
			return nil, transportErr(k.Name(), "poll", 0, fmt.Errorf("parse resultJson: %w", err))
		}
		return &Outcome{
			Status:    StatusCompleted,
			JobID:     prev.JobID,
			ResultURL: ExtractResultLink(result),
		}, nil

	case "fail":
		detail := env.Data.FailMsg
		if detail == "" {
			detail = "generation failed"
		}
		if env.Data.FailCode != "" {
			detail = fmt.Sprintf("%s (code %s)", detail, env.Data.FailCode)
		}
		return &Outcome{Status: StatusRejected, JobID: prev.JobID, Detail: detail}, nil

	case "waiting", "queued", "queueing", "queuing", "generating", "processing":
		return &Outcome{Status: StatusProcessing, JobID: prev.JobID, ETASeconds: 2}, nil

	default:
		return nil, transportErr(k.Name(), "poll", 0, fmt.Errorf("unknown task state %q", env.Data.State))
	}
}

func (k *KIE) call(ctx context.Context, op, method, fullURL string, payload map[string]any) (*kieEnvelope, error) {
	var body io.Reader
	if payload != nil {
		bs, err := json.Marshal(payload)
		if err != nil {
			return nil, transportErr(k.Name(), op, 0, fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, transportErr(k.Name(), op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+k.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, transportErr(k.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(k.Name(), op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= 300 {
		k.log.Error("kie request failed", "op", op, "status", resp.StatusCode, "body", truncateBody(raw))
		return nil, transportErr(k.Name(), op, resp.StatusCode, fmt.Errorf("body: %s", truncateBody(raw)))
	}

	var env kieEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, transportErr(k.Name(), op, resp.StatusCode, fmt.Errorf("decode body: %w (body=%s)", err, truncateBody(raw)))
	}
	return &env, nil
}
