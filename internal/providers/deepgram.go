package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DeepgramDriver serves both capabilities: /v1/listen for recognition and
// /v1/speak for synthesis. Available iff an API key is configured.
type DeepgramDriver struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewDeepgramDriver(endpoint, apiKey string) *DeepgramDriver {
	if endpoint == "" {
		endpoint = "https://api.deepgram.com"
	}
	return &DeepgramDriver{endpoint: endpoint, apiKey: apiKey, http: &http.Client{}}
}

func (d *DeepgramDriver) Name() string     { return "deepgram" }
func (d *DeepgramDriver) Configured() bool { return d.apiKey != "" }

func (d *DeepgramDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("deepgram: no api key configured")}
	}

	u := fmt.Sprintf("%s/v1/listen?language=%s&model=nova-2&encoding=mulaw&sample_rate=8000",
		d.endpoint, url.QueryEscape(req.Language))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Audio))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)
	httpReq.Header.Set("Content-Type", "audio/mulaw")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("deepgram", resp.StatusCode); err != nil {
		return Result{}, err
	}

	var body struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Result{}, transient(err)
	}
	if len(body.Results.Channels) == 0 || len(body.Results.Channels[0].Alternatives) == 0 {
		return Result{}, &TransientError{Err: errors.New("deepgram: empty transcription result")}
	}
	return Result{Transcript: body.Results.Channels[0].Alternatives[0].Transcript}, nil
}

func (d *DeepgramDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("deepgram: no api key configured")}
	}

	model := req.Voice
	if model == "" {
		model = "aura-asteria-en"
	}
	payload, _ := json.Marshal(map[string]string{"text": req.Text})
	u := fmt.Sprintf("%s/v1/speak?model=%s&encoding=mulaw&sample_rate=8000", d.endpoint, url.QueryEscape(model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("deepgram", resp.StatusCode); err != nil {
		return Result{}, err
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, transient(err)
	}
	return Result{Audio: audio}, nil
}
