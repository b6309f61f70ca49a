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

// ElevenLabsDriver is synthesis-only; a recognition request against it is a
// configuration mistake and aborts the route rather than failing over.
type ElevenLabsDriver struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewElevenLabsDriver(endpoint, apiKey string) *ElevenLabsDriver {
	if endpoint == "" {
		endpoint = "https://api.elevenlabs.io"
	}
	return &ElevenLabsDriver{endpoint: endpoint, apiKey: apiKey, http: &http.Client{}}
}

func (d *ElevenLabsDriver) Name() string     { return "elevenlabs" }
func (d *ElevenLabsDriver) Configured() bool { return d.apiKey != "" }

func (d *ElevenLabsDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	return Result{}, &FatalError{Err: errors.New("elevenlabs: recognition not supported")}
}

func (d *ElevenLabsDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("elevenlabs: no api key configured")}
	}

	voice := req.Voice
	if voice == "" {
		voice = "21m00Tcm4TlvDq8ikWAM"
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"text":     req.Text,
		"model_id": "eleven_multilingual_v2",
	})
	u := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=ulaw_8000", d.endpoint, url.PathEscape(voice))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("xi-api-key", d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("elevenlabs", resp.StatusCode); err != nil {
		return Result{}, err
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, transient(err)
	}
	return Result{Audio: audio}, nil
}
