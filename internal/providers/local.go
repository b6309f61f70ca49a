package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// LocalDriver talks to the self-hosted speech stack over plain HTTP. It is
// the only driver with an active health probe; the probe client retries a
// couple of times inside the 5s budget because local pods restart often.
type LocalDriver struct {
	name     string
	endpoint string
	http     *http.Client
	probe    *retryablehttp.Client
}

func NewLocalDriver(name, endpoint string) *LocalDriver {
	probe := retryablehttp.NewClient()
	probe.RetryMax = 2
	probe.RetryWaitMin = 200 * time.Millisecond
	probe.RetryWaitMax = 1 * time.Second
	probe.HTTPClient.Timeout = probeTimeout
	probe.Logger = nil

	return &LocalDriver{
		name:     name,
		endpoint: endpoint,
		http:     &http.Client{},
		probe:    probe,
	}
}

func (d *LocalDriver) Name() string { return d.name }

// Probe checks the stack's health endpoint. Any non-200 or transport error
// marks the driver unavailable for one health-cache lifetime.
func (d *LocalDriver) Probe(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := d.probe.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local: health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *LocalDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	u := fmt.Sprintf("%s/v1/asr?language=%s", d.endpoint, url.QueryEscape(req.Language))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Audio))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "audio/basic")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(d.name, resp.StatusCode); err != nil {
		return Result{}, err
	}

	var body struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Result{}, transient(err)
	}
	return Result{Transcript: body.Transcript}, nil
}

func (d *LocalDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	payload, _ := json.Marshal(map[string]string{
		"text":     req.Text,
		"language": req.Language,
		"voice":    req.Voice,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/v1/tts", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(d.name, resp.StatusCode); err != nil {
		return Result{}, err
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, transient(err)
	}
	return Result{Audio: audio}, nil
}
