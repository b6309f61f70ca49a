package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// GoogleDriver uses the REST speech and text-to-speech surfaces with an API
// key, both capabilities.
type GoogleDriver struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewGoogleDriver(endpoint, apiKey string) *GoogleDriver {
	if endpoint == "" {
		endpoint = "https://speech.googleapis.com"
	}
	return &GoogleDriver{endpoint: endpoint, apiKey: apiKey, http: &http.Client{}}
}

func (d *GoogleDriver) Name() string     { return "google" }
func (d *GoogleDriver) Configured() bool { return d.apiKey != "" }

func (d *GoogleDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("google: no api key configured")}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"config": map[string]interface{}{
			"encoding":        "MULAW",
			"sampleRateHertz": 8000,
			"languageCode":    languageCode(req.Language),
		},
		"audio": map[string]string{
			"content": base64.StdEncoding.EncodeToString(req.Audio),
		},
	})
	u := fmt.Sprintf("%s/v1/speech:recognize?key=%s", d.endpoint, d.apiKey)

	body, err := d.postJSON(ctx, u, payload)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Results []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, transient(err)
	}
	if len(out.Results) == 0 || len(out.Results[0].Alternatives) == 0 {
		return Result{}, &TransientError{Err: errors.New("google: empty transcription result")}
	}
	return Result{Transcript: out.Results[0].Alternatives[0].Transcript}, nil
}

func (d *GoogleDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("google: no api key configured")}
	}

	voice := map[string]interface{}{"languageCode": languageCode(req.Language)}
	if req.Voice != "" {
		voice["name"] = req.Voice
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"input": map[string]string{"text": req.Text},
		"voice": voice,
		"audioConfig": map[string]interface{}{
			"audioEncoding":   "MULAW",
			"sampleRateHertz": 8000,
		},
	})
	u := fmt.Sprintf("https://texttospeech.googleapis.com/v1/text:synthesize?key=%s", d.apiKey)

	body, err := d.postJSON(ctx, u, payload)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, transient(err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return Result{}, transient(err)
	}
	return Result{Audio: audio}, nil
}

func (d *GoogleDriver) postJSON(ctx context.Context, u string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("google", resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, transient(err)
	}
	return body, nil
}

// languageCode widens a bare language tag into the BCP-47 codes the cloud
// speech APIs expect, defaulting to Indian locales for this deployment.
func languageCode(lang string) string {
	switch lang {
	case "hi", "":
		return "hi-IN"
	case "en":
		return "en-IN"
	case "mr":
		return "mr-IN"
	case "ta":
		return "ta-IN"
	default:
		return lang
	}
}
