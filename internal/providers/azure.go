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

// AzureDriver talks to a Cognitive Services Speech resource; the endpoint
// is region-specific so it carries no default.
type AzureDriver struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewAzureDriver(endpoint, apiKey string) *AzureDriver {
	return &AzureDriver{endpoint: endpoint, apiKey: apiKey, http: &http.Client{}}
}

func (d *AzureDriver) Name() string     { return "azure" }
func (d *AzureDriver) Configured() bool { return d.apiKey != "" && d.endpoint != "" }

func (d *AzureDriver) Recognize(ctx context.Context, req RecognizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("azure: endpoint or key not configured")}
	}

	u := fmt.Sprintf("%s/speech/recognition/conversation/cognitiveservices/v1?language=%s",
		d.endpoint, url.QueryEscape(languageCode(req.Language)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Audio))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", d.apiKey)
	httpReq.Header.Set("Content-Type", "audio/mulaw; codecs=audio/pcm; samplerate=8000")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("azure", resp.StatusCode); err != nil {
		return Result{}, err
	}

	var body struct {
		RecognitionStatus string `json:"RecognitionStatus"`
		DisplayText       string `json:"DisplayText"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Result{}, transient(err)
	}
	if body.RecognitionStatus != "Success" {
		return Result{}, &TransientError{Err: fmt.Errorf("azure: recognition status %s", body.RecognitionStatus)}
	}
	return Result{Transcript: body.DisplayText}, nil
}

func (d *AzureDriver) Synthesize(ctx context.Context, req SynthesizeRequest) (Result, error) {
	if !d.Configured() {
		return Result{}, &TransientError{Err: errors.New("azure: endpoint or key not configured")}
	}

	voice := req.Voice
	if voice == "" {
		voice = "hi-IN-SwaraNeural"
	}
	ssml := fmt.Sprintf(`<speak version='1.0' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		languageCode(req.Language), voice, xmlEscape(req.Text))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.endpoint+"/cognitiveservices/v1", bytes.NewReader([]byte(ssml)))
	if err != nil {
		return Result{}, &FatalError{Err: err}
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", d.apiKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", "raw-8khz-8bit-mono-mulaw")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return Result{}, transient(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("azure", resp.StatusCode); err != nil {
		return Result{}, err
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, transient(err)
	}
	return Result{Audio: audio}, nil
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '\'':
			b.WriteString("&apos;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
