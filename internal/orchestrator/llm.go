package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// Responder is the external language-model seam for free-form turns. The
// model service itself is a collaborator; this core only carries text to it
// and back.
type Responder interface {
	Reply(ctx context.Context, language string, history []domain.Turn, userText string) (string, error)
}

// HTTPResponder posts the conversation window to the external model
// endpoint and returns its reply text.
type HTTPResponder struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewHTTPResponder(endpoint, apiKey string) *HTTPResponder {
	return &HTTPResponder{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPResponder) Reply(ctx context.Context, language string, history []domain.Turn, userText string) (string, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"language": language,
		"history":  history,
		"text":     userText,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/converse", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", err
	}
	return out.Reply, nil
}
