package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"medscribe/log"
)

// Analyzer turns a transcript slice into annotation events. A transcript
// that yields nothing clinically interesting returns an empty slice, not
// an error.
type Analyzer interface {
	Analyze(ctx context.Context, consultationID, transcript string) ([]Event, error)
}

type analyzeRequest struct {
	ConsultationID string `json:"consultation_id"`
	Transcript     string `json:"transcript"`
}

type wireEvent struct {
	Kind    string          `json:"kind"`
	Content json.RawMessage `json:"content"`
}

type analyzeResponse struct {
	Events []wireEvent `json:"events"`
}

// HTTPAnalyzer calls an annotation service over HTTP. Individual events
// with malformed content are skipped rather than failing the whole
// batch, so one bad event never hides the rest.
type HTTPAnalyzer struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, consultationID, transcript string) ([]Event, error) {
	body, err := json.Marshal(analyzeRequest{
		ConsultationID: consultationID,
		Transcript:     transcript,
	})
	if err != nil {
		return nil, err
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("annotation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("annotation service returned %d", resp.StatusCode)
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("annotation response: %w", err)
	}

	events := make([]Event, 0, len(decoded.Events))
	for _, raw := range decoded.Events {
		ev, err := decodeEvent(consultationID, raw.Kind, raw.Content)
		if err != nil {
			log.Warnf("skipping annotation event: %v", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
