package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"recording-worker/entities"
	"recording-worker/pkg/apperror"
)

// HTTPTranscriber is a TranscriptionGateway that posts completed
// recordings to a whisper-style HTTP transcription service. The service
// persists the transcript itself; we only report job outcome.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTranscriber(baseURL string) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL: baseURL,
		// No client-level timeout: every call arrives with a deadline-bound ctx.
		client: &http.Client{},
	}
}

type transcribeRequest struct {
	JobID        string `json:"jobId"`
	RecordingID  string `json:"recordingId"`
	RecordingURL string `json:"recordingUrl"`
	Provider     string `json:"provider"`
}

func (t *HTTPTranscriber) Initialize(ctx context.Context) error {
	return t.Health(ctx)
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, job *entities.TranscriptionJob) error {
	payload, err := json.Marshal(transcribeRequest{
		JobID:        job.ID.String(),
		RecordingID:  job.RecordingID.String(),
		RecordingURL: job.RecordingURL,
		Provider:     job.Provider,
	})
	if err != nil {
		return apperror.Provider("transcription", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/transcriptions", bytes.NewReader(payload))
	if err != nil {
		return apperror.Provider("transcription", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return apperror.Provider("transcription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperror.Provider("transcription", fmt.Errorf("transcriber returned %d: %s", resp.StatusCode, body))
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("recording_id", job.RecordingID.String()).
		Msg("transcript accepted by provider")
	return nil
}

func (t *HTTPTranscriber) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return apperror.Provider("transcription", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return apperror.Provider("transcription", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperror.Provider("transcription", fmt.Errorf("transcriber health returned %d", resp.StatusCode))
	}
	return nil
}

func (t *HTTPTranscriber) Cleanup(ctx context.Context) error {
	t.client.CloseIdleConnections()
	return nil
}
