package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"videoQA/core"
)

// ContextProvider supplies the full frame-context record set of a video.
// The local store and the remote context service implement the same
// contract and are interchangeable behind it.
type ContextProvider interface {
	FrameContext(ctx context.Context, videoID string) ([]core.FrameContextRecord, error)
}

const (
	answerSystemPrompt = "You are an assistant for video understanding. You answer questions about a video using a transcript of its key frames."

	// Used in place of an empty transcript so the prompt shape stays fixed.
	emptyTranscript = "(no frame context available for this video)"
)

// AnswerOrchestrator turns a question about a video into a grounded
// answer: it fetches the frame-context records, renders them as a
// timestamped transcript and hands transcript plus question to the
// generation capability.
type AnswerOrchestrator struct {
	provider  ContextProvider
	generator Generator
	log       *slog.Logger
}

func NewAnswerOrchestrator(provider ContextProvider, generator Generator, log *slog.Logger) *AnswerOrchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &AnswerOrchestrator{provider: provider, generator: generator, log: log}
}

func (o *AnswerOrchestrator) Answer(ctx context.Context, videoID, question string) (string, error) {
	records, err := o.provider.FrameContext(ctx, videoID)
	if err != nil {
		return "", err
	}

	transcript := Transcript(records)
	prompt := fmt.Sprintf(`The following is a transcript of a video's key frames, one "[MM:SS] description" line per frame in chronological order:

%s

Question: %s

Answer the question using the transcript. Refer to timestamps where they support the answer.`, transcript, question)

	answer, err := o.generator.Generate(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	o.log.Info("answered question", "video_id", videoID, "frames", len(records))
	return answer, nil
}

// Transcript renders the record set as one "[MM:SS] caption" line per
// record, in record order.
func Transcript(records []core.FrameContextRecord) string {
	if len(records) == 0 {
		return emptyTranscript
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("[%s] %s", core.FormatTime(rec.TimestampSec), rec.Caption))
	}
	return strings.Join(lines, "\n")
}

// ---------------- Remote context service ----------------

const (
	remoteFetchAttempts = 3
	remoteFetchBackoff  = 500 * time.Millisecond
)

// RemoteContextProvider fetches frame-context records over HTTP from a
// context service exposing GET {base}/frame_context/{video_id}.
// Transient failures are retried with backoff; a 404 is passed through
// as NotFound and never retried.
type RemoteContextProvider struct {
	baseURL string
	client  *http.Client
}

func NewRemoteContextProvider(baseURL string, timeout time.Duration) *RemoteContextProvider {
	return &RemoteContextProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *RemoteContextProvider) FrameContext(ctx context.Context, videoID string) ([]core.FrameContextRecord, error) {
	url := fmt.Sprintf("%s/frame_context/%s", p.baseURL, videoID)

	var lastErr error
	for attempt := 0; attempt < remoteFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &core.UpstreamError{Op: "fetch frame context", Err: ctx.Err()}
			case <-time.After(remoteFetchBackoff * time.Duration(attempt)):
			}
		}

		records, retry, err := p.fetch(ctx, url, videoID)
		if err == nil {
			return records, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, &core.UpstreamError{Op: "fetch frame context", Err: lastErr}
}

func (p *RemoteContextProvider) fetch(ctx context.Context, url, videoID string) (records []core.FrameContextRecord, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &core.NotFoundError{Resource: "frame context for video " + videoID}
	case resp.StatusCode != http.StatusOK:
		return nil, true, fmt.Errorf("context service returned status %d", resp.StatusCode)
	}

	var payload core.FrameContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, true, fmt.Errorf("decode context response: %w", err)
	}
	return payload.Records, false, nil
}
