package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBatchURL     = "https://api.assemblyai.com/v2"
	DefaultPollInterval = 3 * time.Second
)

// BatchClient submits a full recording for transcription with speaker
// diarization and waits for the result.
type BatchClient struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
	logger       *log.Logger
}

func NewBatchClient(apiKey string, logger *log.Logger) *BatchClient {
	return &BatchClient{
		APIKey:       apiKey,
		BaseURL:      DefaultBatchURL,
		HTTPClient:   &http.Client{},
		PollInterval: DefaultPollInterval,
		logger:       logger,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
}

type transcriptResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Utterances []struct {
		Text    string `json:"text"`
		Speaker string `json:"speaker"`
	} `json:"utterances"`
}

// Transcribe uploads audio, creates a diarization job, and polls until it
// settles. expectedSpeakers is a hint for the provider; zero omits it.
func (c *BatchClient) Transcribe(
	ctx context.Context,
	audio io.Reader,
	expectedSpeakers int,
) ([]BatchUtterance, error) {
	audioURL, err := c.upload(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	jobID, err := c.createJob(ctx, audioURL, expectedSpeakers)
	if err != nil {
		return nil, fmt.Errorf("create transcription job: %w", err)
	}

	result, err := c.waitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	utterances := make([]BatchUtterance, 0, len(result.Utterances))
	for _, u := range result.Utterances {
		utterances = append(utterances, BatchUtterance{
			Text:    u.Text,
			Speaker: u.Speaker,
		})
	}
	return utterances, nil
}

func (c *BatchClient) upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx, "POST", c.BaseURL+"/upload", audio,
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf(
			"unexpected status code: %d, response body: %s",
			resp.StatusCode, string(body),
		)
	}

	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return "", err
	}
	return upload.UploadURL, nil
}

func (c *BatchClient) createJob(
	ctx context.Context,
	audioURL string,
	expectedSpeakers int,
) (string, error) {
	payload, err := json.Marshal(transcriptRequest{
		AudioURL:         audioURL,
		SpeakerLabels:    true,
		SpeakersExpected: expectedSpeakers,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx, "POST", c.BaseURL+"/transcript", bytes.NewReader(payload),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf(
			"unexpected status code: %d, response body: %s",
			resp.StatusCode, string(body),
		)
	}

	var job transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (c *BatchClient) waitForJob(
	ctx context.Context,
	jobID string,
) (*transcriptResponse, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := c.getJob(ctx, jobID)
			if err != nil {
				return nil, err
			}

			c.logger.Info("diarization job", "id", jobID, "status", job.Status)
			switch job.Status {
			case "completed":
				return job, nil
			case "error":
				return nil, fmt.Errorf("job failed: %s", job.Error)
			}
		}
	}
}

func (c *BatchClient) getJob(
	ctx context.Context,
	jobID string,
) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx, "GET", c.BaseURL+"/transcript/"+jobID, nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var job transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}
