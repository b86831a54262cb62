package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/sensor"
)

const (
	uploadRetries    = 2
	uploadRetryDelay = 3 * time.Second
	maxErrorBody     = 500
)

// uploadError distinguishes retryable cloud failures from the rest.
type uploadError struct {
	kind    string
	message string
}

func (e *uploadError) Error() string { return e.message }

// Uploader delivers CSV snapshots to the remote data hub. Transient
// gateway failures (502/503/504) are retried a bounded number of
// times with a fixed backoff before an error surfaces, so the
// orchestrator itself carries no retry logic.
type Uploader struct {
	url    string
	client *http.Client

	// retryDelay is a field so tests do not sleep for real.
	retryDelay time.Duration
}

func NewUploader(url string, timeout time.Duration) *Uploader {
	return &Uploader{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		retryDelay: uploadRetryDelay,
	}
}

// Push uploads one CSV document on behalf of a sensor. The filename
// is prefix_name_timestamp.csv with the name sanitized for the remote
// filesystem.
func (u *Uploader) Push(ctx context.Context, s *sensor.Sensor, prefix, csv string) (*Receipt, error) {
	filename := fmt.Sprintf("%s_%s_%s.csv",
		prefix,
		sensor.SanitizeFilename(s.Name),
		time.Now().UTC().Format("20060102_150405"))

	var lastErr error
	for attempt := 0; attempt < uploadRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().
				Str("sensor", s.Name).
				Int("attempt", attempt+1).
				Msg("Retrying upload after cloud error")
			select {
			case <-ctx.Done():
				return nil, &uploadError{kind: KindConnection, message: ctx.Err().Error()}
			case <-time.After(u.retryDelay):
			}
		}

		err := u.post(ctx, s.UploadToken, csv)
		if err == nil {
			return &Receipt{Filename: filename, UploadedAt: time.Now().UTC()}, nil
		}

		lastErr = err
		if ue, ok := err.(*uploadError); !ok || ue.kind != KindCloud {
			break
		}
	}

	return nil, lastErr
}

func (u *Uploader) post(ctx context.Context, token, csv string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewBufferString(csv))
	if err != nil {
		return &uploadError{kind: KindUnknown, message: err.Error()}
	}
	req.Header.Set("user-token", token)
	req.Header.Set("Content-Type", "text/csv")

	resp, err := u.client.Do(req)
	if err != nil {
		return &uploadError{kind: KindConnection, message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &uploadError{
			kind:    KindCloud,
			message: fmt.Sprintf("cloud service error (%d)", resp.StatusCode),
		}
	default:
		return &uploadError{
			kind:    KindHTTP,
			message: fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, string(body)),
		}
	}
}

// outcomeFromError folds an upload or fetch error into a structured
// Outcome.
func outcomeFromError(err error) Outcome {
	if ue, ok := err.(*uploadError); ok {
		return Failure(ue.kind, ue.message)
	}
	return Failure(KindUnknown, err.Error())
}
