package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/avast/retry-go"
)

// Uploader defines the interface for the remote image store
type Uploader interface {
	// Upload stores an image and returns its URL
	Upload(ctx context.Context, filename string, data []byte, bearerToken string) (string, error)
}

// HTTPUploader uploads receipt images to an object-storage endpoint with a
// bearer credential.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPUploader creates a new HTTPUploader instance
func NewHTTPUploader(endpoint string) *HTTPUploader {
	return &HTTPUploader{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// Upload posts the image as a multipart form. Transient server errors are
// retried before the failure propagates.
func (u *HTTPUploader) Upload(ctx context.Context, filename string, data []byte, bearerToken string) (string, error) {
	var url string

	err := retry.Do(
		func() error {
			var err error
			url, err = u.upload(ctx, filename, data, bearerToken)
			return err
		},
		retry.RetryIf(func(err error) bool {
			var te *transientError
			return errors.As(err, &te)
		}),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	return url, nil
}

// transientError marks a retryable upload failure
type transientError struct {
	status int
}

func (e *transientError) Error() string {
	return fmt.Sprintf("upload failed with status %d", e.status)
}

func (u *HTTPUploader) upload(ctx context.Context, filename string, data []byte, bearerToken string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling upload API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &transientError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("upload rejected: %s", result.Error)
	}
	return result.URL, nil
}
