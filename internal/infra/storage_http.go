package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
)

// HTTPStorage uploads to an object-storage REST API:
//
//	POST {base}/object/{bucket}/{key}          (bearer key)
//	GET  {base}/object/public/{bucket}/{key}   (public read)
type HTTPStorage struct {
	baseURL string
	bucket  string
	apiKey  string
	client  *http.Client
}

func NewHTTPStorage(baseURL, bucket, apiKey string, client *http.Client) *HTTPStorage {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		client:  client,
	}
}

func (s *HTTPStorage) Upload(ctx context.Context, data []byte, meta ports.UploadMeta, progress ports.ProgressFunc) (string, error) {
	key, err := objectKey(meta, time.Now())
	if err != nil {
		return "", err
	}

	body := newProgressReader(bytes.NewReader(data), int64(len(data)), progress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, key), body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", meta.MimeType)
	req.Header.Set("x-upsert", "false")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("storage http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, key), nil
}

func (s *HTTPStorage) Fetch(ctx context.Context, audioURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch audio: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if int64(len(data)) > maxFetchBytes {
		return nil, "", fmt.Errorf("fetch audio: %w (%d bytes)", errFetchTooLarge, maxFetchBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
