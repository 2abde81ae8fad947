package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// WhisperSTT talks to an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperSTT struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewWhisperSTT(baseURL, apiKey, model string, client *http.Client) *WhisperSTT {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperSTT{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

type whisperResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *WhisperSTT) Recognize(ctx context.Context, audio []byte, mimeType, lang string) (string, []byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model", s.model); err != nil {
		return "", nil, err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", nil, err
	}
	if code := isoLanguage(lang); code != "" {
		if err := mw.WriteField("language", code); err != nil {
			return "", nil, err
		}
	}

	fw, err := mw.CreateFormFile("file", "audio"+extFor(mimeType))
	if err != nil {
		return "", nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", nil, err
	}
	if err := mw.Close(); err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", raw, fmt.Errorf("whisper http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out whisperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", raw, fmt.Errorf("decode whisper response: %w", err)
	}
	if out.Error != nil {
		return "", raw, fmt.Errorf("whisper: %s", out.Error.Message)
	}
	return strings.TrimSpace(out.Text), raw, nil
}

// isoLanguage reduces a BCP 47 tag to the ISO 639-1 code whisper expects.
func isoLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
