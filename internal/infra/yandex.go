package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const yandexSTTURL = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"

// YandexSTTService uses SpeechKit short-audio recognition. Only Ogg/Opus
// payloads are accepted.
type YandexSTTService struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewYandexSTTService(apiKey, endpoint string, client *http.Client) *YandexSTTService {
	if endpoint == "" {
		endpoint = yandexSTTURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &YandexSTTService{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   client,
	}
}

type yandexResponse struct {
	Result string `json:"result"`
	Error  string `json:"error_message"`
}

func (s *YandexSTTService) Recognize(ctx context.Context, audio []byte, mimeType, lang string) (string, []byte, error) {
	mt, _, _ := mime.ParseMediaType(mimeType)
	if mt != "audio/ogg" && mt != "audio/opus" {
		return "", nil, fmt.Errorf("yandex stt: unsupported audio format %q", mimeType)
	}

	q := url.Values{}
	q.Set("format", "oggopus")
	if lang != "" {
		q.Set("lang", lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Api-Key "+s.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("yandex stt request: %w", err)
	}
	defer resp.Body.Close()

	rawResp, _ := io.ReadAll(resp.Body)

	var parsed yandexResponse
	_ = json.Unmarshal(rawResp, &parsed)

	if parsed.Error != "" {
		return "", rawResp, fmt.Errorf("yandex stt: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", rawResp, fmt.Errorf("yandex stt http %d", resp.StatusCode)
	}

	return strings.TrimSpace(parsed.Result), rawResp, nil
}
