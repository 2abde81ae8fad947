package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultOpenRouterModel = "openai/gpt-4o-mini"

	gptAttempts = 3
)

var ErrNoAPIKey = errors.New("openrouter api key not configured")

// GPTClient rewrites a reviewed transcript into a report template via OpenRouter.
type GPTClient struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

func NewGPTClient(apiKey, model, url string, client *http.Client) *GPTClient {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	if url == "" {
		url = DefaultOpenRouterURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GPTClient{
		apiKey: apiKey,
		model:  model,
		url:    url,
		client: client,
	}
}

// sanitize drops broken UTF-8
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "")
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orRequest struct {
	Model     string      `json:"model"`
	Messages  []orMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
}

type orResponse struct {
	Choices []struct {
		Message orMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const rewritePrompt = `Você recebe a transcrição revisada de uma sessão de fonoaudiologia
e uma orientação de modelo de relatório.

Reescreva o texto seguindo a estrutura pedida.

REGRAS:
- Não invente dados clínicos que não estejam no texto.
- Não remova informações presentes no texto.
- Escreva em português do Brasil, em linguagem clínica objetiva.
- Devolva apenas o texto do relatório, sem comentários.`

func (g *GPTClient) Rewrite(ctx context.Context, guidance, text string) (string, error) {
	if g.apiKey == "" {
		return "", ErrNoAPIKey
	}

	body := orRequest{
		Model:     g.model,
		MaxTokens: 2000,
		Messages: []orMessage{
			{Role: "system", Content: rewritePrompt},
			{Role: "user", Content: fmt.Sprintf("Modelo:\n%s\n\nTexto:\n%s", sanitize(guidance), sanitize(text))},
		},
	}

	j, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var lastErr error
	for range gptAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := g.call(ctx, j)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("gpt failed after %d attempts: %w", gptAttempts, lastErr)
}

func (g *GPTClient) call(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("X-Title", "fonodesk")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rawResp, _ := io.ReadAll(resp.Body)
	rawResp = bytes.TrimSpace(rawResp)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openrouter http %d", resp.StatusCode)
	}
	if len(rawResp) == 0 {
		return "", errors.New("empty openrouter response")
	}

	var out orResponse
	if err := json.Unmarshal(rawResp, &out); err != nil {
		return "", fmt.Errorf("decode openrouter response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("openrouter: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter returned no choices")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
