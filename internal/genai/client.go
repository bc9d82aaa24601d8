// Package genai は外部テキスト生成サービスのクライアントを提供する。
// コンフリクト解決のマージ生成にのみ使用される。
// ストリーミングや構造化出力の保証はなく、呼び出し側が防御的にパースする。
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Generator はテキスト生成能力のインターフェース。
// プロンプトを受け取り生成テキストを返す。
type Generator interface {
	// Generate はプロンプトに対する生成テキストを返す。
	Generate(ctx context.Context, prompt string) (string, error)
}

// maxResponseSize は生成レスポンスの最大サイズ（1MB）。
const maxResponseSize = 1 << 20

// generateRequest は生成APIへのリクエストボディ。
type generateRequest struct {
	Prompt string `json:"prompt"`
}

// generateResponse は生成APIのレスポンスボディ。
type generateResponse struct {
	Text string `json:"text"`
}

// HTTPGenerator はHTTP経由でテキスト生成APIを呼び出すGenerator実装。
// エンドポイントは運用者が設定し、SSRF防止機能付きクライアントの注入を想定する。
type HTTPGenerator struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
}

// NewHTTPGenerator はHTTPGeneratorの新しいインスタンスを生成する。
func NewHTTPGenerator(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// Generate はプロンプトを生成APIにPOSTし、生成テキストを返す。
// 失敗時はエラーを返す（呼び出し側がフォールバックを判断する）。
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.endpoint == "" {
		return "", fmt.Errorf("generation endpoint is not configured")
	}

	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("generation API call failed",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to call generation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Error("generation API returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("generation API returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read generation response: %w", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w", err)
	}
	if decoded.Text == "" {
		return "", fmt.Errorf("generation response contains no text")
	}

	return decoded.Text, nil
}

// compile-time interface check
var _ Generator = (*HTTPGenerator)(nil)
