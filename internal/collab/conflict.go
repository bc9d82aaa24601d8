package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/siteforge/collab/internal/genai"
)

// mergeInstruction は外部テキスト生成に渡す固定の指示文。
const mergeInstruction = "Resolve this design conflict between concurrent edits. " +
	"Return only the merged resolution as a single JSON object, with no explanation and no markdown."

// Resolver は外部テキスト生成を使って競合する編集のマージを試みる。
// 生成結果が得られない、またはJSONとして解釈できない場合は、
// 提出された解決案をそのまま採用するフォールバックに退行する。
type Resolver struct {
	generator genai.Generator
	logger    *slog.Logger
}

// NewResolver は新しいResolverを生成する。
func NewResolver(generator genai.Generator, logger *slog.Logger) *Resolver {
	return &Resolver{generator: generator, logger: logger}
}

// Resolve は提出された解決案のマージを試みる。
// 戻り値の第2要素は、フォールバックで提出値をそのまま返したかを示す。
func (r *Resolver) Resolve(ctx context.Context, submitted json.RawMessage) (json.RawMessage, bool) {
	prompt := mergeInstruction + "\n\nConflict:\n" + string(submitted)

	text, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("conflict merge generation failed, applying submitted resolution",
			slog.String("error", err.Error()),
		)
		return submitted, true
	}

	merged := stripCodeFence(text)
	if !json.Valid([]byte(merged)) {
		r.logger.Warn("conflict merge returned invalid JSON, applying submitted resolution")
		return submitted, true
	}
	return json.RawMessage(merged), false
}

// stripCodeFence は生成テキストを囲むMarkdownコードフェンスを除去する。
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
