package ocr

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"pdf-ocr-pipeline/internal/config"
	"pdf-ocr-pipeline/internal/splitter"
	"pdf-ocr-pipeline/internal/telemetry"
)

//go:embed prompt.txt
var defaultPrompt string

var (
	// ErrSplit means the document could not be split; no chunk was attempted.
	ErrSplit = errors.New("split document")
	// ErrPagesPerPart means the requested chunk bound is out of range.
	ErrPagesPerPart = errors.New("pages per part out of range")
)

// Options fixes the model call for every chunk of every document.
type Options struct {
	ModelID         string
	Prompt          string
	MaxOutputTokens int
	Temperature     float32
	// Concurrency bounds in-flight model calls per document; 1 is sequential.
	Concurrency int
}

// OptionsFromConfig derives processor options, loading PROMPT_FILE if set.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	prompt := defaultPrompt
	if cfg.PromptFile != "" {
		raw, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return Options{}, fmt.Errorf("read prompt file: %w", err)
		}
		prompt = string(raw)
	}
	return Options{
		ModelID:         cfg.GeminiModelID,
		Prompt:          strings.TrimSpace(prompt),
		MaxOutputTokens: cfg.MaxOutputTokens,
		Temperature:     cfg.Temperature,
		Concurrency:     cfg.ChunkConcurrency,
	}, nil
}

// DefaultPrompt returns the embedded instruction text.
func DefaultPrompt() string {
	return strings.TrimSpace(defaultPrompt)
}

// ChunkedProcessor splits a document into page-bounded chunks, runs each
// through the model and keeps whatever text survives.
type ChunkedProcessor struct {
	model     Model
	split     splitter.Func
	opts      Options
	genConfig *genai.GenerateContentConfig
	log       *zap.Logger
}

func NewChunkedProcessor(model Model, split splitter.Func, opts Options, log *zap.Logger) *ChunkedProcessor {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt()
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = config.DefaultMaxOutputTokens
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChunkedProcessor{
		model:     model,
		split:     split,
		opts:      opts,
		genConfig: generationConfig(opts),
		log:       log,
	}
}

// Process runs OCR over data. It fails only when the bound is invalid, the
// split fails, or ctx ends; chunk-level faults drop the chunk and continue.
func (p *ChunkedProcessor) Process(ctx context.Context, docName string, data []byte, pagesPerPart int) (*Result, error) {
	if pagesPerPart < 1 || pagesPerPart > config.MaxPagesPerSplit {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrPagesPerPart, pagesPerPart, config.MaxPagesPerSplit)
	}
	log := p.log.With(zap.String("doc", docName))

	parts, err := p.split(data, pagesPerPart, docName)
	if err != nil {
		log.Error("ocr.split.failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSplit, err)
	}
	log.Info("ocr.split.ok", zap.Int("parts", len(parts)), zap.Int("pages_per_part", pagesPerPart))

	results := make([]ChunkResult, len(parts))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, part := range parts {
		g.Go(func() error {
			results[i] = p.recognize(ctx, log, i+1, part)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ocr interrupted: %w", err)
	}

	res := &Result{Chunks: results}
	log.Info("ocr.done",
		zap.Int("complete", res.Count(ChunkComplete)),
		zap.Int("partial", res.Count(ChunkPartial)),
		zap.Int("dropped", res.Count(ChunkDropped)),
		zap.Int("tokens", res.TotalTokens()),
	)
	return res, nil
}

func (p *ChunkedProcessor) recognize(ctx context.Context, log *zap.Logger, partNumber int, part splitter.Part) ChunkResult {
	log = log.With(zap.Int("part", partNumber), zap.String("part_name", part.Name))
	start := time.Now()

	res := p.classify(ctx, log, partNumber, part)
	telemetry.ChunkResults.WithLabelValues(res.Status.String()).Inc()
	log.Debug("ocr.chunk.done",
		zap.Stringer("status", res.Status),
		zap.Int("chars", res.CharCount),
		zap.Int("tokens", res.TokenCount),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return res
}

func (p *ChunkedProcessor) classify(ctx context.Context, log *zap.Logger, partNumber int, part splitter.Part) ChunkResult {
	resp, err := p.model.GenerateContent(ctx, p.opts.ModelID, chunkContents(p.opts.Prompt, part.Data), p.genConfig)
	if err != nil {
		log.Error("ocr.chunk.call_failed", zap.Error(err))
		return droppedChunk(partNumber, part.Name, "", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		log.Error("ocr.chunk.no_candidates")
		return droppedChunk(partNumber, part.Name, "", errors.New("response has no candidates"))
	}

	candidate := resp.Candidates[0]
	tokens := usageTokens(resp)
	reason := string(candidate.FinishReason)

	if candidate.FinishReason == genai.FinishReasonStop {
		return completeChunk(partNumber, part.Name, candidateText(candidate), tokens, reason)
	}

	log.Warn("ocr.chunk.abnormal_finish", zap.String("finish_reason", reason))
	text, err := salvageText(candidate)
	if err != nil {
		log.Error("ocr.chunk.salvage_failed", zap.String("finish_reason", reason), zap.Error(err))
		return droppedChunk(partNumber, part.Name, reason, err)
	}
	return partialChunk(partNumber, part.Name, text, tokens, reason)
}
