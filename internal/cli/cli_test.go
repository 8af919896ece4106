package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"pdf-ocr-pipeline/internal/models"
	"pdf-ocr-pipeline/internal/ocr"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/splitter"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "ocrctl", cmd.Use)
	assert.Equal(t, version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"], "Should have 'run' command")
	assert.True(t, names["enqueue"], "Should have 'enqueue' command")
	assert.True(t, names["status"], "Should have 'status' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := defaultApp().runCommand()
	assert.NotNil(t, cmd.Flags().Lookup("output"))
	assert.NotNil(t, cmd.Flags().Lookup("pages"))
	assert.NotNil(t, cmd.RunE)
}

// echoModel answers every chunk with its own payload.
type echoModel struct{}

func (echoModel) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	text := string(contents[0].Parts[0].InlineData.Data)
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 3},
	}, nil
}

func testApp(t *testing.T) (*app, *int) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL_ID", "gemini-test")
	t.Setenv("PAGES_PER_SPLIT", "2")
	t.Setenv("PROMPT_FILE", "")

	var gotPages int
	a := defaultApp()
	a.newModel = func(context.Context, string) (ocr.Model, error) { return echoModel{}, nil }
	a.newLogger = func(string) (*zap.Logger, error) { return zap.NewNop(), nil }
	a.split = func(_ []byte, per int, prefix string) ([]splitter.Part, error) {
		gotPages = per
		return []splitter.Part{
			{Name: prefix + "_1", Data: []byte("first"), FromPage: 1, ThruPage: per},
			{Name: prefix + "_2", Data: []byte("second"), FromPage: per + 1, ThruPage: per + 1},
		}, nil
	}
	return a, &gotPages
}

func TestRunWritesTextToStdout(t *testing.T) {
	a, gotPages := testApp(t)
	input := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.4"), 0o644))

	root := a.rootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"run", input})

	require.NoError(t, root.Execute())
	assert.Equal(t, "first\nsecond\n", stdout.String())
	assert.Contains(t, stderr.String(), "chunks=2 complete=2 partial=0 dropped=0 tokens=6")
	assert.Equal(t, 2, *gotPages)
}

func TestRunWritesOutputFileWithPagesOverride(t *testing.T) {
	a, gotPages := testApp(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "scan.pdf")
	output := filepath.Join(dir, "scan.txt")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.4"), 0o644))

	root := a.rootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", input, "-o", output, "--pages", "9"})

	require.NoError(t, root.Execute())
	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", string(got))
	assert.Equal(t, 9, *gotPages)
}

func TestRunRejectsBadConfig(t *testing.T) {
	a, _ := testApp(t)
	t.Setenv("GEMINI_MODEL_ID", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	root := a.rootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "whatever.pdf", "--pages", "20"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_MODEL_ID")
	assert.Contains(t, err.Error(), "PAGES_PER_SPLIT")
}

func TestEnqueueSendsJobIDs(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("QUEUE_NAME", "cli-test")

	root := BuildCLI()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"enqueue", "job-1", "job-2"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "enqueued job-1\nenqueued job-2\n", stdout.String())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewRedisQueueWithClient(client, "cli-test")
	t.Cleanup(func() { _ = q.Close() })
	for _, want := range []string{"job-1", "job-2"} {
		msg, err := q.Receive(context.Background(), time.Minute)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, want, msg.Body)
	}
}

func TestPrintCountsIsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCounts(&buf, map[models.JobStatus]int64{
		models.StatusQueued:    4,
		models.StatusCompleted: 10,
		models.StatusFailed:    1,
	}))
	assert.Equal(t, "COMPLETED  10\nFAILED     1\nQUEUED     4\n", buf.String())
}
