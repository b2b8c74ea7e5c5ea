package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.Embedder.Type).Equal("hashing")
	gt.Value(t, cfg.Embedder.Dimension).Equal(384)
	gt.Value(t, cfg.VectorStore.Type).Equal("sqlite")
	gt.Value(t, cfg.VectorStore.Collection).Equal("financial_complaints")
	gt.Value(t, cfg.Search.DefaultTopK).Equal(5)
	gt.Value(t, cfg.Data.SummaryFields).Equal([]string{"company", "product", "issue"})
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
embedder:
  type: remote
  remote:
    model: nomic-embed-text
vector_store:
  type: memory
  collection: test_complaints
generator:
  type: none
`)
	gt.NoError(t, os.WriteFile(path, data, 0o644)).Required()

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.Embedder.Remote.Model).Equal("nomic-embed-text")
	gt.Value(t, cfg.Embedder.Remote.API).Equal("openai")
	gt.Value(t, cfg.Embedder.Remote.BaseURL).Equal("http://localhost:11434/v1")
	gt.Value(t, cfg.Embedder.Remote.MaxRetries).Equal(5)
	gt.Value(t, cfg.VectorStore.Collection).Equal("test_complaints")
	gt.Value(t, cfg.Generator.Type).Equal("none")
	gt.Value(t, cfg.Generator.MaxPromptChars).Equal(6000)
}

func TestLoadOllamaRemoteDefaultsToNativeBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("embedder:\n  type: remote\n  remote:\n    api: ollama\n")
	gt.NoError(t, os.WriteFile(path, data, 0o644)).Required()

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Embedder.Remote.API).Equal("ollama")
	gt.Value(t, cfg.Embedder.Remote.BaseURL).Equal("http://localhost:11434")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	testCases := map[string]string{
		"unknown embedder":     "embedder:\n  type: word2vec\n",
		"unknown vector store": "vector_store:\n  type: chroma\n",
		"negative top k":       "search:\n  default_top_k: -1\n",
		"score out of range":   "search:\n  min_score: 1.5\n",
		"unknown remote api":   "embedder:\n  type: remote\n  remote:\n    api: legacy\n",
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			gt.NoError(t, os.WriteFile(path, []byte(body), 0o644)).Required()
			_, err := config.Load(path)
			gt.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := config.Default()
	cfg.Search.MinScore = 0.25

	gt.NoError(t, config.Save(path, cfg)).Required()

	loaded, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, loaded.Search.MinScore).Equal(0.25)
	gt.Value(t, loaded.Generator.Ollama.Model).Equal("llama3")
}
