// Package main is the studyowl CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/chat"
	"github.com/studyowl/studyowl/internal/chunker"
	"github.com/studyowl/studyowl/internal/cli"
	"github.com/studyowl/studyowl/internal/config"
	"github.com/studyowl/studyowl/internal/embedding"
	"github.com/studyowl/studyowl/internal/fileid"
	"github.com/studyowl/studyowl/internal/generate"
	"github.com/studyowl/studyowl/internal/ingest"
	"github.com/studyowl/studyowl/internal/keyword"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/retrieval"
	"github.com/studyowl/studyowl/internal/server"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
	"github.com/studyowl/studyowl/internal/watcher"
	"github.com/studyowl/studyowl/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/studyowl/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "studyowl server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// API keys live in the environment; a .env in the working directory is
	// picked up for development. Absence is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("studyowl version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watched directories, chunking, retrieval scores)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		ing := components.Ingestor
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.NewWatcher(
			cfg.Watch.Directories,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, err := ing.IngestFile(context.Background(), path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				abs, _ := filepath.Abs(path)
				if err := ing.DeleteDocument(context.Background(), fileid.FileDocID(abs)); err != nil {
					logger.Warn("watch delete by path failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Orchestrator,
		components.Ingestor,
		components.Storage,
		components.KeywordIndex,
		components.VectorIndex,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if cfg.Storage.VectorIndexPath != "" {
		if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: studyowl ingest [flags] <pdf-file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	defer components.SaveVectorIndex(cfg, logger)

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := components.Ingestor.IngestDirectory(ctx, path)
		if err != nil {
			fmt.Printf("Ingesting directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d PDF(s) from %s\n", n, path)
		return
	}
	report, err := components.Ingestor.IngestFile(ctx, path)
	if err != nil {
		fmt.Printf("Ingesting failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteIngestReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: studyowl ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "Question is all remaining arguments joined by spaces. Multi-word questions work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The answer is streamed token by token, followed by a citation summary
(focused page, highlights, source pages).

Examples:
  studyowl ask --document doc-123 what is photosynthesis
  studyowl ask --document doc-123 "what is photosynthesis"   # same as above
  studyowl ask --document doc-123 --chat chat-456 and on which page?
  studyowl ask --document doc-123 --output json your question
`)
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// askArgsReorder moves any flags (and their values) that appear after the
// question to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "studyowl ask \"question\"
// -document doc-1" would otherwise leave -document unparsed.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly without a running server)")
	documentID := fs.String("document", "", "document ID to ask about (required)")
	chatID := fs.String("chat", "", "chat ID to continue (empty = start a new chat)")
	outputFormat := fs.String("output", "text", "output format: text (streamed) or json (parseable)")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(askArgs)

	if fs.NArg() < 1 || *documentID == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	req := &models.ChatRequest{
		Messages:   []models.ChatMessage{{Role: "user", Content: question}},
		DocumentID: *documentID,
		ChatID:     *chatID,
	}

	var onToken func(token string)
	if format == cli.OutputText {
		onToken = func(token string) { fmt.Print(token) }
	}

	var result *cli.AskResult
	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids the Bleve/SQLite
		// lock conflict with a live server instance).
		result, err = askViaHTTP(*serverURL, req, onToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nAsk failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		result, err = askDirect(*configPath, req, onToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nAsk failed: %v\n", err)
			os.Exit(1)
		}
	}
	if onToken != nil {
		fmt.Println()
	}
	if err := cli.WriteAskResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// askViaHTTP posts the question to the server's SSE chat endpoint and consumes
// the event stream: "token" events feed onToken, "finish" carries the result.
func askViaHTTP(serverURL string, req *models.ChatRequest, onToken func(token string)) (*cli.AskResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}

	var result *cli.AskResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "token":
				var tok struct {
					Token string `json:"token"`
				}
				if err := json.Unmarshal([]byte(data), &tok); err == nil && onToken != nil {
					onToken(tok.Token)
				}
			case "error":
				var se struct {
					Error string `json:"error"`
				}
				if err := json.Unmarshal([]byte(data), &se); err == nil && se.Error != "" {
					return nil, fmt.Errorf("server error: %s", se.Error)
				}
				return nil, fmt.Errorf("server error: %s", data)
			case "finish":
				var fin cli.AskResult
				if err := json.Unmarshal([]byte(data), &fin); err != nil {
					return nil, fmt.Errorf("decode finish event: %w", err)
				}
				result = &fin
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("stream ended without a finish event")
	}
	return result, nil
}

// askDirect answers without a running server, using storage and indices directly.
func askDirect(configPath string, req *models.ChatRequest, onToken func(token string)) (*cli.AskResult, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()

	turn, err := components.Orchestrator.Ask(context.Background(), req, onToken)
	if err != nil {
		return nil, err
	}
	return &cli.AskResult{
		ChatID:   turn.ChatID,
		Answer:   turn.Answer,
		Metadata: turn.Metadata,
	}, nil
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	GenerationModel     string `json:"generation_model,omitempty"`
	ChunkSize           int    `json:"chunk_size,omitempty"`
	ChunkOverlap        int    `json:"chunk_overlap,omitempty"`
	TopK                int    `json:"top_k,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	BleveIndexPath      string `json:"bleve_index_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Documents        int64                 `json:"documents"`
	Chunks           int64                 `json:"chunks"`
	VectorIndexSize  int                   `json:"vector_index_size"`
	KeywordIndexSize uint64                `json:"keyword_index_size"`
	DiskUsageBytes   *int64                `json:"disk_usage_bytes,omitempty"`
	Config           *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		docCount, err := components.Storage.CountDocuments(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
			os.Exit(1)
		}
		chunkCount, err := components.Storage.CountChunks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count chunks failed: %v\n", err)
			os.Exit(1)
		}
		keywordCount, _ := components.KeywordIndex.DocCount()
		status = statusResponse{
			Documents:        docCount,
			Chunks:           chunkCount,
			VectorIndexSize:  components.VectorIndex.Size(),
			KeywordIndexSize: keywordCount,
			Config: &statusConfigResponse{
				EmbeddingModel:      cfg.Embedding.Model,
				EmbeddingDimensions: cfg.Embedding.Dimensions,
				GenerationModel:     cfg.Generation.Model,
				ChunkSize:           cfg.Retrieval.ChunkSize,
				ChunkOverlap:        cfg.Retrieval.ChunkOverlap,
				TopK:                cfg.Retrieval.TopK,
				DatabasePath:        cfg.Storage.DatabasePath,
				BleveIndexPath:      cfg.Storage.BleveIndexPath,
				VectorIndexPath:     cfg.Storage.VectorIndexPath,
			},
		}
		diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents:           %d   # count of ingested documents\n", status.Documents)
		fmt.Printf("chunks:              %d   # count of text chunks\n", status.Chunks)
		fmt.Printf("vector_index_size:   %d   # count of vectors in semantic index\n", status.VectorIndexSize)
		fmt.Printf("keyword_index_size:  %d   # count of chunks in keyword index\n", status.KeywordIndexSize)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:    %d   # storage + indices on disk\n", *status.DiskUsageBytes)
		}
		if status.Config != nil {
			fmt.Println()
			fmt.Println("# configuration")
			if status.Config.EmbeddingModel != "" {
				fmt.Printf("embedding_model:     %s\n", status.Config.EmbeddingModel)
			}
			if status.Config.EmbeddingDimensions > 0 {
				fmt.Printf("embedding_dims:      %d\n", status.Config.EmbeddingDimensions)
			}
			if status.Config.GenerationModel != "" {
				fmt.Printf("generation_model:    %s\n", status.Config.GenerationModel)
			}
			if status.Config.ChunkSize > 0 {
				fmt.Printf("chunk_size:          %d\n", status.Config.ChunkSize)
			}
			if status.Config.ChunkOverlap > 0 {
				fmt.Printf("chunk_overlap:       %d\n", status.Config.ChunkOverlap)
			}
			if status.Config.TopK > 0 {
				fmt.Printf("top_k:               %d\n", status.Config.TopK)
			}
			if status.Config.DatabasePath != "" {
				fmt.Printf("database_path:       %s\n", status.Config.DatabasePath)
			}
			if status.Config.BleveIndexPath != "" {
				fmt.Printf("bleve_index_path:    %s\n", status.Config.BleveIndexPath)
			}
			if status.Config.VectorIndexPath != "" {
				fmt.Printf("vector_index_path:   %s\n", status.Config.VectorIndexPath)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: studyowl delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	defer components.SaveVectorIndex(cfg, logger)

	if err := components.Ingestor.DeleteDocument(context.Background(), docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  *vector.MemoryIndex
	KeywordIndex keyword.Index
	Generator    generate.Generator
	Retriever    *retrieval.Retriever
	Orchestrator *chat.Orchestrator
	Ingestor     *ingest.Ingestor
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Generator != nil {
		_ = c.Generator.Close()
	}
}

// SaveVectorIndex persists the in-memory vector index so the next process
// start does not need a rebuild. Call before Close on commands that mutate
// the index.
func (c *Components) SaveVectorIndex(cfg *config.Config, logger *zap.Logger) {
	if cfg.Storage.VectorIndexPath == "" || c.VectorIndex == nil {
		return
	}
	if err := c.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil && logger != nil {
		logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	embedKey := os.Getenv(cfg.Embedding.APIKeyEnv)
	if embedKey != "" {
		embedder = embedding.NewOpenAIEmbedder(
			cfg.Embedding.BaseURL,
			embedKey,
			cfg.Embedding.Model,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxRetries,
			cfg.Embedding.CacheSize,
		)
	} else {
		if logger != nil {
			logger.Warn("embedding API key not set, using mock embedder",
				zap.String("env", cfg.Embedding.APIKeyEnv))
		}
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}

	var generator generate.Generator
	genKey := os.Getenv(cfg.Generation.APIKeyEnv)
	if genKey != "" {
		generator = generate.NewOpenAIGenerator(
			cfg.Generation.BaseURL,
			genKey,
			cfg.Generation.Model,
			cfg.Generation.MaxTokens,
			cfg.Generation.Temperature,
			cfg.Embedding.MaxRetries,
		)
	} else {
		if logger != nil {
			logger.Warn("generation API key not set, using mock generator",
				zap.String("env", cfg.Generation.APIKeyEnv))
		}
		generator = generate.NewMockGenerator("The generation service is not configured; set the API key to get real answers.")
	}

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if cfg.Storage.VectorIndexPath != "" {
		if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil && logger != nil {
			logger.Debug("vector index load skipped", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	ch, err := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, cfg.Retrieval.MinChunkChars)
	if err != nil {
		_ = store.Close()
		_ = keywordIndex.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	ingOpts := []ingest.Option{}
	if debug && logger != nil {
		ingOpts = append(ingOpts, ingest.WithLogger(logger))
	}
	ing := ingest.NewIngestor(store, embedder, vectorIndex, keywordIndex, ch, cfg.Embedding.BatchSize, ingOpts...)

	// An empty index with chunks on disk means the snapshot was missing or
	// stale; restore vectors from storage.
	if vectorIndex.Size() == 0 {
		restored, rebuildErr := ing.RebuildIndex(context.Background())
		if rebuildErr != nil {
			if logger != nil {
				logger.Warn("vector index rebuild failed", zap.Error(rebuildErr))
			}
		} else if restored > 0 && logger != nil {
			logger.Info("vector index rebuilt from storage", zap.Int("vectors", restored))
		}
	}

	retriever := retrieval.NewRetriever(embedder, vectorIndex, store)
	orchestrator := chat.NewOrchestrator(store, retriever, generator, cfg.Retrieval.TopK, logger)

	return &Components{
		Storage:      store,
		Embedder:     embedder,
		VectorIndex:  vectorIndex,
		KeywordIndex: keywordIndex,
		Generator:    generator,
		Retriever:    retriever,
		Orchestrator: orchestrator,
		Ingestor:     ing,
	}, nil
}

func printUsage() {
	fmt.Println(`studyowl - Chat with your PDFs, grounded in page citations

Usage:
  studyowl server [flags]             Start the HTTP server
  studyowl ingest [flags] <pdf>       Ingest a PDF file or directory
  studyowl ask [flags] <question>     Ask a question about a document
  studyowl delete [flags] <id>        Delete a document
  studyowl status [flags]             Show storage/index status
  studyowl version                    Show version
  studyowl help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/studyowl/config.yaml)
  --debug            Enable debug logging (watched directories, chunking, retrieval scores)

Ingest Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Ask Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to answer without a running server.
  --document string  Document ID to ask about (required)
  --chat string      Chat ID to continue (empty = start a new chat)
  --output string    Output format: text (streamed) or json (parseable)

Delete Flags:
  --config string    Config file path

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  studyowl server
  studyowl ingest lecture-notes.pdf
  studyowl ingest ~/pdfs
  studyowl ask --document doc-123 "what is photosynthesis?"
  studyowl ask --document doc-123 --output json "what is photosynthesis?"
  studyowl delete doc-123
  studyowl status
  studyowl status --output json`)
}
