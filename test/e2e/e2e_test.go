package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/chat"
	"github.com/studyowl/studyowl/internal/chunker"
	"github.com/studyowl/studyowl/internal/config"
	"github.com/studyowl/studyowl/internal/embedding"
	"github.com/studyowl/studyowl/internal/generate"
	"github.com/studyowl/studyowl/internal/ingest"
	"github.com/studyowl/studyowl/internal/keyword"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/retrieval"
	"github.com/studyowl/studyowl/internal/server"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
)

const e2eDimensions = 8

const tutorAnswer = `Photosynthesis converts light energy into chemical energy. [PAGE: 2] [HIGHLIGHT: page 2, "light energy into chemical energy"]`

type env struct {
	cfg      *config.Config
	store    storage.Storage
	vecIdx   *vector.MemoryIndex
	kwIdx    keyword.Index
	ingestor *ingest.Ingestor
	srv      *server.Server
}

func newEnv(t *testing.T, answer string) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Storage.DatabasePath = filepath.Join(dir, "studyowl.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "keyword.bleve")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.bin")

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewMockEmbedder(e2eDimensions)
	vecIdx, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	kwIdx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIdx.Close() })

	ch, err := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, cfg.Retrieval.MinChunkChars)
	if err != nil {
		t.Fatal(err)
	}
	ingestor := ingest.NewIngestor(store, embedder, vecIdx, kwIdx, ch, cfg.Embedding.BatchSize)
	retriever := retrieval.NewRetriever(embedder, vecIdx, store)
	orchestrator := chat.NewOrchestrator(store, retriever, generate.NewMockGenerator(answer), cfg.Retrieval.TopK, nil)
	srv := server.NewServer(orchestrator, ingestor, store, kwIdx, vecIdx, cfg, zap.NewNop())

	return &env{cfg: cfg, store: store, vecIdx: vecIdx, kwIdx: kwIdx, ingestor: ingestor, srv: srv}
}

func (e *env) ingestTextbook(t *testing.T, docID string) {
	t.Helper()
	pages := []models.PageContent{
		{Number: 1, Text: "Chapter one introduces the cell, the basic structural unit of all living organisms.", Width: 612, Height: 792},
		{Number: 2, Text: "Photosynthesis is the process plants use to convert light energy into chemical energy stored in glucose.", Width: 612, Height: 792},
		{Number: 3, Text: "Cellular respiration releases the stored chemical energy, producing ATP inside the mitochondria.", Width: 612, Height: 792},
	}
	if _, err := e.ingestor.IngestPages(context.Background(), docID, "biology.pdf", pages, nil); err != nil {
		t.Fatalf("IngestPages: %v", err)
	}
}

// sseStream is the decoded output of one chat request.
type sseStream struct {
	tokens []string
	finish map[string]json.RawMessage
	errMsg string
}

func readChatStream(t *testing.T, baseURL string, reqBody interface{}) *sseStream {
	t.Helper()
	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(baseURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("chat request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	out := &sseStream{}
	scanner := bufio.NewScanner(resp.Body)
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
				if err := json.Unmarshal([]byte(data), &tok); err != nil {
					t.Fatalf("decode token event: %v", err)
				}
				out.tokens = append(out.tokens, tok.Token)
			case "error":
				var se struct {
					Error string `json:"error"`
				}
				_ = json.Unmarshal([]byte(data), &se)
				out.errMsg = se.Error
			case "finish":
				if err := json.Unmarshal([]byte(data), &out.finish); err != nil {
					t.Fatalf("decode finish event: %v", err)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return out
}

func getJSON(t *testing.T, url string, into interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestE2E_IngestAskRoundTrip(t *testing.T) {
	e := newEnv(t, tutorAnswer)
	e.ingestTextbook(t, "doc-bio")

	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	var docList struct {
		Documents []*models.Document `json:"documents"`
	}
	getJSON(t, ts.URL+"/api/v1/documents", &docList)
	if len(docList.Documents) != 1 || docList.Documents[0].ID != "doc-bio" {
		t.Fatalf("documents = %+v", docList.Documents)
	}

	stream := readChatStream(t, ts.URL, map[string]interface{}{
		"documentId": "doc-bio",
		"messages": []map[string]string{
			{"role": "user", "content": "how do plants convert light energy?"},
		},
	})
	if stream.errMsg != "" {
		t.Fatalf("error event: %s", stream.errMsg)
	}
	if stream.finish == nil {
		t.Fatal("no finish event")
	}
	if strings.Join(stream.tokens, "") != tutorAnswer {
		t.Errorf("streamed tokens = %q, want raw answer", strings.Join(stream.tokens, ""))
	}

	var answer struct {
		CleanText string `json:"cleanText"`
		PageFocus *struct {
			Page int `json:"page"`
		} `json:"pageFocus"`
		Highlights []struct {
			Page int    `json:"page"`
			Text string `json:"text"`
		} `json:"highlights"`
	}
	if err := json.Unmarshal(stream.finish["answer"], &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.CleanText != "Photosynthesis converts light energy into chemical energy." {
		t.Errorf("cleanText = %q", answer.CleanText)
	}
	if answer.PageFocus == nil || answer.PageFocus.Page != 2 {
		t.Errorf("pageFocus = %+v, want page 2", answer.PageFocus)
	}
	if len(answer.Highlights) != 1 || answer.Highlights[0].Page != 2 {
		t.Errorf("highlights = %+v", answer.Highlights)
	}

	var metadata models.CitationMetadata
	if err := json.Unmarshal(stream.finish["metadata"], &metadata); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if metadata.PrimaryPage < 1 {
		t.Errorf("primaryPage = %d", metadata.PrimaryPage)
	}
	if len(metadata.RelevantPages) == 0 || len(metadata.Chunks) == 0 {
		t.Errorf("metadata not populated: %+v", metadata)
	}

	var chatID string
	if err := json.Unmarshal(stream.finish["chatId"], &chatID); err != nil || chatID == "" {
		t.Fatalf("chatId missing: %v", err)
	}

	// The persisted assistant message keeps the raw directives.
	var msgList struct {
		Messages []*models.Message `json:"messages"`
	}
	getJSON(t, ts.URL+"/api/v1/chats/"+chatID+"/messages", &msgList)
	if len(msgList.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgList.Messages))
	}
	if msgList.Messages[0].Role != "user" || msgList.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgList.Messages[0].Role, msgList.Messages[1].Role)
	}
	if !strings.Contains(msgList.Messages[1].Content, "[PAGE: 2]") {
		t.Errorf("assistant message lost directives: %q", msgList.Messages[1].Content)
	}
	if msgList.Messages[1].Metadata == nil {
		t.Error("assistant message has no citation metadata")
	}

	// Follow-up on the same chat appends to the history.
	followUp := readChatStream(t, ts.URL, map[string]interface{}{
		"documentId": "doc-bio",
		"chatId":     chatID,
		"messages": []map[string]string{
			{"role": "user", "content": "how do plants convert light energy?"},
			{"role": "assistant", "content": tutorAnswer},
			{"role": "user", "content": "and where does respiration happen?"},
		},
	})
	var followUpChatID string
	_ = json.Unmarshal(followUp.finish["chatId"], &followUpChatID)
	if followUpChatID != chatID {
		t.Errorf("follow-up chatId = %q, want %q", followUpChatID, chatID)
	}
	getJSON(t, ts.URL+"/api/v1/chats/"+chatID+"/messages", &msgList)
	if len(msgList.Messages) != 4 {
		t.Errorf("messages after follow-up = %d, want 4", len(msgList.Messages))
	}

	var chatList struct {
		Chats []*models.Chat `json:"chats"`
	}
	getJSON(t, ts.URL+"/api/v1/documents/doc-bio/chats", &chatList)
	if len(chatList.Chats) != 1 {
		t.Errorf("chats = %d, want 1", len(chatList.Chats))
	}

	var status struct {
		Documents       int64 `json:"documents"`
		Chunks          int64 `json:"chunks"`
		VectorIndexSize int   `json:"vector_index_size"`
	}
	getJSON(t, ts.URL+"/api/v1/status", &status)
	if status.Documents != 1 {
		t.Errorf("status.documents = %d", status.Documents)
	}
	if status.Chunks < 1 || status.VectorIndexSize != int(status.Chunks) {
		t.Errorf("status chunks = %d, vector index = %d", status.Chunks, status.VectorIndexSize)
	}

	// Deleting the document removes chats and index entries with it.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/documents/doc-bio", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	getJSON(t, ts.URL+"/api/v1/status", &status)
	if status.Documents != 0 || status.Chunks != 0 || status.VectorIndexSize != 0 {
		t.Errorf("status after delete = %+v", status)
	}
}

func TestE2E_RetrievalScopedToDocument(t *testing.T) {
	e := newEnv(t, tutorAnswer)
	e.ingestTextbook(t, "doc-bio")
	pages := []models.PageContent{
		{Number: 1, Text: "The French Revolution began in 1789 with the storming of the Bastille.", Width: 612, Height: 792},
	}
	if _, err := e.ingestor.IngestPages(context.Background(), "doc-hist", "history.pdf", pages, nil); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	stream := readChatStream(t, ts.URL, map[string]interface{}{
		"documentId": "doc-hist",
		"messages": []map[string]string{
			{"role": "user", "content": "when did the revolution begin?"},
		},
	})
	var metadata models.CitationMetadata
	if err := json.Unmarshal(stream.finish["metadata"], &metadata); err != nil {
		t.Fatal(err)
	}
	// doc-hist has a single page, so every retrieved chunk must come from page 1.
	for _, ref := range metadata.Chunks {
		if ref.Page != 1 {
			t.Errorf("chunk from page %d leaked into single-page document", ref.Page)
		}
	}
}

func TestE2E_VectorIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "studyowl.db")
	blevePath := filepath.Join(dir, "keyword.bleve")
	vecPath := filepath.Join(dir, "vectors.bin")

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = e2eDimensions

	ch, err := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, cfg.Retrieval.MinChunkChars)
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(e2eDimensions)

	// First process: ingest and snapshot the vector index.
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	vecIdx, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	kwIdx, err := keyword.NewBleveIndex(blevePath)
	if err != nil {
		t.Fatal(err)
	}
	ingestor := ingest.NewIngestor(store, embedder, vecIdx, kwIdx, ch, cfg.Embedding.BatchSize)
	pages := []models.PageContent{
		{Number: 1, Text: "Photosynthesis is the process plants use to convert light energy into chemical energy.", Width: 612, Height: 792},
	}
	if _, err := ingestor.IngestPages(context.Background(), "doc-1", "notes.pdf", pages, nil); err != nil {
		t.Fatal(err)
	}
	wantSize := vecIdx.Size()
	if wantSize == 0 {
		t.Fatal("nothing ingested")
	}
	if err := vecIdx.Save(vecPath); err != nil {
		t.Fatal(err)
	}
	if err := kwIdx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Second process: load the snapshot and answer from it.
	store2, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()
	vecIdx2, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	if err := vecIdx2.Load(vecPath); err != nil {
		t.Fatal(err)
	}
	if vecIdx2.Size() != wantSize {
		t.Fatalf("loaded index size = %d, want %d", vecIdx2.Size(), wantSize)
	}
	retriever := retrieval.NewRetriever(embedder, vecIdx2, store2)
	result, err := retriever.Retrieve(context.Background(), "doc-1", "how do plants convert light energy?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) == 0 {
		t.Error("no chunks retrieved after restart")
	}

	// Third process: snapshot missing, index is rebuilt from storage.
	vecIdx3, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	kwIdx3, err := keyword.NewBleveIndex(blevePath)
	if err != nil {
		t.Fatal(err)
	}
	defer kwIdx3.Close()
	ingestor3 := ingest.NewIngestor(store2, embedder, vecIdx3, kwIdx3, ch, cfg.Embedding.BatchSize)
	restored, err := ingestor3.RebuildIndex(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if restored != wantSize || vecIdx3.Size() != wantSize {
		t.Errorf("rebuilt %d vectors (index size %d), want %d", restored, vecIdx3.Size(), wantSize)
	}
}
