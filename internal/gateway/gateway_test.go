package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/agent"
	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/openai"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/tools"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoModel answers with the last user message, or fails/panics on demand.
type echoModel struct {
	err   error
	panic bool
}

func (m echoModel) reply(msgs []llm.Message) (*llm.GenerationResult, error) {
	if m.panic {
		panic("model exploded")
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.GenerationResult{Content: "echo: " + msgs[len(msgs)-1].Content}, nil
}

func (m echoModel) Generate(_ context.Context, msgs []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (*llm.GenerationResult, error) {
	return m.reply(msgs)
}

func (m echoModel) GenerateStream(_ context.Context, msgs []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (<-chan *llm.StreamingResult, error) {
	res, err := m.reply(msgs)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(res.Content, " ")
	out := make(chan *llm.StreamingResult, len(words))
	for _, word := range words {
		out <- &llm.StreamingResult{ContentDelta: word}
	}
	close(out)
	return out, nil
}

type staticSource struct {
	set  *agent.Set
	mode settings.ToolEventMode
}

func (s staticSource) Agents() *agent.Set                    { return s.set }
func (s staticSource) ToolEventMode() settings.ToolEventMode { return s.mode }

func newTestEngine(agents ...*agent.Agent) *gin.Engine {
	if len(agents) == 0 {
		agents = []*agent.Agent{{Name: "assistant-1", Model: echoModel{}, Tools: tools.NewToolManager()}}
	}
	src := staticSource{set: agent.NewSet(agents), mode: settings.ToolEventsAnnotate}
	return NewEngine(NewHandler(src, llm.NewProfiler(nil)))
}

func post(engine http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionBuffered(t *testing.T) {
	rec := post(newTestEngine(), `{"model":"assistant-1","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatCompletion
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].Message.Content != "echo: hi" || resp.Choices[0].FinishReason != "stop" {
		t.Errorf("choice = %+v", resp.Choices[0])
	}
	if resp.Model != "assistant-1" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestChatCompletionUnknownModel(t *testing.T) {
	rec := post(newTestEngine(), `{"model":"nope","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body openai.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error.Type != "invalid_request_error" {
		t.Errorf("error.type = %q", body.Error.Type)
	}
	if !strings.Contains(body.Error.Message, "assistant-1") {
		t.Errorf("error.message = %q, want available models listed", body.Error.Message)
	}
}

func TestChatCompletionMalformedBody(t *testing.T) {
	rec := post(newTestEngine(), `{"model":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChatCompletionRunFailures(t *testing.T) {
	engine := newTestEngine(
		&agent.Agent{Name: "broken", Model: echoModel{err: errors.New("backend down")}},
		&agent.Agent{Name: "panicky", Model: echoModel{panic: true}},
	)
	for _, tc := range []struct {
		name, body, want string
	}{
		{"error buffered", `{"model":"broken","messages":[{"role":"user","content":"x"}]}`, "backend down"},
		{"error streamed", `{"model":"broken","stream":true,"messages":[{"role":"user","content":"x"}]}`, "backend down"},
		{"panic buffered", `{"model":"panicky","messages":[{"role":"user","content":"x"}]}`, "panicked"},
		{"panic streamed", `{"model":"panicky","stream":true,"messages":[{"role":"user","content":"x"}]}`, "panicked"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(engine, tc.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500 (body %s)", rec.Code, rec.Body.String())
			}
			var body openai.ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Error.Type != "internal_error" || !strings.Contains(body.Error.Message, tc.want) {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}
}

// sseFrames returns the data payloads of an event stream.
func sseFrames(t *testing.T, r io.Reader) []string {
	t.Helper()
	var frames []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

func TestChatCompletionStreaming(t *testing.T) {
	rec := post(newTestEngine(), `{"model":"assistant-1","messages":[{"role":"user","content":"hi there"}],"stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := sseFrames(t, rec.Body)
	if len(frames) < 3 {
		t.Fatalf("frames = %v", frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", frames[len(frames)-1])
	}

	var text strings.Builder
	stops := 0
	var id string
	for i, f := range frames[:len(frames)-1] {
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(f), &chunk); err != nil {
			t.Fatalf("frame %d invalid: %v", i, err)
		}
		if id == "" {
			id = chunk.ID
		} else if chunk.ID != id {
			t.Errorf("frame %d id %q differs from %q", i, chunk.ID, id)
		}
		choice := chunk.Choices[0]
		text.WriteString(choice.Delta.Content)
		if choice.FinishReason != nil {
			stops++
			if i != len(frames)-2 || *choice.FinishReason != "stop" || choice.Delta.Content != "" {
				t.Errorf("frame %d: unexpected terminal chunk %s", i, f)
			}
		}
	}
	if stops != 1 {
		t.Errorf("terminal chunks = %d, want exactly 1", stops)
	}
	if text.String() != "echo: hi there" {
		t.Errorf("streamed text = %q", text.String())
	}
}

func TestModelsAndStats(t *testing.T) {
	engine := newTestEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	var list openai.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].ID != "assistant-1" {
		t.Errorf("models = %+v", list)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/assistant-1/stats", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"agent":"assistant-1"`) {
		t.Errorf("stats = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/ghost/stats", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent stats status = %d, want 404", rec.Code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func getModels(port int) (int, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/v1/models", port))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func TestServerRestartOnNewPort(t *testing.T) {
	oldPort := freePort(t)
	srv := NewServer(Config{Port: oldPort, RestartDelay: 50 * time.Millisecond, ShutdownTimeout: time.Second}, newTestEngine())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer srv.Stop(context.Background())
	if srv.State() != StateListening {
		t.Fatalf("state = %s, want listening", srv.State())
	}
	if code, err := getModels(oldPort); err != nil || code != http.StatusOK {
		t.Fatalf("old port: %d, %v", code, err)
	}

	newPort := freePort(t)
	srv.SetPort(newPort)
	if err := srv.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() failed: %v", err)
	}
	if code, err := getModels(newPort); err != nil || code != http.StatusOK {
		t.Errorf("new port: %d, %v", code, err)
	}
	if _, err := getModels(oldPort); err == nil {
		t.Error("old port still accepts connections")
	}
	if got := srv.Addr().String(); got != "127.0.0.1:"+strconv.Itoa(newPort) {
		t.Errorf("Addr() = %s", got)
	}
}

func TestServerPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := NewServer(Config{Port: ln.Addr().(*net.TCPAddr).Port}, newTestEngine())
	err = srv.Start()
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("Start() err = %v, want ErrPortInUse", err)
	}
	if !errors.Is(err, ErrBind) {
		t.Errorf("Start() err = %v, want it to wrap ErrBind", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %s, want stopped", srv.State())
	}
	if err := srv.Stop(context.Background()); !errors.Is(err, ErrNotListening) {
		t.Errorf("Stop() err = %v, want ErrNotListening", err)
	}
}

func TestServerBindFailureKeepsStopped(t *testing.T) {
	srv := NewServer(Config{Host: "192.0.2.1", Port: freePort(t)}, newTestEngine())
	err := srv.Start()
	if !errors.Is(err, ErrBind) {
		t.Fatalf("Start() err = %v, want ErrBind", err)
	}
	if errors.Is(err, ErrPortInUse) {
		t.Errorf("Start() err = %v, should not be ErrPortInUse", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %s, want stopped", srv.State())
	}
}

// brokenStreamModel streams one delta and then fails.
type brokenStreamModel struct{}

func (brokenStreamModel) Generate(context.Context, []llm.Message, *llm.GenerationConfig, []tools.Tool) (*llm.GenerationResult, error) {
	return nil, errors.New("backend dropped")
}

func (brokenStreamModel) GenerateStream(context.Context, []llm.Message, *llm.GenerationConfig, []tools.Tool) (<-chan *llm.StreamingResult, error) {
	out := make(chan *llm.StreamingResult, 2)
	out <- &llm.StreamingResult{ContentDelta: "partial"}
	out <- &llm.StreamingResult{Err: errors.New("backend dropped")}
	close(out)
	return out, nil
}

func TestChatCompletionStreamFailsAfterFirstEvent(t *testing.T) {
	engine := newTestEngine(&agent.Agent{Name: "flaky", Model: brokenStreamModel{}})
	rec := post(engine, `{"model":"flaky","stream":true,"messages":[{"role":"user","content":"x"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 once streaming began", rec.Code)
	}

	frames := sseFrames(t, rec.Body)
	if len(frames) != 4 {
		t.Fatalf("frames = %v, want delta, error, stop, [DONE]", frames)
	}
	if !strings.Contains(frames[0], `"content":"partial"`) {
		t.Errorf("first frame = %s", frames[0])
	}
	var body openai.ErrorBody
	if err := json.Unmarshal([]byte(frames[1]), &body); err != nil {
		t.Fatalf("error frame invalid: %v", err)
	}
	if body.Error.Type != "internal_error" || !strings.Contains(body.Error.Message, "backend dropped") {
		t.Errorf("error frame = %+v", body.Error)
	}
	var stop openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(frames[2]), &stop); err != nil {
		t.Fatalf("stop frame invalid: %v", err)
	}
	if fr := stop.Choices[0].FinishReason; fr == nil || *fr != "stop" {
		t.Errorf("stop frame = %s", frames[2])
	}
	if frames[3] != "[DONE]" {
		t.Errorf("last frame = %q", frames[3])
	}
}

// tickerModel streams deltas until its context ends, then closes stopped.
type tickerModel struct {
	stopped chan struct{}
}

func (tickerModel) Generate(context.Context, []llm.Message, *llm.GenerationConfig, []tools.Tool) (*llm.GenerationResult, error) {
	return nil, errors.New("streaming only")
}

func (m tickerModel) GenerateStream(ctx context.Context, _ []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (<-chan *llm.StreamingResult, error) {
	out := make(chan *llm.StreamingResult)
	go func() {
		defer close(m.stopped)
		defer close(out)
		for {
			select {
			case out <- &llm.StreamingResult{ContentDelta: "tick "}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestStreamStopsRunOnClientDisconnect(t *testing.T) {
	model := tickerModel{stopped: make(chan struct{})}
	ts := httptest.NewServer(newTestEngine(&agent.Agent{Name: "ticker", Model: model}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	body := `{"model":"ticker","stream":true,"messages":[{"role":"user","content":"go"}]}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before the first frame: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	cancel()
	resp.Body.Close()

	select {
	case <-model.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("model kept streaming after the client went away")
	}
}

// gateModel blocks each call until released or cancelled.
type gateModel struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *gateModel) Generate(ctx context.Context, _ []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (*llm.GenerationResult, error) {
	m.once.Do(func() { close(m.entered) })
	select {
	case <-m.release:
		return &llm.GenerationResult{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *gateModel) GenerateStream(context.Context, []llm.Message, *llm.GenerationConfig, []tools.Tool) (<-chan *llm.StreamingResult, error) {
	return nil, errors.New("not streamed")
}

// startSlowRequest serves a gated agent and sends one buffered request to
// it. The returned channel yields the response status, or 0 on error.
func startSlowRequest(t *testing.T, cfg Config) (*Server, *gateModel, <-chan int) {
	t.Helper()
	model := &gateModel{entered: make(chan struct{}), release: make(chan struct{})}
	cfg.Port = freePort(t)
	srv := NewServer(cfg, newTestEngine(&agent.Agent{Name: "slow", Model: model}))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	status := make(chan int, 1)
	go func() {
		body := `{"model":"slow","messages":[{"role":"user","content":"x"}]}`
		resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/v1/chat/completions", cfg.Port), "application/json", strings.NewReader(body))
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	select {
	case <-model.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the model")
	}
	return srv, model, status
}

func TestStopWaitsForInFlightRequest(t *testing.T) {
	srv, model, status := startSlowRequest(t, Config{ShutdownTimeout: 5 * time.Second})

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		t.Fatalf("Stop() returned %v while a request was in flight", err)
	case <-time.After(150 * time.Millisecond):
	}

	close(model.release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if code := <-status; code != http.StatusOK {
		t.Errorf("in-flight request status = %d, want 200", code)
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %s", srv.State())
	}
}

func TestStopForcesCloseAfterTimeout(t *testing.T) {
	srv, model, status := startSlowRequest(t, Config{ShutdownTimeout: 100 * time.Millisecond})
	defer close(model.release)

	start := time.Now()
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop() took %s, want about the shutdown timeout", elapsed)
	}
	if srv.State() != StateStopped {
		t.Errorf("state = %s", srv.State())
	}
	if code := <-status; code == http.StatusOK {
		t.Error("forced close still completed the request")
	}
}
