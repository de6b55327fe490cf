package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
)

// scriptedModel replays one GenerationResult per turn.
type scriptedModel struct {
	mu    sync.Mutex
	turns []*llm.GenerationResult
	seen  [][]llm.Message
}

func (m *scriptedModel) next(msgs []llm.Message) *llm.GenerationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, append([]llm.Message(nil), msgs...))
	if len(m.turns) == 0 {
		return &llm.GenerationResult{Content: "done"}
	}
	r := m.turns[0]
	if len(m.turns) > 1 {
		m.turns = m.turns[1:]
	}
	return r
}

func (m *scriptedModel) Generate(_ context.Context, msgs []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (*llm.GenerationResult, error) {
	return m.next(msgs), nil
}

// GenerateStream splits the content into two deltas and sends tool calls
// as a header chunk followed by an arguments chunk.
func (m *scriptedModel) GenerateStream(ctx context.Context, msgs []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (<-chan *llm.StreamingResult, error) {
	r := m.next(msgs)
	out := make(chan *llm.StreamingResult)
	go func() {
		defer close(out)
		send := func(s *llm.StreamingResult) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		half := len(r.Content) / 2
		for _, part := range []string{r.Content[:half], r.Content[half:]} {
			if part != "" && !send(&llm.StreamingResult{ContentDelta: part}) {
				return
			}
		}
		for i, tc := range r.ToolCalls {
			head := &tools.ToolCall{ID: tc.ID, Function: tools.ToolCallFunction{Name: tc.Function.Name}}
			if !send(&llm.StreamingResult{ToolCallIndex: i, ToolCallChunk: head}) {
				return
			}
			args := &tools.ToolCall{Function: tools.ToolCallFunction{Arguments: tc.Function.Arguments}}
			if !send(&llm.StreamingResult{ToolCallIndex: i, ToolCallChunk: args}) {
				return
			}
		}
	}()
	return out, nil
}

func calcCall(id string) *tools.ToolCall {
	return &tools.ToolCall{ID: id, Function: tools.ToolCallFunction{Name: "calculate", Arguments: `{"operand1":2,"operator":"+","operand2":3}`}}
}

func calcAgent(model llm.LLMClient) *Agent {
	tm := tools.NewToolManager()
	_ = tm.Register(tools.NewCalculatorTool())
	return &Agent{Name: "calc", Instructions: "use tools", ModelID: "m", Model: model, Tools: tm}
}

func TestRunExecutesToolsUntilAnswer(t *testing.T) {
	model := &scriptedModel{turns: []*llm.GenerationResult{
		{ToolCalls: []*tools.ToolCall{calcCall("c1"), {ID: "c2", Function: tools.ToolCallFunction{Name: "missing"}}}},
		{Content: "It is 5."},
	}}
	res, err := calcAgent(model).Run(context.Background(), []Item{{Kind: KindUser, Text: "2+3?"}})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := res.FinalOutput(); got != "It is 5." {
		t.Errorf("FinalOutput() = %q, want %q", got, "It is 5.")
	}

	var kinds []string
	for _, it := range res.Items {
		kinds = append(kinds, string(it.Kind))
	}
	want := "tool_call,tool_result,tool_call,tool_result,assistant"
	if strings.Join(kinds, ",") != want {
		t.Errorf("item kinds = %v, want %s", kinds, want)
	}
	if res.Items[1].Text != "The result is 5." || res.Items[1].IsError {
		t.Errorf("calculator result = %+v", res.Items[1])
	}
	if !res.Items[3].IsError || !strings.HasPrefix(res.Items[3].Text, "Error executing tool missing") {
		t.Errorf("missing tool result = %+v", res.Items[3])
	}

	second := model.seen[1]
	if second[0].Role != llm.RoleSystem || second[0].Content != "use tools" {
		t.Errorf("first message = %+v, want instructions", second[0])
	}
	if last := second[len(second)-1]; last.Role != llm.RoleTool || last.ToolCallID != "c2" {
		t.Errorf("last message of second turn = %+v, want tool result for c2", last)
	}
}

func TestRunStopsAfterMaxTurns(t *testing.T) {
	model := &scriptedModel{turns: []*llm.GenerationResult{{ToolCalls: []*tools.ToolCall{calcCall("")}}}}
	_, err := calcAgent(model).Run(context.Background(), []Item{{Kind: KindUser, Text: "loop"}})
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("err = %v, want ErrMaxTurns", err)
	}
	if len(model.seen) != MaxTurns {
		t.Errorf("model turns = %d, want %d", len(model.seen), MaxTurns)
	}
}

func TestRunStreamPairsToolEvents(t *testing.T) {
	model := &scriptedModel{turns: []*llm.GenerationResult{
		{Content: "Let me add.", ToolCalls: []*tools.ToolCall{calcCall("c1")}},
		{Content: "It is 5."},
	}}
	stream := calcAgent(model).RunStream(context.Background(), []Item{{Kind: KindUser, Text: "2+3?"}})

	var text strings.Builder
	var sequence []EventKind
	for ev := range stream.Events() {
		sequence = append(sequence, ev.Kind)
		switch ev.Kind {
		case EventTextDelta:
			text.WriteString(ev.Delta)
		case EventToolCalled:
			if ev.CallID != "c1" || ev.ToolName != "calculate" || !strings.Contains(ev.Arguments, "operand1") {
				t.Errorf("tool_called event = %+v", ev)
			}
		case EventToolOutput:
			if ev.Output != "The result is 5." {
				t.Errorf("tool_output event = %+v", ev)
			}
		}
	}
	res, err := stream.Wait()
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if text.String() != "Let me add.It is 5." {
		t.Errorf("streamed text = %q", text.String())
	}
	if res.FinalOutput() != "It is 5." {
		t.Errorf("FinalOutput() = %q", res.FinalOutput())
	}

	called, output := -1, -1
	for i, k := range sequence {
		if k == EventToolCalled {
			called = i
		}
		if k == EventToolOutput {
			output = i
		}
	}
	if called < 0 || output != called+1 {
		t.Errorf("event sequence %v: tool output must directly follow its call", sequence)
	}
}

// blockingModel streams deltas until the context is cancelled.
type blockingModel struct{}

func (blockingModel) Generate(context.Context, []llm.Message, *llm.GenerationConfig, []tools.Tool) (*llm.GenerationResult, error) {
	return nil, errors.New("not used")
}

func (blockingModel) GenerateStream(ctx context.Context, _ []llm.Message, _ *llm.GenerationConfig, _ []tools.Tool) (<-chan *llm.StreamingResult, error) {
	out := make(chan *llm.StreamingResult)
	go func() {
		defer close(out)
		for {
			select {
			case out <- &llm.StreamingResult{ContentDelta: "x"}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestRunStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := (&Agent{Name: "endless", Model: blockingModel{}}).RunStream(ctx, []Item{{Kind: KindUser, Text: "go"}})

	for i := 0; i < 3; i++ {
		<-stream.Events()
	}
	cancel()
	_, err := stream.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() err = %v, want context.Canceled", err)
	}
}

func TestToMessagesMapsItems(t *testing.T) {
	msgs := toMessages("", []Item{
		{Kind: KindSystem, Text: "sys"},
		{Kind: KindUser, Text: "u"},
		{Kind: KindAssistant, Text: "a", ToolCalls: []*tools.ToolCall{calcCall("c1")}},
		{Kind: KindToolResult, CallID: "c1", Text: "5"},
		{Kind: KindToolResult, Name: "legacy_fn", Text: "ok"},
	})
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, string(m.Role))
	}
	if strings.Join(roles, ",") != "system,user,assistant,tool,tool" {
		t.Errorf("roles = %v", roles)
	}
	if msgs[4].ToolCallID != "legacy_fn" {
		t.Errorf("legacy function result id = %q, want legacy_fn", msgs[4].ToolCallID)
	}
}

type fakeModels map[string]llm.LLMClient

func (f fakeModels) Model(id string) (llm.LLMClient, bool) {
	m, ok := f[id]
	return m, ok
}

type fakeResolver []tools.ToolExecutor

func (f fakeResolver) ResolveToolsForAgent(context.Context, settings.AgentConfig) []tools.ToolExecutor {
	return f
}

// namedTool is an external tool stand-in.
type namedTool string

func (n namedTool) Definition() tools.Tool {
	return tools.NewFunctionTool(string(n), "external", tools.JSONSchema{Type: "object"})
}

func (n namedTool) Execute(context.Context, string) (string, error) { return "external", nil }

func TestBuildRunnableAgents(t *testing.T) {
	models := fakeModels{"p1": &scriptedModel{}}
	cfgs := []settings.AgentConfig{
		{ID: "1", Name: "assistant-1", Enabled: true, ModelProviderID: "p1",
			BuiltinTools: map[string]bool{tools.BuiltinCalculator: true, tools.BuiltinReadFile: true},
			CustomTools: []settings.CustomTool{
				{Name: "lookup", Endpoint: "http://localhost:1/lookup", Parameters: `{"type":"object"}`},
				{Name: "broken", Endpoint: "http://localhost:1/x", Parameters: `{not json`},
			},
		},
		{ID: "2", Name: "disabled", Enabled: false, ModelProviderID: "p1"},
		{ID: "3", Name: "orphan", Enabled: true, ModelProviderID: "nope"},
	}
	external := fakeResolver{namedTool("calculate"), namedTool("search")}

	agents := BuildRunnableAgents(context.Background(), cfgs, models, external, tools.BuiltinDeps{})
	if len(agents) != 1 || agents[0].Name != "assistant-1" {
		t.Fatalf("agents = %v, want only assistant-1", agents)
	}
	got := strings.Join(agents[0].Tools.Names(), ",")
	if got != "calculate,lookup,search" {
		t.Errorf("tool order = %s, want calculate,lookup,search", got)
	}
	out, err := agents[0].Tools.Execute(context.Background(), "calculate", `{"operand1":1,"operator":"*","operand2":4}`)
	if err != nil || out != "The result is 4." {
		t.Errorf("calculate = %q, %v; built-in should win over the external duplicate", out, err)
	}

	set := NewSet(agents)
	if _, ok := set.Get("assistant-1"); !ok {
		t.Error("Set.Get(assistant-1) missing")
	}
	if names := set.Names(); len(names) != 1 {
		t.Errorf("Set.Names() = %v", names)
	}
}

// countingModels is a model source that also counts prompt tokens.
type countingModels struct {
	fakeModels
	calls int
}

func (c *countingModels) CountTokens(_ context.Context, providerID, model string, msgs []llm.Message) int {
	c.calls++
	return 7 * len(msgs)
}

func TestRunCountsUsageWhenModelReportsNone(t *testing.T) {
	models := &countingModels{fakeModels: fakeModels{"p1": &scriptedModel{turns: []*llm.GenerationResult{{Content: "twelve chars"}}}}}
	cfgs := []settings.AgentConfig{{ID: "1", Name: "counted", Enabled: true, ModelProviderID: "p1", ModelID: "m"}}
	agents := BuildRunnableAgents(context.Background(), cfgs, models, nil, tools.BuiltinDeps{})
	if len(agents) != 1 || agents[0].Counter == nil {
		t.Fatalf("agents = %v, want one agent with a counter", agents)
	}

	res, err := agents[0].Run(context.Background(), []Item{{Kind: KindUser, Text: "hi"}})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	want := llm.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}
	if res.Usage != want {
		t.Errorf("Usage = %+v, want %+v", res.Usage, want)
	}
	if models.calls != 1 {
		t.Errorf("CountTokens called %d times, want 1", models.calls)
	}
}

func TestRunKeepsReportedUsage(t *testing.T) {
	reported := llm.Usage{PromptTokens: 11, CompletionTokens: 2, TotalTokens: 13}
	a := calcAgent(&scriptedModel{turns: []*llm.GenerationResult{{Content: "ok", Usage: reported}}})
	a.Counter = &countingModels{}
	res, err := a.Run(context.Background(), []Item{{Kind: KindUser, Text: "hi"}})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Usage != reported {
		t.Errorf("Usage = %+v, want %+v", res.Usage, reported)
	}
}
