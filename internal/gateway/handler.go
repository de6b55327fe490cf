package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/agent"
	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/openai"
	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"github.com/gin-gonic/gin"
)

// AgentSource supplies the current agent snapshot and chunk rendering mode.
// The snapshot may be swapped between requests; a request keeps the one it
// resolved its agent from.
type AgentSource interface {
	Agents() *agent.Set
	ToolEventMode() settings.ToolEventMode
}

// Handler serves the OpenAI-compatible routes.
type Handler struct {
	source   AgentSource
	profiler *llm.Profiler
	started  int64
}

// NewHandler creates the route handler. A nil profiler records nothing.
func NewHandler(source AgentSource, profiler *llm.Profiler) *Handler {
	return &Handler{source: source, profiler: profiler, started: time.Now().Unix()}
}

// NewEngine builds the gin engine with logging, structured panic recovery
// and the gateway routes.
func NewEngine(h *Handler) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		abortWithError(c, http.StatusInternalServerError, openai.ErrTypeInternal, fmt.Sprintf("internal error: %v", recovered))
	}))
	h.Register(engine)
	return engine
}

// Register mounts the routes on an engine.
func (h *Handler) Register(engine *gin.Engine) {
	v1 := engine.Group("/v1")
	{
		v1.GET("/models", h.HandleModels)
		v1.POST("/chat/completions", h.HandleChatCompletions)
		v1.GET("/agents/:name/stats", h.HandleAgentStats)
	}
}

func abortWithError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, openai.NewError(errType, message))
}

// HandleModels lists every runnable agent as a model.
func (h *Handler) HandleModels(c *gin.Context) {
	c.JSON(http.StatusOK, openai.ModelsFor(h.source.Agents().Names(), h.started))
}

// HandleAgentStats reports an agent's run statistics.
func (h *Handler) HandleAgentStats(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.source.Agents().Get(name); !ok {
		abortWithError(c, http.StatusNotFound, openai.ErrTypeInvalidRequest, fmt.Sprintf("The agent '%s' does not exist", name))
		return
	}
	stats, err := h.profiler.GetStats(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, openai.ErrTypeInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleChatCompletions decodes the request, resolves the agent and runs it
// buffered or streamed.
func (h *Handler) HandleChatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, openai.ErrTypeInvalidRequest, "Invalid request: "+err.Error())
		return
	}
	model, input, stream, err := openai.DecodeRequest(body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, openai.ErrTypeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	set := h.source.Agents()
	a, ok := set.Get(model)
	if !ok {
		msg := fmt.Sprintf("The model '%s' does not exist. Available models: %s", model, strings.Join(set.Names(), ", "))
		abortWithError(c, http.StatusNotFound, openai.ErrTypeInvalidRequest, msg)
		return
	}

	if stream {
		h.streamRun(c, a, input)
		return
	}

	start := time.Now()
	res, err := runSafely(c.Request.Context(), a, input)
	if err != nil {
		h.profiler.RecordFailure(context.WithoutCancel(c.Request.Context()), a.Name)
		log.Printf("ERROR: Agent %q run failed: %v", a.Name, err)
		abortWithError(c, http.StatusInternalServerError, openai.ErrTypeInternal, err.Error())
		return
	}
	h.profiler.RecordSuccess(c.Request.Context(), a.Name, time.Since(start), res.Usage)
	c.JSON(http.StatusOK, openai.EncodeResult(res, a.Name))
}

// runSafely runs a buffered agent run, turning a panic into an error.
func runSafely(ctx context.Context, a *agent.Agent, input []agent.Item) (res *agent.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("agent run panicked: %v", r)
		}
	}()
	return a.Run(ctx, input)
}

// streamRun writes the run as server-sent chunks. A run that fails before
// its first event is answered with a plain 500. A client disconnect cancels
// the run and ends the loop without further writes.
func (h *Handler) streamRun(c *gin.Context, a *agent.Agent, input []agent.Item) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	start := time.Now()
	run := a.RunStream(ctx, input)
	events := run.Events()

	first, open := <-events
	if !open {
		if _, err := run.Wait(); err != nil {
			h.profiler.RecordFailure(context.WithoutCancel(ctx), a.Name)
			if ctx.Err() != nil {
				log.Printf("Client disconnected before agent %q produced output.", a.Name)
				return
			}
			log.Printf("ERROR: Agent %q run failed: %v", a.Name, err)
			abortWithError(c, http.StatusInternalServerError, openai.ErrTypeInternal, err.Error())
			return
		}
	}

	w := newSSEWriter(c)
	enc := openai.NewChunkEncoder(a.Name, h.source.ToolEventMode())
	write := func(ev agent.Event) bool {
		chunk, ok := enc.Encode(ev)
		if !ok {
			return true
		}
		if err := w.writeJSON(chunk); err != nil {
			log.Printf("Stream write to client failed, stopping agent %q: %v", a.Name, err)
			cancel()
			return false
		}
		return true
	}

	if open && write(first) {
		for ev := range events {
			if !write(ev) {
				break
			}
		}
	}

	res, err := run.Wait()
	if ctx.Err() != nil {
		h.profiler.RecordFailure(context.WithoutCancel(ctx), a.Name)
		log.Printf("Stream for agent %q ended early: %v", a.Name, ctx.Err())
		return
	}
	if err != nil {
		h.profiler.RecordFailure(context.WithoutCancel(ctx), a.Name)
		log.Printf("ERROR: Agent %q run failed mid-stream: %v", a.Name, err)
		if werr := w.writeJSON(openai.NewError(openai.ErrTypeInternal, err.Error())); werr != nil {
			return
		}
	} else {
		h.profiler.RecordSuccess(ctx, a.Name, time.Since(start), res.Usage)
	}

	if final, ok := enc.Final(); ok {
		if err := w.writeJSON(final); err != nil {
			log.Printf("Stream write to client failed: %v", err)
			return
		}
	}
	if err := w.done(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Stream write to client failed: %v", err)
	}
}
