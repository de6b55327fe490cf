package llm

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ewmaAlpha weights the newest latency sample.
const ewmaAlpha = 0.1

// AgentStats is the run record kept for one agent.
type AgentStats struct {
	Agent             string `json:"agent"`
	Successes         int64  `json:"successes"`
	Failures          int64  `json:"failures"`
	AvgLatencyMS      int64  `json:"avg_latency_ms"`
	TotalInputTokens  int64  `json:"total_input_tokens"`
	TotalOutputTokens int64  `json:"total_output_tokens"`
}

// Profiler records per-agent run statistics in Redis. A Profiler without a
// Redis client records nothing and reports empty stats.
type Profiler struct {
	rdb *redis.Client
}

func NewProfiler(rdb *redis.Client) *Profiler {
	return &Profiler{rdb: rdb}
}

// Enabled reports whether stats are being kept.
func (p *Profiler) Enabled() bool {
	return p != nil && p.rdb != nil
}

func (p *Profiler) statsKey(agent string) string {
	return fmt.Sprintf("agent-stats:%s", agent)
}

// GetStats reads an agent's record. Unknown agents yield zero counters.
func (p *Profiler) GetStats(ctx context.Context, agent string) (*AgentStats, error) {
	stats := &AgentStats{Agent: agent}
	if !p.Enabled() {
		return stats, nil
	}
	data, err := p.rdb.HGetAll(ctx, p.statsKey(agent)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", agent, err)
	}
	stats.Successes, _ = strconv.ParseInt(data["successes"], 10, 64)
	stats.Failures, _ = strconv.ParseInt(data["failures"], 10, 64)
	stats.AvgLatencyMS, _ = strconv.ParseInt(data["avg_latency_ms"], 10, 64)
	stats.TotalInputTokens, _ = strconv.ParseInt(data["total_input_tokens"], 10, 64)
	stats.TotalOutputTokens, _ = strconv.ParseInt(data["total_output_tokens"], 10, 64)
	return stats, nil
}

// RecordSuccess folds a finished run into the agent's record. The latency
// average is updated under WATCH so concurrent runs do not lose samples.
func (p *Profiler) RecordSuccess(ctx context.Context, agent string, latency time.Duration, usage Usage) {
	if !p.Enabled() {
		return
	}
	key := p.statsKey(agent)
	err := p.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "avg_latency_ms").Result()
		if err != nil && err != redis.Nil {
			return err
		}
		sample := latency.Milliseconds()
		next := sample
		if current != "" {
			prev, _ := strconv.ParseInt(current, 10, 64)
			next = int64(ewmaAlpha*float64(sample) + (1.0-ewmaAlpha)*float64(prev))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "avg_latency_ms", next)
			return nil
		})
		return err
	}, key)
	if err != nil {
		log.Printf("Error updating latency for %s: %v", agent, err)
	}

	pipe := p.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "successes", 1)
	pipe.HIncrBy(ctx, key, "total_input_tokens", int64(usage.PromptTokens))
	pipe.HIncrBy(ctx, key, "total_output_tokens", int64(usage.CompletionTokens))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Error in success update pipeline for %s: %v", agent, err)
	}
}

// RecordFailure counts a failed run.
func (p *Profiler) RecordFailure(ctx context.Context, agent string) {
	if !p.Enabled() {
		return
	}
	if err := p.rdb.HIncrBy(ctx, p.statsKey(agent), "failures", 1).Err(); err != nil {
		log.Printf("Error recording failure for %s: %v", agent, err)
	}
}
