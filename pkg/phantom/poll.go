package phantom

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Sentinel errors for execution outcomes. ErrExecutionTimeout is transient and
// safe to retry on a later tick; ErrExecutionFailed means the provider itself
// reported the run as failed.
var (
	ErrExecutionTimeout = eris.New("phantom: execution timed out")
	ErrExecutionFailed  = eris.New("phantom: execution failed")
)

// WaitConfig controls the LaunchAndWait polling loop.
type WaitConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultWaitConfig polls every 15 seconds for up to 10 minutes.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		PollInterval: 15 * time.Second,
		Timeout:      10 * time.Minute,
	}
}

// LaunchAndWait launches an agent and polls its output at a fixed interval
// until it finishes, fails, or the timeout elapses. On success it returns the
// final output with the agent's result object.
func LaunchAndWait(ctx context.Context, c Client, agentID string, argument any, cfg WaitConfig) (*AgentOutput, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWaitConfig().PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWaitConfig().Timeout
	}

	containerID, err := c.Launch(ctx, agentID, argument)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("phantom: agent launched",
		zap.String("agent_id", agentID),
		zap.String("container_id", containerID))

	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "phantom: wait for execution")
		case <-ticker.C:
		}

		out, err := c.FetchOutput(ctx, agentID)
		if err != nil {
			// A flaky poll is not fatal; the next tick retries it.
			zap.L().Warn("phantom: poll failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
			if time.Now().After(deadline) {
				return nil, ErrExecutionTimeout
			}
			continue
		}

		switch {
		case out.Finished():
			return out, nil
		case out.Failed():
			return nil, eris.Wrap(ErrExecutionFailed, out.Output)
		}

		if time.Now().After(deadline) {
			return nil, ErrExecutionTimeout
		}
	}
}
