package phantom

import (
	"context"

	"github.com/rotisserie/eris"
)

// ValidateAgent checks that an agent id resolves to a launchable agent. It is
// used at startup and by the CLI to fail fast on misconfigured agent ids.
func ValidateAgent(ctx context.Context, c Client, agentID string) (*AgentDetails, error) {
	details, err := c.FetchAgent(ctx, agentID)
	if err != nil {
		return nil, eris.Wrap(err, "phantom: validate agent")
	}
	if details.ScriptID == "" || details.ScriptID == "0" {
		return nil, eris.Errorf("phantom: agent %s has no script attached", agentID)
	}
	return details, nil
}
