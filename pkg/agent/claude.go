package agent

import (
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// claudeCLI wraps the Claude Code CLI. Claude Code talks to Anthropic models only.
func claudeCLI() cli {
	return cli{
		agent:    Claude,
		template: "vibekit-claude",
		image:    "superagentai/vibekit-claude:1.0",
		command: func(prompt, model string, _ llm.Provider) string {
			return fmt.Sprintf("claude --print --permission-mode acceptEdits --model %s %s",
				sandbox.Quote(model), sandbox.Quote(prompt))
		},
		keyEnv: func(llm.Provider) string { return "ANTHROPIC_API_KEY" },
	}
}
