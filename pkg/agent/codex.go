package agent

import (
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// codexCLI wraps the OpenAI Codex CLI. Codex talks to OpenAI models only.
func codexCLI() cli {
	return cli{
		agent:    Codex,
		template: "vibekit-codex",
		image:    "superagentai/vibekit-codex:1.0",
		command: func(prompt, model string, _ llm.Provider) string {
			return fmt.Sprintf("codex exec --full-auto --skip-git-repo-check -m %s %s",
				sandbox.Quote(model), sandbox.Quote(prompt))
		},
		keyEnv: func(llm.Provider) string { return "OPENAI_API_KEY" },
	}
}
