package agent

import (
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// geminiCLI wraps Google's Gemini CLI.
func geminiCLI() cli {
	return cli{
		agent:    Gemini,
		template: "vibekit-gemini",
		image:    "superagentai/vibekit-gemini:1.0",
		command: func(prompt, model string, _ llm.Provider) string {
			return fmt.Sprintf("gemini --yolo -m %s -p %s",
				sandbox.Quote(model), sandbox.Quote(prompt))
		},
		keyEnv: func(llm.Provider) string { return "GEMINI_API_KEY" },
	}
}
