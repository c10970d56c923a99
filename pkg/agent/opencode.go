package agent

import (
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// openCodeCLI wraps the OpenCode CLI. OpenCode is model-agnostic; models are
// addressed as "provider/model".
func openCodeCLI() cli {
	return cli{
		agent:    OpenCode,
		template: "vibekit-opencode",
		image:    "superagentai/vibekit-opencode:1.0",
		command: func(prompt, model string, provider llm.Provider) string {
			if provider == "" {
				provider = DefaultProvider(OpenCode)
			}
			return fmt.Sprintf("opencode run -m %s %s",
				sandbox.Quote(string(provider)+"/"+model), sandbox.Quote(prompt))
		},
		keyEnv: ProviderKeyEnv,
	}
}
