package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// cli describes how to run one headless coding CLI inside a sandbox.
type cli struct {
	agent Type
	// template is the E2B template with the CLI preinstalled.
	template string
	// image is the container image used by Docker and Daytona.
	image string
	// command returns the shell command that runs prompt non-interactively.
	command func(prompt, model string, provider llm.Provider) string
	// keyEnv returns the environment variable the CLI reads the API key from.
	keyEnv func(provider llm.Provider) string
}

func (c cli) templateFor(kind sandbox.Kind) string {
	if kind == sandbox.KindE2B {
		return c.template
	}
	return c.image
}

// ProviderKeyEnv returns the conventional API key variable for a vendor.
func ProviderKeyEnv(p llm.Provider) string {
	switch p {
	case llm.Gemini:
		return "GEMINI_API_KEY"
	case "":
		return "ANTHROPIC_API_KEY"
	default:
		return strings.ToUpper(string(p)) + "_API_KEY"
	}
}

// ---------------------------------------------------------------------------
// Progress markers
// ---------------------------------------------------------------------------

// Sandbox images print these prefixes to report progress out of band.
const (
	statusMarker = "###VIBEKIT_STATUS### "
	errorMarker  = "###VIBEKIT_ERROR### "
)

// dispatchLine forwards one line of CLI output to cb. Marker lines are
// unwrapped; an error marker is delivered through OnError.
func dispatchLine(cb Callbacks, line string) {
	if cb == nil {
		return
	}
	switch {
	case strings.HasPrefix(line, errorMarker):
		cb.OnError(errors.New(strings.TrimPrefix(line, errorMarker)))
	case strings.HasPrefix(line, statusMarker):
		cb.OnUpdate(strings.TrimPrefix(line, statusMarker))
	default:
		cb.OnUpdate(line)
	}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

const askInstruction = "Answer the following question about this repository. " +
	"Do not modify, create or delete any files."

// renderPrompt folds mode and conversation history into the text passed to
// the CLI. History is rendered in the order given.
func renderPrompt(prompt string, mode Mode, history []Turn) string {
	var b strings.Builder
	if mode == ModeAsk {
		b.WriteString(askInstruction)
		b.WriteString("\n\n")
	}
	if len(history) > 0 {
		b.WriteString("## Conversation so far\n\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n\n", t.Role, t.Content)
		}
		b.WriteString("## Current request\n\n")
	}
	b.WriteString(prompt)
	return b.String()
}
