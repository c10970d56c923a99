// Package prmeta turns a diff and a task description into pull request
// metadata using schema-constrained generation.
package prmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/llm/provider"
)

// Options selects the model used for generation.
type Options struct {
	Provider llm.Provider
	APIKey   string
	// Model defaults to llm.DefaultModel(Provider).
	Model   string
	BaseURL string
}

// PullRequestMetadata is the full record generated for a new pull request.
type PullRequestMetadata struct {
	Title         string `json:"title" jsonschema:"description=Concise pull request title (under 72 characters)"`
	Body          string `json:"body" jsonschema:"description=Markdown description of what changed and why"`
	BranchName    string `json:"branchName" jsonschema:"description=Short kebab-case git branch name without a prefix"`
	CommitMessage string `json:"commitMessage" jsonschema:"description=Conventional commit message for the change"`
}

// CommitMetadata is generated when only a commit message is needed.
type CommitMetadata struct {
	CommitMessage string `json:"commitMessage" jsonschema:"description=Conventional commit message for the change"`
}

// ErrIncompleteMetadata is returned when the model omits a required field.
var ErrIncompleteMetadata = errors.New("incomplete metadata")

// newFactory is swapped in tests.
var newFactory = provider.New

const pullRequestInstruction = `You are writing the metadata for a pull request.

Given the task the coding agent was asked to perform and the resulting diff,
produce:
- title: a concise, imperative summary of the change
- body: a markdown description covering what changed and why
- branchName: a short kebab-case branch name describing the change
- commitMessage: a conventional commit message (e.g. "fix: handle empty input")

Describe only what the diff actually does.`

const commitInstruction = `You are writing a git commit message.

Given the task the coding agent was asked to perform and the resulting diff,
produce a conventional commit message (e.g. "feat: add retry flag") that
describes only what the diff actually does.`

// GeneratePullRequest produces title, body, branch name and commit message.
func GeneratePullRequest(ctx context.Context, opts Options, diff, prompt string) (*PullRequestMetadata, error) {
	md, err := generate[PullRequestMetadata](ctx, opts, "pull_request_metadata",
		"Metadata for a pull request.", pullRequestInstruction, diff, prompt)
	if err != nil {
		return nil, err
	}
	for name, v := range map[string]string{
		"title":         md.Title,
		"body":          md.Body,
		"branchName":    md.BranchName,
		"commitMessage": md.CommitMessage,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: %s is empty", ErrIncompleteMetadata, name)
		}
	}
	return md, nil
}

// GenerateCommitMessage produces only a commit message.
func GenerateCommitMessage(ctx context.Context, opts Options, diff, prompt string) (*CommitMetadata, error) {
	md, err := generate[CommitMetadata](ctx, opts, "commit_message",
		"A git commit message.", commitInstruction, diff, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(md.CommitMessage) == "" {
		return nil, fmt.Errorf("%w: commitMessage is empty", ErrIncompleteMetadata)
	}
	return md, nil
}

func generate[T any](ctx context.Context, opts Options, name, description, instruction, diff, prompt string) (*T, error) {
	factory, err := newFactory(opts.Provider, opts.APIKey, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = llm.DefaultModel(opts.Provider)
	}

	ctx, span := otel.Tracer("vibekit/prmeta").Start(ctx, "prmeta."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", string(opts.Provider)),
		attribute.String("llm.model", modelID),
	)

	schema, err := llm.SchemaFor[T]()
	if err != nil {
		return nil, err
	}

	raw, err := factory(modelID).GenerateObject(ctx, llm.ObjectRequest{
		Name:        name,
		Description: description,
		Prompt:      buildPrompt(instruction, prompt, diff),
		Schema:      schema,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return &out, nil
}

func buildPrompt(instruction, prompt, diff string) string {
	return fmt.Sprintf("%s\n\n## Task\n%s\n\n## Diff\n```diff\n%s\n```", instruction, prompt, diff)
}
