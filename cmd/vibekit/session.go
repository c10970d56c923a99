package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	vibekit "github.com/backupManager/vibekit-ai"
	"github.com/backupManager/vibekit-ai/internal/config"
	"github.com/backupManager/vibekit-ai/internal/httpapi"
	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
	"github.com/backupManager/vibekit-ai/pkg/store"
)

// session binds a stored CLI session to a VibeKit. Events streamed on the
// bus are recorded in the store until close.
type session struct {
	store store.SessionStore
	rec   *store.Session
	vk    *vibekit.VibeKit
	bus   *eventbus.InMemoryBus
	agent string
	env   string

	events chan *eventbus.Event
	wg     sync.WaitGroup
}

var _ httpapi.Facade = (*session)(nil)

// openSession loads the named session, creating it on first use. A stored
// sandbox is reattached when the session still targets the same environment.
func openSession(ctx context.Context, cfg *config.Config, st store.SessionStore, name string, opts ...vibekit.Option) (*session, error) {
	rec, err := st.GetSessionByName(name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := time.Now().UTC()
		rec = &store.Session{
			ID:          uuid.NewString(),
			Name:        name,
			Agent:       cfg.Agent,
			Environment: cfg.Environment,
			Repo:        cfg.GitHubRepository,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.CreateSession(rec); err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	}

	vcfg, err := cfg.VibeKit()
	if err != nil {
		return nil, err
	}
	if rec.Environment == cfg.Environment {
		vcfg.SandboxID = rec.SandboxID
	}

	bus := eventbus.NewInMemoryBus()
	opts = append([]vibekit.Option{vibekit.WithEventBus(bus), vibekit.WithSessionName(rec.ID)}, opts...)
	vk, err := vibekit.New(vcfg, opts...)
	if err != nil {
		return nil, err
	}

	s := &session{
		store:  st,
		rec:    rec,
		vk:     vk,
		bus:    bus,
		agent:  cfg.Agent,
		env:    cfg.Environment,
		events: bus.Subscribe(rec.ID),
	}
	s.wg.Add(1)
	go s.record(ctx)

	clog.FromContext(ctx).With("session", rec.Name, "id", rec.ID, "sandbox", vcfg.SandboxID).Debug("session opened")
	return s, nil
}

func (s *session) record(ctx context.Context) {
	defer s.wg.Done()
	for ev := range s.events {
		err := s.store.AddEvent(&store.Event{
			SessionID: s.rec.ID,
			Operation: ev.Operation,
			Type:      string(ev.Type),
			Data:      ev.Data,
			CreatedAt: ev.CreatedAt,
		})
		if err != nil {
			clog.FromContext(ctx).With("error", err).Warn("recording event")
		}
	}
}

// close stops recording and waits for buffered events to be stored.
func (s *session) close() {
	s.bus.Unsubscribe(s.rec.ID, s.events)
	s.wg.Wait()
}

// history returns the stored conversation. It is nil for a new session.
func (s *session) history() ([]agent.Turn, error) {
	msgs, err := s.store.GetMessages(s.rec.ID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	var turns []agent.Turn
	for _, m := range msgs {
		turns = append(turns, agent.Turn{Role: agent.Role(m.Role), Content: m.Content})
	}
	return turns, nil
}

// GenerateCode runs a prompt with the stored conversation as history, unless
// req carries its own, and appends the new turns.
func (s *session) GenerateCode(ctx context.Context, req vibekit.GenerateRequest) (*agent.Response, error) {
	if req.History == nil {
		hist, err := s.history()
		if err != nil {
			return nil, err
		}
		req.History = hist
	}
	res, err := s.vk.GenerateCode(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Branch != "" {
		s.rec.Branch = req.Branch
	}
	if err := s.remember(res); err != nil {
		return nil, err
	}
	for _, turn := range []agent.Turn{{Role: agent.RoleUser, Content: req.Prompt}, {Role: agent.RoleAssistant, Content: res.Stdout}} {
		if err := s.store.AddMessage(&store.Message{SessionID: s.rec.ID, Role: string(turn.Role), Content: turn.Content}); err != nil {
			return nil, fmt.Errorf("saving message: %w", err)
		}
	}
	return res, nil
}

func (s *session) RunTests(ctx context.Context, opts vibekit.RunTestsOptions) (*agent.Response, error) {
	if opts.History == nil {
		hist, err := s.history()
		if err != nil {
			return nil, err
		}
		opts.History = hist
	}
	res, err := s.vk.RunTests(ctx, opts)
	if err != nil {
		return nil, err
	}
	return res, s.remember(res)
}

func (s *session) ExecuteCommand(ctx context.Context, command string, opts vibekit.ExecuteCommandOptions) (*agent.Response, error) {
	res, err := s.vk.ExecuteCommand(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	return res, s.remember(res)
}

func (s *session) CreatePullRequest(ctx context.Context) (*agent.PullRequestResponse, error) {
	pr, err := s.vk.CreatePullRequest(ctx)
	if err != nil {
		return nil, err
	}
	s.rec.Branch = pr.BranchName
	s.rec.PRURL = pr.HTMLURL
	s.rec.PRNumber = pr.Number
	return pr, s.save()
}

// Kill destroys the sandbox and forgets it.
func (s *session) Kill(ctx context.Context) error {
	if err := s.vk.Kill(ctx); err != nil {
		return err
	}
	s.rec.SandboxID = ""
	return s.save()
}

func (s *session) Pause(ctx context.Context) error  { return s.vk.Pause(ctx) }
func (s *session) Resume(ctx context.Context) error { return s.vk.Resume(ctx) }

// Session is the facade's session name, which is the stored session ID.
func (s *session) Session() string { return s.vk.Session() }

// remember stores the sandbox a call ran in so later invocations reattach.
func (s *session) remember(res *agent.Response) error {
	if res == nil || res.SandboxID == "" {
		return s.save()
	}
	s.rec.SandboxID = res.SandboxID
	s.rec.Agent = s.agent
	s.rec.Environment = s.env
	return s.save()
}

func (s *session) save() error {
	if err := s.store.UpdateSession(s.rec); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
