package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	vibekit "github.com/backupManager/vibekit-ai"
	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
)

// fakeFacade records requests and replays canned progress.
type fakeFacade struct {
	updates []string
	// streamErrs are reported through OnError after the updates.
	streamErrs []error
	res        *agent.Response
	pr         *agent.PullRequestResponse
	err        error

	gotGenerate vibekit.GenerateRequest
	gotTests    vibekit.RunTestsOptions
	gotCommand  string
	gotExec     vibekit.ExecuteCommandOptions
	lifecycle   []string
}

func (f *fakeFacade) emit(cb *vibekit.Callbacks) {
	if cb == nil {
		return
	}
	for _, u := range f.updates {
		cb.OnUpdate(u)
	}
	for _, err := range f.streamErrs {
		cb.OnError(err)
	}
}

func (f *fakeFacade) GenerateCode(_ context.Context, req vibekit.GenerateRequest) (*agent.Response, error) {
	f.gotGenerate = req
	f.emit(req.Callbacks)
	return f.res, f.err
}

func (f *fakeFacade) CreatePullRequest(context.Context) (*agent.PullRequestResponse, error) {
	return f.pr, f.err
}

func (f *fakeFacade) RunTests(_ context.Context, opts vibekit.RunTestsOptions) (*agent.Response, error) {
	f.gotTests = opts
	f.emit(opts.Callbacks)
	return f.res, f.err
}

func (f *fakeFacade) ExecuteCommand(_ context.Context, command string, opts vibekit.ExecuteCommandOptions) (*agent.Response, error) {
	f.gotCommand, f.gotExec = command, opts
	f.emit(opts.Callbacks)
	return f.res, f.err
}

func (f *fakeFacade) Kill(context.Context) error   { f.lifecycle = append(f.lifecycle, "kill"); return f.err }
func (f *fakeFacade) Pause(context.Context) error  { f.lifecycle = append(f.lifecycle, "pause"); return f.err }
func (f *fakeFacade) Resume(context.Context) error { f.lifecycle = append(f.lifecycle, "resume"); return f.err }
func (f *fakeFacade) Session() string              { return "s1" }

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func readLines(t *testing.T, body string) []streamLine {
	t.Helper()
	var lines []streamLine
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var l streamLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("decoding %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	return lines
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate_JSON(t *testing.T) {
	f := &fakeFacade{res: &agent.Response{ExitCode: 0, Stdout: "done", SandboxID: "sbx-1"}}
	h := New(f, nil).Handler()

	rec := post(t, h, "/v1/generate", `{"prompt":"add a README","mode":"ask","branch":"main","history":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got agent.Response
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(*f.res, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	want := vibekit.GenerateRequest{
		Prompt:  "add a README",
		Mode:    agent.ModeAsk,
		Branch:  "main",
		History: []agent.Turn{{Role: "user", Content: "hi"}},
	}
	if diff := cmp.Diff(want, f.gotGenerate); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_Stream(t *testing.T) {
	f := &fakeFacade{updates: []string{"cloning", "editing"}, res: &agent.Response{Stdout: "ok"}}
	h := New(f, nil).Handler()

	rec := post(t, h, "/v1/generate", `{"prompt":"fix it","stream":true}`)
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := []streamLine{
		{Type: "update", Data: "cloning"},
		{Type: "update", Data: "editing"},
		{Type: "result", Response: &agent.Response{Stdout: "ok"}},
	}
	if diff := cmp.Diff(want, readLines(t, rec.Body.String())); diff != "" {
		t.Errorf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_StreamFailure(t *testing.T) {
	f := &fakeFacade{updates: []string{"cloning"}, err: errors.New("sandbox gone")}
	rec := post(t, New(f, nil).Handler(), "/v1/generate", `{"prompt":"fix it","stream":true}`)

	lines := readLines(t, rec.Body.String())
	if len(lines) != 2 || lines[1].Type != "error" || lines[1].Data != "sandbox gone" {
		t.Errorf("unexpected lines %+v", lines)
	}
}

func TestGenerate_StreamFailureReportedOnce(t *testing.T) {
	boom := errors.New("sandbox gone")
	marker := errors.New("rate limited")
	f := &fakeFacade{updates: []string{"cloning"}, streamErrs: []error{marker, boom}, err: fmt.Errorf("generate: %w", boom)}
	rec := post(t, New(f, nil).Handler(), "/v1/generate", `{"prompt":"fix it","stream":true}`)

	want := []streamLine{
		{Type: "update", Data: "cloning"},
		{Type: "error", Data: "rate limited"},
		{Type: "error", Data: "sandbox gone"},
	}
	if diff := cmp.Diff(want, readLines(t, rec.Body.String())); diff != "" {
		t.Errorf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing prompt", `{"mode":"code"}`},
		{"bad mode", `{"prompt":"x","mode":"chat"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, New(&fakeFacade{}, nil).Handler(), "/v1/generate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Tests / Exec / PR
// ---------------------------------------------------------------------------

func TestRunTests(t *testing.T) {
	f := &fakeFacade{res: &agent.Response{ExitCode: 1, Stdout: "FAIL"}}
	rec := post(t, New(f, nil).Handler(), "/v1/tests", `{"branch":"feat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.gotTests.Branch != "feat" || f.gotTests.Callbacks != nil {
		t.Errorf("unexpected options %+v", f.gotTests)
	}
}

func TestExec(t *testing.T) {
	f := &fakeFacade{res: &agent.Response{Stdout: "v20"}}
	rec := post(t, New(f, nil).Handler(), "/v1/exec", `{"command":"node -v","timeoutMs":1500,"useRepoContext":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.gotCommand != "node -v" {
		t.Errorf("command = %q", f.gotCommand)
	}
	if f.gotExec.Timeout != 1500*time.Millisecond || !f.gotExec.UseRepoContext {
		t.Errorf("unexpected options %+v", f.gotExec)
	}

	if rec := post(t, New(f, nil).Handler(), "/v1/exec", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty command status = %d, want 400", rec.Code)
	}
}

func TestPullRequest(t *testing.T) {
	f := &fakeFacade{pr: &agent.PullRequestResponse{HTMLURL: "https://github.com/acme/widgets/pull/7", Number: 7}}
	rec := post(t, New(f, nil).Handler(), "/v1/pull-request", ``)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var got agent.PullRequestResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Number != 7 {
		t.Errorf("Number = %d", got.Number)
	}
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{vibekit.ErrMissingGitHubConfig, http.StatusPreconditionFailed},
		{agent.ErrNoChanges, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := post(t, New(&fakeFacade{err: tt.err}, nil).Handler(), "/v1/pull-request", ``)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body errorResponse
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body.Error != tt.err.Error() {
				t.Errorf("error = %q", body.Error)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Sandbox lifecycle
// ---------------------------------------------------------------------------

func TestSandboxActions(t *testing.T) {
	f := &fakeFacade{}
	h := New(f, nil).Handler()
	for _, action := range []string{"pause", "resume", "kill"} {
		if rec := post(t, h, "/v1/sandbox/"+action, ``); rec.Code != http.StatusNoContent {
			t.Errorf("%s status = %d", action, rec.Code)
		}
	}
	if diff := cmp.Diff([]string{"pause", "resume", "kill"}, f.lifecycle); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
	if rec := post(t, h, "/v1/sandbox/restart", ``); rec.Code != http.StatusNotFound {
		t.Errorf("unknown action status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestEvents_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	New(&fakeFacade{}, nil).Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEvents_SSE(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	ts := httptest.NewServer(New(&fakeFacade{}, bus).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// The handler subscribes before flushing headers, so this event is seen.
	bus.Publish("s1", &eventbus.Event{Session: "s1", Operation: "generate", Type: eventbus.TypeUpdate, Data: "hello"})

	sc := bufio.NewScanner(resp.Body)
	var got []string
	for sc.Scan() && len(got) < 2 {
		if line := sc.Text(); line != "" {
			got = append(got, line)
		}
	}
	if len(got) != 2 || got[0] != "event: update" || !strings.Contains(got[1], `"data":"hello"`) {
		t.Errorf("unexpected SSE lines %q", got)
	}
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	New(&fakeFacade{}, nil).Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body)
	}
}
