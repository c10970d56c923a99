package e2b

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// Connect envelope flags.
const (
	flagCompressed = 0x01
	flagEndStream  = 0x02
)

// maxEnvelope bounds a single streamed message.
const maxEnvelope = 16 << 20

type processConfig struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args"`
	Envs map[string]string `json:"envs,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

type startRequest struct {
	Process processConfig `json:"process"`
}

type processEvent struct {
	Event struct {
		Start *struct {
			PID uint32 `json:"pid"`
		} `json:"start"`
		Data *struct {
			Stdout []byte `json:"stdout"`
			Stderr []byte `json:"stderr"`
		} `json:"data"`
		End *struct {
			ExitCode int    `json:"exitCode"`
			Exited   bool   `json:"exited"`
			Status   string `json:"status"`
			Error    string `json:"error"`
		} `json:"end"`
	} `json:"event"`
}

type endStream struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ErrNoExitStatus is returned when the process stream closes before the
// process reported an exit.
var ErrNoExitStatus = errors.New("process stream ended without exit status")

// Exec starts command in the sandbox and streams its output until it exits.
func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Background {
		command = sandbox.Wrap(command, sandbox.ExecOptions{Background: true})
	}

	msg, err := json.Marshal(startRequest{Process: processConfig{
		Cmd:  "/bin/bash",
		Args: []string{"-l", "-c", command},
		Envs: opts.Env,
		Cwd:  opts.Dir,
	}})
	if err != nil {
		return nil, err
	}

	endpoint := s.c.envdURL(s.id, s.domain) + "/process.Process/Start"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope(0, msg)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/connect+json")
	req.Header.Set("Connect-Protocol-Version", "1")
	req.Header.Set("Authorization", basicUser("user"))
	if s.accessToken != "" {
		req.Header.Set("X-Access-Token", s.accessToken)
	}

	resp, err := s.c.once.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting process: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("starting process: error (%d): %s", resp.StatusCode, string(body))
	}

	stdout := sandbox.NewLineWriter(opts.OnStdout)
	stderr := sandbox.NewLineWriter(opts.OnStderr)
	result, err := readProcessStream(bufio.NewReader(resp.Body), stdout, stderr)
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		return nil, err
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

func readProcessStream(r io.Reader, stdout, stderr io.Writer) (*sandbox.ExecResult, error) {
	var result *sandbox.ExecResult
	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading process stream: %w", err)
		}
		flags := header[0]
		size := binary.BigEndian.Uint32(header[1:])
		if size > maxEnvelope {
			return nil, fmt.Errorf("reading process stream: message of %d bytes exceeds limit", size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("reading process stream: %w", err)
		}
		if flags&flagCompressed != 0 {
			return nil, fmt.Errorf("reading process stream: compressed messages are not supported")
		}

		if flags&flagEndStream != 0 {
			var end endStream
			if err := json.Unmarshal(payload, &end); err != nil {
				return nil, fmt.Errorf("parsing end of stream: %w", err)
			}
			if end.Error != nil {
				return nil, fmt.Errorf("process service: %s: %s", end.Error.Code, end.Error.Message)
			}
			break
		}

		var ev processEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("parsing process event: %w", err)
		}
		switch {
		case ev.Event.Data != nil:
			_, _ = stdout.Write(ev.Event.Data.Stdout)
			_, _ = stderr.Write(ev.Event.Data.Stderr)
		case ev.Event.End != nil:
			result = &sandbox.ExecResult{ExitCode: ev.Event.End.ExitCode}
		}
	}
	if result == nil {
		return nil, ErrNoExitStatus
	}
	return result, nil
}

func envelope(flags byte, msg []byte) []byte {
	buf := make([]byte, 5+len(msg))
	buf[0] = flags
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(msg)))
	copy(buf[5:], msg)
	return buf
}
