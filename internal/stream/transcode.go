package stream

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"context"
)

// urlPlaceholder in a transcode argument is replaced with the upstream URL.
// When present, the command dials upstream itself and nothing is piped to
// its stdin.
const urlPlaceholder = "{url}"

// transcodeSource wraps a running external command whose stdout is the byte
// source for the fetch loop. Closing it kills the process and releases the
// upstream connection, if one was opened to feed stdin.
type transcodeSource struct {
	io.ReadCloser
	cmd      *exec.Cmd
	upstream io.Closer
}

func (t *transcodeSource) Close() error {
	err := t.ReadCloser.Close()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.cmd.Wait()
	if t.upstream != nil {
		t.upstream.Close()
	}
	return err
}

// openTranscode spawns the channel's transcode command. Two wirings exist:
// with a {url} placeholder the command fetches upstream itself; without one
// the manager opens upstream and pipes the body into stdin. Either way the
// process's stdout is the session source and its failure is a retryable IO
// error like any other.
func (m *Manager) openTranscode(ctx context.Context, url, userAgent string, command []string) (io.ReadCloser, error) {
	args := make([]string, len(command))
	substituted := false
	for i, arg := range command {
		if strings.Contains(arg, urlPlaceholder) {
			args[i] = strings.ReplaceAll(arg, urlPlaceholder, url)
			substituted = true
		} else {
			args[i] = arg
		}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var upstream io.ReadCloser
	if !substituted {
		body, err := m.openUpstream(ctx, url, userAgent)
		if err != nil {
			return nil, err
		}
		upstream = body
		cmd.Stdin = body
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if upstream != nil {
			upstream.Close()
		}
		return nil, fmt.Errorf("failed to open transcode stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		if upstream != nil {
			upstream.Close()
		}
		return nil, fmt.Errorf("failed to open transcode stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if upstream != nil {
			upstream.Close()
		}
		return nil, fmt.Errorf("failed to start transcode command: %w", err)
	}

	m.logger.Info("transcode process started",
		slog.String("command", args[0]),
		slog.Int("pid", cmd.Process.Pid))

	// Stderr is logged but never blocks the loop.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			m.logger.Debug("transcode stderr", slog.String("line", scanner.Text()))
		}
	}()

	return &transcodeSource{
		ReadCloser: stdout,
		cmd:        cmd,
		upstream:   upstream,
	}, nil
}
