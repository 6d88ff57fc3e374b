package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hupe1980/agentbus/logging"
)

// StdioOptions configures a StdioTransport.
type StdioOptions struct {
	// Dir is the working directory of the server process.
	Dir string

	// Env is added to the parent environment.
	Env map[string]string

	// Logger receives the server's stderr output at debug level.
	Logger logging.Logger

	// CloseGrace is how long Close waits for the process to exit after
	// closing its stdin, and again after SIGTERM, before killing it.
	CloseGrace time.Duration
}

// StdioTransport runs an MCP server as a child process and exchanges
// newline-delimited JSON-RPC frames over its stdin and stdout.
type StdioTransport struct {
	command string
	args    []string
	opts    StdioOptions

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdoutR *os.File
	stdout  *bufio.Reader

	writeMu  sync.Mutex
	waitDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport creates a transport for command with args.
func NewStdioTransport(command string, args []string, optFns ...func(o *StdioOptions)) *StdioTransport {
	opts := StdioOptions{
		CloseGrace: defaultCloseGrace,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &StdioTransport{
		command: command,
		args:    append([]string(nil), args...),
		opts:    opts,
		closed:  make(chan struct{}),
	}
}

// Start launches the process. The process outlives ctx; it is only ended
// by Close.
func (t *StdioTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = t.opts.Dir
	cmd.Env = os.Environ()
	for k, v := range t.opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	// A plain os.Pipe keeps stdout readable after Wait returns, so frames
	// written just before exit are not lost.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}
	_ = stdoutW.Close()

	t.cmd = cmd
	t.stdin = stdin
	t.stdoutR = stdout
	t.stdout = bufio.NewReader(stdout)
	t.waitDone = make(chan struct{})

	stderrDone := make(chan struct{})
	go func() {
		t.logStderr(stderr)
		close(stderrDone)
	}()
	go func() {
		// Wait closes the stderr pipe, so it must be drained first.
		<-stderrDone
		_ = cmd.Wait()
		close(t.waitDone)
	}()

	t.opts.Logger.Debug("mcp.stdio.started", "command", t.command, "pid", cmd.Process.Pid)

	return nil
}

func (t *StdioTransport) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.opts.Logger.Debug("mcp.stdio.stderr", "command", t.command, "line", scanner.Text())
	}
}

// Send writes frame followed by a newline.
func (t *StdioTransport) Send(_ context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if t.stdin == nil {
		return fmt.Errorf("transport not started")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	if _, err := t.stdin.Write(buf); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// Receive returns the next non-empty line from the process.
func (t *StdioTransport) Receive() ([]byte, error) {
	if t.stdout == nil {
		return nil, fmt.Errorf("transport not started")
	}
	for {
		line, err := t.stdout.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			select {
			case <-t.closed:
				return nil, ErrTransportClosed
			default:
				return nil, err
			}
		}
	}
}

// Close closes stdin and waits for the process to exit. A process still
// running after the grace period gets SIGTERM, and is killed if it
// outlives a second grace period. Safe to call repeatedly.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.cmd == nil {
			return
		}

		_ = t.stdin.Close()

		if !t.waitExit(t.opts.CloseGrace) {
			t.opts.Logger.Debug("mcp.stdio.terminate", "command", t.command, "pid", t.cmd.Process.Pid)
			if serr := t.cmd.Process.Signal(syscall.SIGTERM); serr != nil || !t.waitExit(t.opts.CloseGrace) {
				t.opts.Logger.Warn("mcp.stdio.kill", "command", t.command, "pid", t.cmd.Process.Pid)
				if kerr := t.cmd.Process.Kill(); kerr != nil {
					err = fmt.Errorf("failed to kill process: %w", kerr)
				}
				<-t.waitDone
			}
		}

		_ = t.stdoutR.Close()

		t.opts.Logger.Debug("mcp.stdio.exited", "command", t.command, "state", t.cmd.ProcessState.String())
	})
	return err
}

func (t *StdioTransport) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.waitDone:
		return true
	case <-timer.C:
		return false
	}
}

// Pid returns the process id, or 0 before Start.
func (t *StdioTransport) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}
