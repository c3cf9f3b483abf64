package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// State is the lifecycle position of a Session.
type State uint8

const (
	StateNotRunning State = iota
	StateStarting
	StateRunning
	StateTimedOut
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not-running"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTimedOut:
		return "timed-out"
	case StateExited:
		return "exited"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// drainTimeout bounds the stdout reader after the tracer exits, in case a
// descendant still holds the pipe open.
const drainTimeout = 5 * time.Second

type frame struct {
	msg Message
	err error
}

// Session owns one tracer process.
type Session struct {
	cfg Config
	id  string
	log *slog.Logger

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   *os.File
	stdout  *os.File
	msgs    chan frame
	done    chan struct{} // closed by Stop; releases the reader
	exited  chan struct{} // closed once Wait returns
	runtime *time.Timer

	code     int
	haveCode bool
}

// New validates cfg and returns a stopped session.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Env = append([]string(nil), cfg.Env...)
	if cfg.FuzzCount != nil {
		n := *cfg.FuzzCount
		cfg.FuzzCount = &n
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	return &Session{
		cfg: cfg,
		id:  id,
		log: log.With("session", id),
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was built with.
func (s *Session) Config() Config { return s.cfg }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the tracer is alive and inside its runtime window.
func (s *Session) IsRunning() bool { return s.State() == StateRunning }

// ReturnCode reports the exit status of the last process that completed.
func (s *Session) ReturnCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning || s.state == StateStarting {
		return 0, false
	}
	return s.code, s.haveCode
}

// Start spawns the tracer. A positive timeout bounds the process's total
// runtime; when it expires the process group is killed and the session moves
// to StateTimedOut.
func (s *Session) Start(timeout time.Duration) error {
	args, err := s.cfg.Args()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return types.Errorf(types.ErrKindSessionStart, "session %s: already started (%s)", s.id, s.state)
	}
	s.state = StateStarting

	cmd, stdin, stdout, err := spawn(args, s.cfg)
	if err != nil {
		s.state = StateNotRunning
		s.log.Warn("tracer failed to start", "err", err)
		return types.Errorf(types.ErrKindSessionStart, "start %s: %w", args[0], err)
	}

	s.cmd, s.stdin, s.stdout = cmd, stdin, stdout
	s.msgs = make(chan frame, 4)
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	s.haveCode = false
	go readFrames(stdout, s.msgs, s.done)
	go s.wait(cmd, stdout, s.exited)
	if timeout > 0 {
		s.runtime = time.AfterFunc(timeout, func() { s.expire(cmd, timeout) })
	}
	s.state = StateRunning
	s.log.Debug("tracer started", "pid", cmd.Process.Pid, "args", args)
	return nil
}

// spawn starts the process with its stdin and stdout wired to fresh pipes and
// returns our ends of them.
func spawn(args []string, cfg Config) (*exec.Cmd, *os.File, *os.File, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("command pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, nil, nil, fmt.Errorf("message pipe: %w", err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = cfg.Stderr
	setProcessGroup(cmd)

	err = cmd.Start()
	// The child holds its own copies; ours must go so EOF propagates.
	inR.Close()
	outW.Close()
	if err != nil {
		inW.Close()
		outR.Close()
		return nil, nil, nil, err
	}
	return cmd, inW, outR, nil
}

func (s *Session) wait(cmd *exec.Cmd, stdout *os.File, exited chan struct{}) {
	err := cmd.Wait()
	// Release a reader still blocked on a pipe some descendant kept open.
	_ = stdout.SetReadDeadline(time.Now().Add(drainTimeout))

	s.mu.Lock()
	s.code = cmd.ProcessState.ExitCode()
	s.haveCode = true
	if s.cmd == cmd && s.state == StateRunning {
		s.state = StateExited
	}
	state := s.state
	s.mu.Unlock()

	s.log.Debug("tracer exited", "code", cmd.ProcessState.ExitCode(), "state", state, "err", err)
	close(exited)
}

func (s *Session) expire(cmd *exec.Cmd, timeout time.Duration) {
	s.mu.Lock()
	if s.cmd != cmd || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	s.mu.Unlock()

	s.log.Warn("tracer exceeded its runtime window", "timeout", timeout)
	if err := killProcessGroup(cmd.Process); err != nil {
		s.log.Warn("kill tracer", "err", err)
	}
}

func readFrames(r io.Reader, msgs chan<- frame, done <-chan struct{}) {
	defer close(msgs)
	br := bufio.NewReader(r)
	hdr := make([]byte, format.MessageHeaderSize)
	deliver := func(f frame) bool {
		select {
		case msgs <- f:
			return true
		case <-done:
			return false
		}
	}
	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			if !errors.Is(err, io.EOF) {
				deliver(frame{err: fmt.Errorf("read message header: %w", err)})
			}
			return
		}
		h, err := format.DecodeMessageHeader(hdr)
		if err != nil {
			deliver(frame{err: err})
			return
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(br, payload); err != nil {
			deliver(frame{err: fmt.Errorf("read %d-byte payload: %w", h.Length, err)})
			return
		}
		if !deliver(frame{msg: Message{Type: MsgType(h.Type), Payload: payload, arrived: true}}) {
			return
		}
	}
}

// live returns the channels of a running session or the error explaining
// why commands cannot be issued.
func (s *Session) live() (*os.File, <-chan frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return s.stdin, s.msgs, nil
	case StateTimedOut:
		return nil, nil, types.Errorf(types.ErrKindSessionTimeout, "session %s: tracer timed out", s.id)
	default:
		return nil, nil, types.Errorf(types.ErrKindNotRunning, "session %s: tracer is %s", s.id, s.state)
	}
}

// unread returns the message channel while frames may still be waiting on
// it. A tracer that exited or timed out can have written its last answer
// before going away, so the channel outlives StateRunning until Stop.
func (s *Session) unread() (<-chan frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning, StateExited, StateTimedOut:
		if s.msgs != nil {
			return s.msgs, nil
		}
	}
	return nil, types.Errorf(types.ErrKindNotRunning, "session %s: tracer is %s", s.id, s.state)
}

// closed explains a message channel that ran dry.
func (s *Session) closed(what string) error {
	s.mu.Lock()
	state, code, haveCode := s.state, s.code, s.haveCode
	s.mu.Unlock()
	switch {
	case state == StateTimedOut:
		return types.Errorf(types.ErrKindSessionTimeout, "%s: tracer timed out", what)
	case haveCode:
		return types.Errorf(types.ErrKindProtocol, "%s: tracer exited with status %d", what, code)
	default:
		return types.Errorf(types.ErrKindProtocol, "%s: tracer closed its output", what)
	}
}

func (s *Session) watchdog(d time.Duration) time.Duration {
	switch {
	case d > 0:
		return d
	case s.cfg.Watchdog > 0:
		return s.cfg.Watchdog
	default:
		return DefaultWatchdog
	}
}

// await blocks for the next message or until watchdog elapses.
func (s *Session) await(msgs <-chan frame, watchdog time.Duration, what string) (Message, error) {
	t := time.NewTimer(watchdog)
	defer t.Stop()
	select {
	case f, ok := <-msgs:
		if !ok {
			return Message{}, s.closed(what)
		}
		if f.err != nil {
			return Message{}, types.Errorf(types.ErrKindProtocol, "%s: %w", what, f.err)
		}
		return f.msg, nil
	case <-t.C:
		return Message{}, types.Errorf(types.ErrKindProtocol, "%s: nothing within %s", what, watchdog)
	}
}

// Send writes one command and waits for its acknowledgment. Anything other
// than an ACK within the watchdog is a protocol error.
func (s *Session) Send(typ MsgType, payload []byte, watchdog time.Duration) (Message, error) {
	stdin, msgs, err := s.live()
	if err != nil {
		return Message{}, err
	}
	watchdog = s.watchdog(watchdog)

	_ = stdin.SetWriteDeadline(time.Now().Add(watchdog))
	if _, err := stdin.Write(format.AppendMessage(nil, int32(typ), payload)); err != nil {
		if s.State() == StateTimedOut {
			return Message{}, types.Errorf(types.ErrKindSessionTimeout, "send %s: tracer timed out", typ)
		}
		return Message{}, types.Errorf(types.ErrKindProtocol, "send %s: %w", typ, err)
	}

	ack, err := s.await(msgs, watchdog, "ack for "+typ.String())
	if err != nil {
		return ack, err
	}
	if ack.Kind() != KindAck {
		return ack, types.Errorf(types.ErrKindProtocol, "ack for %s: got %s", typ, ack)
	}
	return ack, nil
}

// ReadResponse waits for the completion message of the last command. OK and
// FAIL are returned as messages; any other type is a protocol error. A
// tracer that answered and then exited still has its answer delivered; only
// once its output is exhausted is the exit reported.
func (s *Session) ReadResponse(watchdog time.Duration) (Message, error) {
	msgs, err := s.unread()
	if err != nil {
		return Message{}, err
	}
	resp, err := s.await(msgs, s.watchdog(watchdog), "response")
	if err != nil {
		return resp, err
	}
	if resp.Type != MsgOK && resp.Type != MsgFail {
		return resp, types.Errorf(types.ErrKindProtocol, "response: unexpected %s", resp)
	}
	return resp, nil
}

// Roundtrip sends one command and returns its completion message after the
// acknowledgment. A FAIL response is not an error; check Message.OK.
func (s *Session) Roundtrip(typ MsgType, payload []byte, watchdog time.Duration) (Message, error) {
	if _, err := s.Send(typ, payload, watchdog); err != nil {
		return Message{}, err
	}
	return s.ReadResponse(watchdog)
}

// SendReset asks the tracer to discard the injected context.
func (s *Session) SendReset(watchdog time.Duration) (Message, error) {
	return s.Send(MsgReset, nil, watchdog)
}

// SendSetContext injects ctx as the input of the next execution.
func (s *Session) SendSetContext(ctx *iovec.Context, watchdog time.Duration) (Message, error) {
	payload, err := ctx.MarshalBinary()
	if err != nil {
		return Message{}, err
	}
	return s.Send(MsgSetCtx, payload, watchdog)
}

// SendExecute runs the target function once under the injected context.
func (s *Session) SendExecute(watchdog time.Duration) (Message, error) {
	return s.Send(MsgExecute, nil, watchdog)
}

// SendSetTarget selects the function to drive, by address or symbol name.
func (s *Session) SendSetTarget(target string, watchdog time.Duration) (Message, error) {
	return s.Send(MsgSetTarget, []byte(NormalizeTarget(target)), watchdog)
}

// Exit asks the tracer to shut down, waits up to watchdog for it to do so and
// then stops the session.
func (s *Session) Exit(watchdog time.Duration) error {
	_, err := s.Send(MsgExit, nil, watchdog)
	if err == nil {
		s.mu.Lock()
		exited := s.exited
		s.mu.Unlock()
		t := time.NewTimer(s.watchdog(watchdog))
		select {
		case <-exited:
		case <-t.C:
		}
		t.Stop()
	}
	return errors.Join(err, s.Stop())
}

// Stop kills the tracer if it is alive and releases its pipes. It is safe to
// call in any state and more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil {
		s.state = StateNotRunning
		s.mu.Unlock()
		return nil
	}
	if s.runtime != nil {
		s.runtime.Stop()
		s.runtime = nil
	}
	stdin, stdout, done, exited := s.stdin, s.stdout, s.done, s.exited
	s.cmd, s.stdin, s.stdout, s.msgs = nil, nil, nil, nil
	s.mu.Unlock()

	close(done)
	stdin.Close()
	var err error
	select {
	case <-exited:
	default:
		if kerr := killProcessGroup(cmd.Process); kerr != nil {
			err = fmt.Errorf("session %s: kill tracer: %w", s.id, kerr)
		}
	}
	<-exited
	stdout.Close()

	s.mu.Lock()
	s.state = StateNotRunning
	s.mu.Unlock()
	s.log.Debug("tracer stopped")
	return err
}
