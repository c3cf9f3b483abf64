// Package session drives one external tracer process (pin plus the binsleuth
// pintool) through its command protocol.
//
// A Session owns at most one process at a time. Commands are framed and
// written to the tracer's stdin; the tracer answers on stdout with an
// acknowledgment and then a completion message:
//
//	sess, _ := session.New(cfg)
//	if err := sess.Start(5 * time.Second); err != nil { ... }
//	defer sess.Stop()
//	resp, err := sess.Roundtrip(session.MsgSetTarget, []byte("0x401000"), time.Second)
//
// Every wait is bounded by a watchdog: a missing or mismatched message is an
// error matching types.ErrProtocol, and a process that outlives the runtime
// window passed to Start is killed and reported as types.ErrSessionTimeout.
//
// A Session is safe to Stop from another goroutine, but commands must not be
// issued concurrently; the protocol has a single outstanding request.
package session
