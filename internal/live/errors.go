package live

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive  = errors.New("session already active")
	ErrStartAborted   = errors.New("session stopped while starting")
	ErrSourceStopped  = errors.New("playback source already stopped")
	ErrEmptyChunk     = errors.New("audio chunk has no samples")
	ErrMissingDevices = errors.New("microphone, speaker and dialer are required")
)

// PermissionError reports that the microphone was denied or is unavailable.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return "microphone permission denied"
	}
	return "microphone unavailable: " + e.Err.Error()
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a failure to open or keep the remote session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransientSendFailure is a single outbound frame that could not be sent.
// It never ends the session.
type TransientSendFailure struct {
	Seq uint64
	Err error
}

func (e *TransientSendFailure) Error() string {
	return fmt.Sprintf("send frame %d: %v", e.Seq, e.Err)
}

func (e *TransientSendFailure) Unwrap() error {
	return e.Err
}

// PlaybackStopError is returned by sources asked to stop after they ended.
// The scheduler swallows it.
type PlaybackStopError struct {
	SourceID uint64
	Err      error
}

func (e *PlaybackStopError) Error() string {
	return fmt.Sprintf("stop source %d: %v", e.SourceID, e.Err)
}

func (e *PlaybackStopError) Unwrap() error {
	return e.Err
}

func asPermissionError(err error) error {
	var perr *PermissionError
	if errors.As(err, &perr) {
		return err
	}
	return &PermissionError{Err: err}
}
