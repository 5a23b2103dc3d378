package nimi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// maxLineBytes bounds how much of a single line the Demultiplexer will
// buffer before emitting it as a partial line tagged with a continuation
// marker. This bounds memory use against a misbehaving child that writes
// unterminated megabytes of output.
const maxLineBytes = 64 * 1024

// StreamKind identifies which of a child's output streams a line came from.
type StreamKind int

const (
	// Stdout is the child's standard output stream; its lines are logged
	// at debug severity.
	Stdout StreamKind = iota
	// Stderr is the child's standard error stream; its lines are logged at
	// error severity.
	Stderr
)

func (k StreamKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Demultiplexer reads lines from many children's output streams and
// forwards each, tagged with the originating service name and stream kind,
// to a single process-wide log sink — and optionally to a per-service log
// file. It never terminates the child; it only consumes.
type Demultiplexer struct {
	Log     zerolog.Logger
	LogsDir string // empty disables per-service log files

	mu    sync.Mutex
	files map[string]*os.File
}

// NewDemultiplexer constructs a Demultiplexer logging to sink, optionally
// appending raw lines under logsDir.
func NewDemultiplexer(sink zerolog.Logger, logsDir string) *Demultiplexer {
	return &Demultiplexer{Log: sink, LogsDir: logsDir, files: make(map[string]*os.File)}
}

// StartStream reads r line by line until EOF or err, emitting one tagged
// record per line to the log sink and, if a logs directory is configured,
// appending the raw line to {logs-dir}/{service}.{kind}.log. It returns
// once the stream reaches EOF or hits a read error; a read error is logged
// at error severity and does not propagate, since the child's exit status
// remains the authoritative failure signal (spec.md §4.1).
//
// No partial line is ever emitted to the sink without a continuation
// marker, and stdout/stderr of one service may interleave line-by-line but
// two services' lines never interleave within a single emitted line,
// because each call reads and emits strictly one line at a time.
func (d *Demultiplexer) StartStream(kind StreamKind, r io.Reader, service string) {
	br := bufio.NewReaderSize(r, maxLineBytes)
	target := d.Log.With().Str("service", service).Str("stream", kind.String()).Logger()

	for {
		line, continued, err := readLine(br)
		if len(line) > 0 {
			d.emit(target, kind, service, line, continued)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				target.Error().Err(err).Msg("log stream read failed")
			}
			return
		}
	}
}

func (d *Demultiplexer) emit(target zerolog.Logger, kind StreamKind, service string, line []byte, continued bool) {
	text := string(line)
	if continued {
		text += " [continued]"
	}
	switch kind {
	case Stdout:
		target.Debug().Msg(text)
	case Stderr:
		target.Error().Msg(text)
	}

	if d.LogsDir == "" {
		return
	}
	if err := d.appendRaw(service, kind, line); err != nil {
		target.Error().Err(err).Msg("failed to append to service log file")
	}
}

func (d *Demultiplexer) appendRaw(service string, kind StreamKind, line []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("%s.%s", service, kind)
	f, ok := d.files[key]
	if !ok {
		p := filepath.Join(d.LogsDir, fmt.Sprintf("%s.%s.log", service, kind))
		var err error
		f, err = os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errorf("failed to open log file %q: %w", p, err)
		}
		d.files[key] = f
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errorf("failed to append to log file: %w", err)
	}
	return nil
}

// Close releases any per-service log files opened by this Demultiplexer.
func (d *Demultiplexer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for _, f := range d.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// readLine reads a single line from br, bounded by maxLineBytes. When the
// line exceeds that bound before a newline is found, it returns the
// available prefix with continued=true; the caller should keep calling
// readLine to obtain the remainder.
func readLine(br *bufio.Reader) (line []byte, continued bool, err error) {
	frag, err := br.ReadSlice('\n')
	switch {
	case err == nil:
		return bytes.TrimRight(frag, "\r\n"), false, nil
	case errors.Is(err, bufio.ErrBufferFull):
		cp := append([]byte(nil), frag...)
		return cp, true, nil
	case errors.Is(err, io.EOF):
		if len(frag) > 0 {
			cp := append([]byte(nil), frag...)
			return cp, false, nil
		}
		return nil, false, io.EOF
	default:
		return nil, false, err
	}
}
