package logging

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Sink is an append-only channel of human-readable diagnostic lines. Git
// command output and errors raised while tunneling traffic end up here.
type Sink interface {
	Printf(format string, a ...any)
	Errorf(format string, a ...any)
}

// BuildLog is the default Sink. Every line is written to out and mirrored to
// the structured logger. It is safe for concurrent use.
type BuildLog struct {
	mu     sync.Mutex
	out    io.Writer
	log    *Logger
	errors []string
}

func NewBuildLog(out io.Writer, log *Logger) *BuildLog {
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = NewNop()
	}
	return &BuildLog{out: out, log: log}
}

func (b *BuildLog) Printf(format string, a ...any) {
	b.write("", fmt.Sprintf(format, a...))
}

// Errorf writes an error entry. Error entries are also kept so callers can
// surface them after an operation failed.
func (b *BuildLog) Errorf(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	b.mu.Lock()
	b.errors = append(b.errors, msg)
	b.mu.Unlock()
	b.write("error: ", msg)
}

// Errors returns the error entries written so far.
func (b *BuildLog) Errors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.errors...)
}

func (b *BuildLog) write(prefix, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		fmt.Fprintf(b.out, "%s%s\n", prefix, line)
		if prefix != "" {
			b.log.Warnf("%s", line)
		} else {
			b.log.Debugf("%s", line)
		}
	}
}

// Writer returns an io.Writer that forwards every complete line to the sink.
// The returned function flushes a trailing partial line and must be called
// once the writer is no longer used.
func Writer(s Sink) (io.Writer, func()) {
	pr, pw := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			s.Printf("%s", scanner.Text())
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	return pw, func() {
		_ = pw.Close()
		<-done
	}
}

type discard struct{}

func (discard) Printf(string, ...any) {}
func (discard) Errorf(string, ...any) {}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}
