package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/goop/internal/config"
	"github.com/aretw0/goop/internal/logging"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
				// Context cancelled elsewhere
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// createLogger configures the application logger from the log section.
// Debug forces the debug level. Quiet commands (the chat loop) log nothing
// unless debug is on, so logs don't interleave with the conversation.
func createLogger(cfg config.LogConfig, debug, quiet bool) *slog.Logger {
	if quiet && !debug {
		return logging.NewNop()
	}
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	switch cfg.Format {
	case "json":
		return logging.NewJSON(os.Stderr, level)
	case "text":
		return logging.NewTerminal(os.Stderr, level, true)
	default:
		return logging.New(level)
	}
}

// NewLogger is createLogger for commands outside this package.
func NewLogger(cfg config.LogConfig, debug bool) *slog.Logger {
	return createLogger(cfg, debug, false)
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

var errInterrupted = errors.New("interrupted")

// InterruptibleReader wraps an io.Reader (like os.Stdin) and checks for a cancellation signal.
type InterruptibleReader struct {
	base   io.Reader
	cancel <-chan struct{}
}

func NewInterruptibleReader(base io.Reader, cancel <-chan struct{}) *InterruptibleReader {
	return &InterruptibleReader{
		base:   base,
		cancel: cancel,
	}
}

func (r *InterruptibleReader) Read(p []byte) (n int, err error) {
	// Check before blocking
	select {
	case <-r.cancel:
		return 0, errInterrupted
	default:
	}

	// Read (This blocks!)
	n, err = r.base.Read(p)

	// Check after returning
	select {
	case <-r.cancel:
		return 0, errInterrupted
	default:
	}
	return n, err
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errInterrupted) ||
		errors.Is(err, io.EOF)
}

// handleExecutionError maps interruptions to a clean exit.
func handleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}

func logCompletion(w io.Writer, sessionID string, err error, sig os.Signal) {
	switch {
	case err == nil:
		printSystemMessage(w, "Session '%s' saved. Bye!", sessionID)
	case !isInterrupted(err):
		return
	case sig == os.Interrupt:
		fmt.Fprintf(w, "[CTRL+C]\n")
		printSystemMessage(w, "Interrupted. Session '%s' can be resumed.", sessionID)
	case sig != nil:
		fmt.Fprintln(w)
		printSystemMessage(w, "Terminated. Session '%s' can be resumed.", sessionID)
	default:
		fmt.Fprintln(w)
		printSystemMessage(w, "Session '%s' saved. Bye!", sessionID)
	}
}
