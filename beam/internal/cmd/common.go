package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/token-beam/token-beam/pkg/client"
)

// newLogger logs client internals to w. Only warnings and errors are shown
// unless verbose is set.
func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newClient builds a client from the persistent flags.
func newClient(cmd *cobra.Command, opts client.Options) (*client.Client, *slog.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose, cmd.ErrOrStderr())

	opts.URL, _ = cmd.Flags().GetString("url")
	opts.Logger = logger
	c, err := client.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}

// signalContext ends on SIGINT or SIGTERM as well as with the command's own
// context.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// printer serialises writes from the event loop and the file watcher.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
}

func (p *printer) Out(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format+"\n", a...)
}

func (p *printer) Err(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.err, format+"\n", a...)
}

// Write copies data to stdout as is.
func (p *printer) Write(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(data)
}
