package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/bucketscope/internal/foldersize"
	"github.com/sydlexius/bucketscope/internal/scanner"
	"github.com/sydlexius/bucketscope/internal/storage"
)

var (
	flagSizeMaxObjects uint64
	flagSizeMaxRuntime time.Duration
	flagSizeJSON       bool
)

func init() {
	sizeCmd.Flags().Uint64Var(&flagSizeMaxObjects, "max-objects", 0, "stop after this many objects (0 uses the configured cap)")
	sizeCmd.Flags().DurationVar(&flagSizeMaxRuntime, "max-runtime", 0, "stop after this long (0 uses the configured cap)")
	sizeCmd.Flags().BoolVar(&flagSizeJSON, "json", false, "print events as JSON lines even on a terminal")
}

var sizeCmd = &cobra.Command{
	Use:   "size <bucket-id> [prefix]",
	Short: "Compute the size of a folder once and print it",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSize,
}

var errInterrupted = errors.New("scan interrupted")

func runSize(cmd *cobra.Command, args []string) error {
	bucketID := args[0]
	var prefix string
	if len(args) > 1 {
		prefix = args[1]
	}

	limits := scanner.Limits{MaxObjects: cfg.FolderSize.MaxObjects, MaxRuntime: cfg.FolderSize.MaxRuntime}
	if flagSizeMaxObjects > 0 {
		limits.MaxObjects = flagSizeMaxObjects
	}
	if flagSizeMaxRuntime > 0 {
		limits.MaxRuntime = flagSizeMaxRuntime
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	registry, err := storage.NewRegistry(cfg.Buckets, logger)
	if err != nil {
		return fmt.Errorf("building bucket registry: %w", err)
	}

	scheduler := foldersize.New(foldersize.Config{
		Parallelism:  1,
		PageInterval: cfg.FolderSize.ProgressPageInterval,
		Limits:       limits,
	}, scanner.New(registry, logger), registry, logger)
	defer scheduler.Shutdown()

	res, err := scheduler.Start(bucketID, prefix)
	if err != nil {
		return err
	}

	// Progress is dropped when the printer falls behind. Lifecycle events
	// are few and always delivered.
	events := make(chan foldersize.Event, 64)
	if _, err := scheduler.AttachListener(res.JobID, "cli", func(e foldersize.Event) error {
		if e.Type != foldersize.EventProgress {
			events <- e
			return nil
		}
		select {
		case events <- e:
		default:
		}
		return nil
	}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out, os.Stderr, flagSizeJSON || !isTerminal(out))

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			// Cancel broadcasts CANCELED, which may wait on this loop to
			// drain events.
			go scheduler.Cancel(bucketID, res.JobID) //nolint:errcheck
		case e := <-events:
			if err := r.render(e); err != nil {
				return err
			}
			if e.Terminal() {
				return exitStatus(e.Job)
			}
		}
	}
}

func exitStatus(s foldersize.Snapshot) error {
	switch s.Status {
	case foldersize.StatusFailed:
		if s.Message != nil {
			return errors.New(*s.Message)
		}
		return errors.New("scan failed")
	case foldersize.StatusCanceled:
		return errInterrupted
	default:
		return nil
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderer prints job events either as JSON lines or as a redrawn status
// line plus a human-readable summary.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	status io.Writer
	asJSON bool
	live   bool
	drawn  bool
}

func newRenderer(out io.Writer, status *os.File, asJSON bool) *renderer {
	return &renderer{
		out:    out,
		status: status,
		asJSON: asJSON,
		live:   !asJSON && term.IsTerminal(int(status.Fd())),
	}
}

func (r *renderer) render(e foldersize.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.asJSON {
		return json.NewEncoder(r.out).Encode(e)
	}
	if !e.Terminal() {
		if r.live && e.Job.Status == foldersize.StatusRunning {
			fmt.Fprintf(r.status, "\r\033[Kscanning %s: %s objects, %s",
				e.Job.Prefix, comma(e.Job.ObjectsScanned), humanize.Bytes(e.Job.TotalSizeBytes))
			r.drawn = true
		}
		return nil
	}
	if r.drawn {
		fmt.Fprint(r.status, "\r\033[K")
		r.drawn = false
	}
	return printSummary(r.out, e.Job)
}

func printSummary(w io.Writer, s foldersize.Snapshot) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "(bucket root)"
	}
	line := fmt.Sprintf("%s/%s\t%s objects\t%s (%s bytes)", s.BucketID, prefix,
		comma(s.ObjectsScanned), humanize.Bytes(s.TotalSizeBytes), comma(s.TotalSizeBytes))
	switch {
	case s.Status == foldersize.StatusFailed:
		line += "\tfailed"
	case s.Status == foldersize.StatusCanceled:
		line += "\tcanceled"
	case s.PartialReason != nil:
		line += fmt.Sprintf("\tpartial: %s", *s.PartialReason)
	}
	if s.StartedAt != nil && s.FinishedAt != nil {
		line += "\telapsed " + s.FinishedAt.Sub(*s.StartedAt).Round(time.Millisecond).String()
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func comma(n uint64) string {
	return humanize.Comma(int64(min(n, 1<<63-1)))
}
