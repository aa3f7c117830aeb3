package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/pipeline"
)

// serveReadChunkBytes bounds how much raw PCM16 audio is read from stdin
// per loop iteration before being handed to the analysis window.
const serveReadChunkBytes = 4096

// ServeCommand runs the live pipeline against a raw PCM16LE mono stream on
// stdin until cancelled. Capturing from an actual audio device is out of
// scope (spec.md §1's "Live audio capture backends"); serve is the thin
// end of that interface, reading bytes a capture process upstream of it
// would otherwise produce.
func ServeCommand(settings *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live detection pipeline, reading PCM16LE audio from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
			go func() {
				sig := <-sigChan
				fmt.Printf("\nreceived signal %v, shutting down...\n", sig)
				cancel()
			}()

			return runServe(ctx, settings, os.Stdin)
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func runServe(ctx context.Context, settings *config.Settings, audio io.Reader) error {
	p, err := pipeline.New(pipeline.Options{Settings: settings})
	if err != nil {
		return err
	}
	defer p.Close()

	p.Start(ctx)
	defer p.Stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if settings.Metrics.Enabled {
		server := &http.Server{Addr: settings.Metrics.Addr, Handler: p.MetricsHandler()}
		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return server.Shutdown(context.Background())
		})
	}

	group.Go(func() error {
		return readAudioLoop(groupCtx, audio, p)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readAudioLoop(ctx context.Context, audio io.Reader, p *pipeline.Pipeline) error {
	buf := make([]byte, serveReadChunkBytes)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := audio.Read(buf)
		if n > 0 {
			p.ProcessChunk(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading audio stream: %w", err)
		}
	}
}
