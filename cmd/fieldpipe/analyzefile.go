package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/pipeline"
	"github.com/tphakala/fieldpipe/internal/ringbuf"
)

const analyzeFileDecodeStepSamples = 4096

// AnalyzeFileCommand decodes a WAV file and runs it once through the full
// pipeline, instead of reading a live PCM16LE stream from stdin the way
// serve does.
func AnalyzeFileCommand(settings *config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze-file [input.wav]",
		Short: "Run a single WAV file through the detection pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
			go func() {
				sig := <-sigChan
				fmt.Printf("\nreceived signal %v, initiating graceful shutdown...\n", sig)
				cancel()
			}()

			return runAnalyzeFile(ctx, settings, args[0])
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func runAnalyzeFile(ctx context.Context, settings *config.Settings, path string) error {
	p, err := pipeline.New(pipeline.Options{Settings: settings})
	if err != nil {
		return err
	}
	defer p.Close()

	p.Start(ctx)
	defer p.Stop()

	if err := decodeWAVIntoPipeline(ctx, path, p); err != nil {
		return fmt.Errorf("analyzing %s: %w", path, err)
	}
	return nil
}

// decodeWAVIntoPipeline reads path as a PCM WAV file and replays it through
// p.ProcessChunk in PCM16 chunks, regardless of the file's own bit depth.
func decodeWAVIntoPipeline(ctx context.Context, path string, p *pipeline.Pipeline) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return fmt.Errorf("not a valid WAV file")
	}

	divisor, err := pcmDivisor(decoder.BitDepth)
	if err != nil {
		return err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, analyzeFileDecodeStepSamples),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: 1},
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("decoding PCM buffer: %w", err)
		}
		if n == 0 {
			return nil
		}

		samples := make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = float32(buf.Data[i]) / divisor
		}
		p.ProcessChunk(ringbuf.Float32ToPCM16(samples))
	}
}

func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported WAV bit depth %d", bitDepth)
	}
}
