// Command siftgpu runs the detection pipeline over one or more images
// and prints the keypoint count found in each, plus the pyramid/octave
// shape it was detected against when -v is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"siftgpu/internal/compute/cpu"
	"siftgpu/internal/logger"
	"siftgpu/internal/sift"
)

func main() {
	verbose := flag.Bool("v", false, "log debug-level pipeline progress")
	profile := flag.Bool("profile", false, "report per-stage timings")
	peakThresh := flag.Float64("peak-thresh", 0, "override PeakThresh (0 keeps the default)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: siftgpu [-v] [-profile] [-peak-thresh N] image [image ...]")
		os.Exit(2)
	}

	level := logger.InfoLevel
	if *verbose {
		level = logger.DebugLevel
	}
	log := logger.NewConsoleLogger(level)

	var opts []sift.Option
	if *peakThresh > 0 {
		opts = append(opts, sift.WithPeakThresh(*peakThresh))
	}
	if *profile {
		opts = append(opts, sift.WithProfiling(true))
	}

	backend := cpu.New(log)

	pipeline, err := sift.NewPipeline(backend, log, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "siftgpu: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	exitCode := 0
	for _, path := range flag.Args() {
		if err := run(ctx, pipeline, path); err != nil {
			fmt.Fprintf(os.Stderr, "siftgpu: %s: %v\n", path, err)
			exitCode = 1
		}
	}

	backend.Teardown()
	os.Exit(exitCode)
}

func run(ctx context.Context, pipeline *sift.Pipeline, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	img, err := sift.LoadImage(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	keypoints, err := pipeline.Keypoints(ctx, img)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	fmt.Printf("%s: %d keypoints\n", path, len(keypoints))
	return nil
}
