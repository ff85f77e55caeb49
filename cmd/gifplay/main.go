// Command gifplay plays an animated GIF through an animgif.Registry and
// reports what the registry delivered. It doubles as a profiling harness
// for the fetch, decode, and frame preload paths.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	nethttp "net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/felixge/fgprof"

	"github.com/meigma/animgif"
	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/driver"
	"github.com/meigma/animgif/fetch"
	gifhttp "github.com/meigma/animgif/http"
	"github.com/meigma/animgif/oci"
)

const localURL = "local"

type config struct {
	url          string
	width        int
	height       int
	fit          decode.FitMode
	loops        int
	window       int
	duration     time.Duration
	fps          int
	localFrames  int
	outDir       string
	fgProfile    string
	cpuProfile   string
	memProfile   string
	traceFile    string
	pprofAddr    string
	httpLatency  time.Duration
	httpBPS      int64
	plainHTTP    bool
	dockerConfig bool
	verbose      bool
}

type playStats struct {
	frames  int
	loops   int
	saved   int
	state   animgif.State
	elapsed time.Duration
	err     error
}

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.pprofAddr != "" {
		go func() {
			logger.Info("pprof listening", slog.String("addr", cfg.pprofAddr))
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := nethttp.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				logger.Error("pprof server error", slog.Any("error", err))
			}
		}()
	}

	if cfg.url == localURL {
		url, stop, serveErr := serveDemo(cfg.localFrames)
		if serveErr != nil {
			log.Fatal(serveErr)
		}
		defer stop()
		cfg.url = url
	}

	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr) //nolint:gocritic // exitAfterDefer is intentional
		}
		stopFG := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				logger.Error("fgprof stop error", slog.Any("error", err))
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := play(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("url=%s size=%dx%d state=%s frames=%d loops=%d saved=%d elapsed=%s fps=%.1f\n",
		cfg.url,
		cfg.width, cfg.height,
		stats.state,
		stats.frames,
		stats.loops,
		stats.saved,
		stats.elapsed,
		float64(stats.frames)/stats.elapsed.Seconds(),
	)
	if stats.err != nil {
		fmt.Printf("error=%v\n", stats.err)
	}
}

func parseFlags(args []string) (config, error) {
	var cfg config
	var fit, bps string

	fs := flag.NewFlagSet("gifplay", flag.ContinueOnError)
	fs.StringVar(&cfg.url, "url", localURL, "image URL (http, https, oci, file) or \"local\" for a generated animation")
	fs.IntVar(&cfg.width, "width", 0, "target width in pixels (0 keeps aspect ratio)")
	fs.IntVar(&cfg.height, "height", 0, "target height in pixels (0 keeps aspect ratio)")
	fs.StringVar(&fit, "fit", "contain", "fit mode: contain, fill, stretch, none")
	fs.IntVar(&cfg.loops, "loops", 0, "loop count override (0 uses the image's own count)")
	fs.IntVar(&cfg.window, "window", animgif.DefaultPreloadWindow, "frames decoded ahead of the current frame")
	fs.DurationVar(&cfg.duration, "duration", 10*time.Second, "maximum play time")
	fs.IntVar(&cfg.fps, "fps", driver.DefaultRefreshRate, "display refresh rate")
	fs.IntVar(&cfg.localFrames, "local-frames", 24, "frame count of the generated animation")
	fs.StringVar(&cfg.outDir, "out", "", "write every displayed frame as PNG to this directory")
	fs.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof profile to file")
	fs.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	fs.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	fs.StringVar(&cfg.traceFile, "trace", "", "write execution trace to file")
	fs.StringVar(&cfg.pprofAddr, "pprof-addr", "", "serve pprof on this address")
	fs.DurationVar(&cfg.httpLatency, "http-latency", 0, "simulated latency per HTTP request")
	fs.StringVar(&bps, "http-bps", "", "simulated HTTP bandwidth, e.g. 512k or 2MBps")
	fs.BoolVar(&cfg.plainHTTP, "plain-http", false, "use plain HTTP for OCI registries")
	fs.BoolVar(&cfg.dockerConfig, "docker-config", false, "authenticate OCI registries with the docker config")
	fs.BoolVar(&cfg.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	mode, err := decode.ParseFitMode(fit)
	if err != nil {
		return config{}, err
	}
	cfg.fit = mode

	if bps != "" {
		cfg.httpBPS, err = parseBytesPerSecond(bps)
		if err != nil {
			return config{}, err
		}
	}
	if cfg.fps <= 0 {
		return config{}, fmt.Errorf("fps must be positive, got %d", cfg.fps)
	}
	if cfg.duration <= 0 {
		return config{}, errors.New("duration must be positive")
	}
	return cfg, nil
}

// newFetcher routes every supported scheme to its fetcher.
func newFetcher(cfg config, logger *slog.Logger) fetch.Fetcher {
	web := gifhttp.New(
		gifhttp.WithClient(newHTTPClient(cfg)),
		gifhttp.WithLogger(logger),
	)

	ociOpts := []oci.Option{
		oci.WithPlainHTTP(cfg.plainHTTP),
		oci.WithLogger(logger),
	}
	if cfg.dockerConfig {
		ociOpts = append(ociOpts, oci.WithDockerConfig())
	}

	mux := fetch.NewMux()
	mux.Handle("http", web)
	mux.Handle("https", web)
	mux.Handle(oci.Scheme, oci.New(ociOpts...))
	mux.Handle("file", fetch.File)
	return mux
}

//nolint:gocognit // event fan-in is inherent to the player loop
func play(ctx context.Context, cfg config, logger *slog.Logger) (playStats, error) {
	if cfg.outDir != "" {
		if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
			return playStats{}, fmt.Errorf("create output dir: %w", err)
		}
	}

	clock := driver.NewTickerClock(cfg.fps)
	defer clock.Close()

	reg := animgif.New(
		animgif.WithFetcher(newFetcher(cfg, logger)),
		animgif.WithClock(clock),
		animgif.WithPreloadWindow(cfg.window),
		animgif.WithLoopCount(cfg.loops),
		animgif.WithLogger(logger),
	)
	defer reg.Close()

	size := animgif.Size{Width: cfg.width, Height: cfg.height}
	events := make(chan animgif.Event, 64)
	cancel := reg.Subscribe(cfg.url, func(ev animgif.Event) {
		select {
		case events <- ev:
		default:
			// The player is behind; frames are sampled, terminal events
			// are still observed through the orchestrator state.
		}
	})
	defer cancel()

	frameCh, wait := startWriter(cfg.outDir, logger)

	reg.MarkObserving(cfg.url)
	defer reg.MarkUnobserving(cfg.url)

	start := time.Now()
	reg.AcquireFit(cfg.url, size, cfg.fit)
	o, ok := reg.OrchestratorFit(cfg.url, size, cfg.fit)
	if !ok {
		return playStats{}, animgif.ErrClosed
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	var stats playStats
	save := func() {
		if frameCh == nil {
			return
		}
		if img := o.Image(); img != nil {
			frameCh <- img
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			break loop
		case <-poll.C:
			// Static images end without a terminal event.
			if o.State() == animgif.StateStill {
				break loop
			}
		case ev := <-events:
			switch ev.Kind {
			case animgif.EventStill:
				logger.Debug("still", slog.String("size", ev.Size.String()))
				save()
			case animgif.EventFrame:
				stats.frames++
				save()
			case animgif.EventLoop:
				stats.loops = ev.Loop
				logger.Debug("loop", slog.Int("loops", ev.Loop))
			case animgif.EventComplete:
				logger.Info("animation complete", slog.Int("frames", stats.frames))
				break loop
			case animgif.EventFailed:
				stats.err = ev.Err
				break loop
			}
		}
	}

	stats.elapsed = time.Since(start)
	stats.state = o.State()
	if stats.err == nil {
		stats.err = o.Err()
	}
	if frameCh != nil {
		close(frameCh)
	}
	stats.saved = wait()
	return stats, nil
}

// startWriter saves frames received on the returned channel as numbered
// PNG files. The wait function returns how many were written. Both results
// are nil when dir is empty.
func startWriter(dir string, logger *slog.Logger) (chan<- image.Image, func() int) {
	if dir == "" {
		return nil, func() int { return 0 }
	}

	ch := make(chan image.Image, 16)
	var wg sync.WaitGroup
	saved := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for img := range ch {
			name := filepath.Join(dir, fmt.Sprintf("frame-%05d.png", saved))
			if err := imaging.Save(img, name); err != nil {
				logger.Error("save frame", slog.String("path", name), slog.Any("error", err))
				continue
			}
			saved++
		}
	}()
	return ch, func() int {
		wg.Wait()
		return saved
	}
}
