package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/chazu/voxgrid/pkg/engine"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/chazu/voxgrid/pkg/kernel"
	"github.com/chazu/voxgrid/pkg/kernel/sdfx"
	"github.com/chazu/voxgrid/pkg/scene"
	"github.com/chazu/voxgrid/pkg/tessellate"
	"github.com/chazu/voxgrid/pkg/voxelize"
	"github.com/chazu/voxgrid/pkg/voxelize/webgpu"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
)

// The voxgrid version number. Set at build.
var version = "v0.1.0"

// Keeps the config field names intact under garble so cli options stay
// readable.
var _ = reflect.TypeOf(config{})

type config struct {
	Scene         string        `cli:""        env:"VOXGRID_SCENE"           help:"Path to a scene script. Empty voxelizes a unit sphere."`
	CellHalfSize  float64       `cli:""        env:"VOXGRID_CELL_HALF_SIZE"  help:"Half the edge length of a grid cell, in local units."`
	Predicate     string        `cli:""        env:"VOXGRID_PREDICATE"       help:"Per-cell value (inside|surface|distance)."`
	DrawDebug     bool          `cli:""        env:"VOXGRID_DRAW_DEBUG"      help:"Voxelize every frame."`
	Backend       string        `cli:""        env:"VOXGRID_BACKEND"         help:"Dispatch backend (cpu|webgpu)."`
	MaxCells      int           `cli:",hidden" env:"VOXGRID_MAX_CELLS"       help:"Largest grid voxelized; frames needing more cells are skipped."`
	Workers       int           `cli:",hidden" env:"VOXGRID_WORKERS"         help:"CPU dispatcher worker count. Zero uses one per CPU."`
	MeshCells     int           `cli:",hidden" env:"VOXGRID_MESH_CELLS"      help:"Marching cubes resolution used to build the webgpu mesh."`
	Frames        int           `cli:""        env:"VOXGRID_FRAMES"          help:"Number of frames to run. Zero runs until interrupted."`
	FrameInterval time.Duration `cli:""        env:"VOXGRID_FRAME_INTERVAL"  help:"The duration of a frame."`
	SpinDegPerSec float64       `cli:""        env:"VOXGRID_SPIN"            help:"Rotation speed around Y, in degrees per second."`
	MetricsAddr   string        `cli:""        env:"VOXGRID_METRICS_ADDR"    help:"Listening address for Prometheus metrics. Empty disables it."`
	LogLevel      string        `cli:""        env:"VOXGRID_LOG_LEVEL"       help:"Log level (debug|info|warning|error)."`
	LogIndent     bool          `cli:""        env:"VOXGRID_LOG_INDENT"      help:"Indent logs."`
	Version       bool          `cli:""        env:"-"                       help:"Show version."`
	Help          bool          `cli:""        env:"-"                       help:"Show help."`
}

const defaultScene = `(sphere 1)`

func main() {
	conf := config{
		CellHalfSize:  voxelize.DefaultCellHalfSize,
		Predicate:     voxelize.Inside.String(),
		DrawDebug:     true,
		Backend:       "cpu",
		MeshCells:     128,
		MaxCells:      grid.DefaultMaxCells,
		FrameInterval: time.Second / 30,
		SpinDegPerSec: 45,
		MetricsAddr:   ":18191",
		LogLevel:      logs.InfoLevel.String(),
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Voxelizes a scene object every frame.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if err := run(ctx, conf); err != nil {
		logs.Fatal(err)
	}
}

func run(ctx context.Context, conf config) error {
	predicate, err := voxelize.ParsePredicate(conf.Predicate)
	if err != nil {
		return err
	}
	cfg := voxelize.Config{
		CellHalfSize: conf.CellHalfSize,
		DrawDebug:    conf.DrawDebug,
		Predicate:    predicate,
		MaxCells:     conf.MaxCells,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	k := sdfx.New(sdfx.WithMeshCells(conf.MeshCells))
	solid, err := loadScene(k, conf.Scene)
	if err != nil {
		return err
	}

	dispatcher, solid, err := newDispatcher(conf, k, solid)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	object := scene.NewObject(sceneName(conf.Scene), solid)
	stats := newFrameStats(predicate)

	v, err := voxelize.New(cfg, object, dispatcher, voxelize.WithDrawer(stats))
	if err != nil {
		return err
	}
	defer v.Close()

	logs.WithTag("version", version).
		WithTag("backend", dispatcher.Name()).
		WithTag("scene", object.Name()).
		WithTag("half_size", cfg.CellHalfSize).
		WithTag("predicate", predicate.String()).
		Info("starting voxgrid")

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if conf.MetricsAddr != "" {
		var admin http.ServeMux
		admin.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:    conf.MetricsAddr,
			Handler: metrics.HTTPHandler(&admin, metricsPathFormatter),
		}

		g.Go(func() error {
			logs.WithTag("addr", server.Addr).Info("starting metrics server")
			switch err := server.ListenAndServe(); err {
			case nil, http.ErrServerClosed:
				logs.WithTag("addr", server.Addr).Info("stopping metrics server")
				return nil
			default:
				return errors.New("metrics server stopped").
					WithTag("addr", server.Addr).
					Wrap(err)
			}
		})
		g.Go(func() error {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				logs.Warn(errors.New("shutting down the metrics server failed").
					WithTag("addr", server.Addr).
					Wrap(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stop()
		return loop(ctx, conf, object, v)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	summary, err := json.MarshalIndent(stats.summary(dispatcher.Name()), "", "  ")
	if err != nil {
		return errors.New("encoding frame summary failed").Wrap(err)
	}
	fmt.Println(string(summary))
	return nil
}

// loop spins the object and ticks the voxelizer once per frame until ctx is
// done or the configured frame count is reached.
func loop(ctx context.Context, conf config, object *scene.Object, v *voxelize.Voxelizer) error {
	ticker := time.NewTicker(conf.FrameInterval)
	defer ticker.Stop()

	start := time.Now()
	last := start

	for frame := uint64(1); conf.Frames <= 0 || frame <= uint64(conf.Frames); frame++ {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			object.Rotate([3]float64{0, conf.SpinDegPerSec * dt, 0})

			_, err := v.Tick(voxelize.FrameContext{
				Index: frame,
				Time:  now.Sub(start),
			})
			switch {
			case err == nil:
			case errors.IsType(err, voxelize.ErrTypeGeometryNotReady),
				errors.IsType(err, voxelize.ErrTypeGridTooLarge),
				errors.IsType(err, voxelize.ErrTypeDispatch):
				logs.Warn(err)
			default:
				return err
			}
		}
	}
	return nil
}

func loadScene(k kernel.Kernel, path string) (kernel.Solid, error) {
	source := defaultScene
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New("reading scene failed").
				WithTag("path", path).
				Wrap(err)
		}
		source = string(b)
	}

	solid, evalErrs, err := engine.NewEngine(k).Evaluate(source)
	if err != nil {
		return nil, errors.New("evaluating scene failed").
			WithTag("path", path).
			Wrap(err)
	}
	if len(evalErrs) != 0 {
		msgs := make([]string, 0, len(evalErrs))
		for _, e := range evalErrs {
			msgs = append(msgs, e.Error())
		}
		return nil, errors.New("scene has errors").
			WithTag("path", path).
			WithTag("errors", strings.Join(msgs, "; "))
	}
	if solid == nil {
		return nil, errors.New("scene is empty").WithTag("path", path)
	}
	return solid, nil
}

// newDispatcher builds the configured backend. The webgpu backend samples a
// triangle mesh, so the solid is tessellated for it.
func newDispatcher(conf config, k kernel.Kernel, s kernel.Solid) (voxelize.Dispatcher, kernel.Solid, error) {
	switch conf.Backend {
	case "", "cpu":
		return voxelize.NewCPUDispatcher(voxelize.WithWorkers(conf.Workers)), s, nil

	case "webgpu":
		mesh, err := tessellate.Tessellate(k, s)
		if err != nil {
			return nil, nil, err
		}
		gpu, err := webgpu.New()
		if err != nil {
			return nil, nil, err
		}
		return gpu, mesh, nil

	default:
		return nil, nil, errors.New("unknown backend").
			WithType(voxelize.ErrTypeConfig).
			WithTag("backend", conf.Backend)
	}
}

// metricsPathFormatter drops unknown paths so scans do not create series.
func metricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusNotFound || statusCode == http.StatusMethodNotAllowed {
		return ""
	}
	return path
}

func sceneName(path string) string {
	if path == "" {
		return "sphere"
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
