package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/comm"
	"github.com/notargets/BoxHalo/exchange"
	"github.com/notargets/BoxHalo/fab"
	"github.com/notargets/BoxHalo/geometry"
	"github.com/notargets/BoxHalo/partitions"
)

type options struct {
	nx, ny, nz int
	maxSize    int
	ranks      int
	ngrow      int
	ncomp      int
	iters      int
	corners    bool
	periodic   [box.SpaceDim]bool
	kind       exchange.Kind
	strategy   partitions.PartitionStrategy
	transport  string
	cfg        exchange.Config
}

// rankResult is what one rank reports after its exchanges
type rankResult struct {
	rank       int
	blocks     int
	elapsed    time.Duration
	cacheSize  int
	builds     int
	stats      exchange.EngineStats
	haloErrors int
	checked    int
}

type report struct {
	stats   partitions.PartitionStats
	results []rankResult
}

func runHaloPerf(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)
	colorMode, _ := cmd.Flags().GetString("color")
	if err := setupColor(colorMode); err != nil {
		return err
	}

	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	rep, err := runBenchmark(cmd.Context(), opts)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), opts, rep)
	for _, r := range rep.results {
		if r.haloErrors > 0 {
			return fmt.Errorf("rank %d: %d halo values wrong", r.rank, r.haloErrors)
		}
	}
	return nil
}

func optionsFromFlags(cmd *cobra.Command) (options, error) {
	f := cmd.Flags()
	var opts options
	opts.nx, _ = f.GetInt("nx")
	opts.ny, _ = f.GetInt("ny")
	opts.nz, _ = f.GetInt("nz")
	opts.maxSize, _ = f.GetInt("max-size")
	opts.ranks, _ = f.GetInt("ranks")
	opts.ngrow, _ = f.GetInt("ngrow")
	opts.ncomp, _ = f.GetInt("ncomp")
	opts.corners, _ = f.GetBool("corners")
	opts.transport, _ = f.GetString("transport")

	iters, _ := f.GetUint("iters")
	n, err := safecast.Conv[int](iters)
	if err != nil {
		return options{}, fmt.Errorf("--iters %d: %w", iters, err)
	}
	opts.iters = n

	periodic, _ := f.GetString("periodic")
	if opts.periodic, err = parsePeriodic(periodic, opts.nz > 1); err != nil {
		return options{}, err
	}
	kind, _ := f.GetString("kind")
	if opts.kind, err = parseKind(kind); err != nil {
		return options{}, err
	}
	strategy, _ := f.GetString("strategy")
	if opts.strategy, err = partitions.ParseStrategy(strategy); err != nil {
		return options{}, err
	}
	if path, _ := f.GetString("config"); path != "" {
		if opts.cfg, err = exchange.LoadConfig(path); err != nil {
			return options{}, err
		}
	}
	return opts, opts.validate()
}

func (o options) validate() error {
	if o.nx <= 0 || o.ny <= 0 || o.nz <= 0 {
		return fmt.Errorf("domain %dx%dx%d must be positive", o.nx, o.ny, o.nz)
	}
	if o.maxSize <= 0 || o.ranks <= 0 || o.ncomp <= 0 || o.ngrow < 0 {
		return fmt.Errorf("max-size, ranks and ncomp must be positive and ngrow non-negative")
	}
	if o.transport != "local" && o.transport != "tcp" {
		return fmt.Errorf("invalid --transport %q (local|tcp)", o.transport)
	}
	return nil
}

func parsePeriodic(axes string, threeD bool) ([box.SpaceDim]bool, error) {
	var periodic [box.SpaceDim]bool
	for _, r := range strings.ToLower(axes) {
		switch r {
		case 'x':
			periodic[0] = true
		case 'y':
			periodic[1] = true
		case 'z':
			if !threeD {
				return periodic, fmt.Errorf("z cannot be periodic in a 2D problem")
			}
			periodic[2] = true
		default:
			return periodic, fmt.Errorf("invalid periodic axis %q", r)
		}
	}
	return periodic, nil
}

func parseKind(name string) (exchange.Kind, error) {
	switch name {
	case "periodic":
		return exchange.FillPeriodic, nil
	case "boundary":
		return exchange.FillBoundary, nil
	case "sum":
		return exchange.SumPeriodic, nil
	}
	return 0, fmt.Errorf("invalid --kind %q (periodic|boundary|sum)", name)
}

func (o options) domain() (geometry.Geometry, box.IntVect) {
	domain := box.NewBox(box.Zero, box.IntVect{o.nx - 1, o.ny - 1, o.nz - 1})
	dim := 2
	if o.nz > 1 {
		dim = 3
	}
	return geometry.New(domain, o.periodic), box.GhostVect(o.ngrow, dim)
}

// runBenchmark runs the exchanges on every rank and collects their reports
func runBenchmark(ctx context.Context, o options) (report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	geom, ng := o.domain()
	ba := box.NewBoxArray(geom.Domain).MaxSize(box.Uniform(o.maxSize))
	pb := &partitions.PartitionBuilder{NumProcs: o.ranks, Strategy: o.strategy}
	dm, err := pb.Build(ba)
	if err != nil {
		return report{}, err
	}

	rep := report{stats: dm.Statistics(ba), results: make([]rankResult, o.ranks)}
	var mu sync.Mutex
	rank := func(ctx context.Context, tr comm.Transport) error {
		res, err := runRank(ctx, o, geom, ng, ba, dm, tr)
		if err != nil {
			return err
		}
		mu.Lock()
		rep.results[tr.Rank()] = res
		mu.Unlock()
		return nil
	}

	switch o.transport {
	case "tcp":
		err = runTCP(ctx, o.ranks, rank)
	default:
		err = comm.NewLocalWorld(o.ranks).Run(ctx, rank)
	}
	return rep, err
}

// runTCP connects o.ranks loopback transports and drives fn on each
func runTCP(ctx context.Context, n int, fn func(context.Context, comm.Transport) error) error {
	transports := make([]*comm.NetTransport, n)
	addrs := make([]string, n)
	defer func() {
		for _, tr := range transports {
			if tr != nil {
				tr.Close()
			}
		}
	}()
	for r := range transports {
		tr, err := comm.ListenNet(r, n, "127.0.0.1:0")
		if err != nil {
			return err
		}
		transports[r] = tr
		addrs[r] = tr.Addr()
	}
	for _, tr := range transports {
		if err := tr.Connect(ctx, addrs); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range transports {
		g.Go(func() error {
			if err := fn(gctx, tr); err != nil {
				return fmt.Errorf("rank %d: %w", tr.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runRank(ctx context.Context, o options, geom geometry.Geometry, ng box.IntVect,
	ba box.BoxArray, dm partitions.DistributionMap, tr comm.Transport) (rankResult, error) {
	mf := fab.NewMultiFab(ba, dm, tr.Rank(), o.ncomp, ng)
	xc := exchange.NewContext(o.cfg, geom, tr)

	exec := func() error {
		switch o.kind {
		case exchange.FillPeriodic:
			return xc.FillPeriodicBoundary(ctx, mf, 0, o.ncomp, o.corners)
		case exchange.SumPeriodic:
			return xc.SumPeriodicBoundary(ctx, mf, 0, o.ncomp)
		default:
			return xc.FillBoundary(ctx, mf, 0, o.ncomp, o.corners)
		}
	}

	initialize(mf)
	start := time.Now()
	for i := 0; i < o.iters; i++ {
		if o.kind == exchange.SumPeriodic {
			initialize(mf)
		}
		if err := exec(); err != nil {
			return rankResult{}, err
		}
	}
	elapsed := time.Since(start)

	res := rankResult{
		rank:      tr.Rank(),
		blocks:    len(mf.LocalIndices()),
		elapsed:   elapsed,
		cacheSize: xc.CacheSize(),
		builds:    xc.Cache().Builds(),
		stats:     xc.Stats(),
	}
	if o.kind != exchange.SumPeriodic {
		res.checked, res.haloErrors = verifyHalos(geom, mf, o.kind, o.corners)
	}
	return res, nil
}

func printReport(out io.Writer, o options, rep report) {
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)

	bold.Fprintf(out, "domain %dx%dx%d, %d blocks, %d ranks, %s, halo %d, %d comp, %d iters\n",
		o.nx, o.ny, o.nz, rep.stats.NumPartitions, o.ranks, o.strategy, o.ngrow, o.ncomp, o.iters)
	fmt.Fprintf(out, "cells per rank: min %d max %d avg %.1f (imbalance %.3f)\n",
		rep.stats.MinCells, rep.stats.MaxCells, rep.stats.AvgCells, rep.stats.Imbalance)

	for _, r := range rep.results {
		per := 0.0
		if o.iters > 0 {
			per = float64(r.elapsed.Microseconds()) / float64(o.iters)
		}
		fmt.Fprintf(out, "rank %3d: %3d blocks %9.1f us/exchange  msgs %5d  values %9d  local cells %9d  cache %d (%d builds)  ",
			r.rank, r.blocks, per, r.stats.MessagesSent, r.stats.ValuesSent, r.stats.LocalCells, r.cacheSize, r.builds)
		switch {
		case o.kind == exchange.SumPeriodic:
			fmt.Fprintln(out, "unchecked")
		case r.haloErrors == 0:
			ok.Fprintf(out, "OK (%d halo values)\n", r.checked)
		default:
			bad.Fprintf(out, "FAIL (%d of %d halo values)\n", r.haloErrors, r.checked)
		}
	}
}
