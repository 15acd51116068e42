package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/BoxHalo/exchange"
	"github.com/notargets/BoxHalo/partitions"
)

func TestParsePeriodic(t *testing.T) {
	p, err := parsePeriodic("xz", true)
	require.NoError(t, err)
	assert.Equal(t, [3]bool{true, false, true}, p)

	_, err = parsePeriodic("z", false)
	assert.Error(t, err)
	_, err = parsePeriodic("w", true)
	assert.Error(t, err)

	p, err = parsePeriodic("", false)
	require.NoError(t, err)
	assert.Equal(t, [3]bool{}, p)
}

func TestRunBenchmark(t *testing.T) {
	base := options{
		nx: 24, ny: 16, nz: 1,
		maxSize:   8,
		ranks:     3,
		ngrow:     2,
		ncomp:     2,
		iters:     3,
		corners:   true,
		periodic:  [3]bool{true, true, false},
		kind:      exchange.FillBoundary,
		strategy:  partitions.Knapsack,
		transport: "local",
	}
	for _, mutate := range []func(*options){
		func(o *options) {},
		func(o *options) { o.transport = "tcp"; o.cfg.Validate = true },
		func(o *options) { o.kind = exchange.FillPeriodic; o.corners = false },
		func(o *options) { o.nz = 8; o.periodic = [3]bool{true, false, true}; o.ngrow = 1 },
	} {
		o := base
		mutate(&o)
		require.NoError(t, o.validate())
		rep, err := runBenchmark(context.Background(), o)
		require.NoError(t, err)
		require.Len(t, rep.results, o.ranks)
		for _, r := range rep.results {
			assert.Zero(t, r.haloErrors, "rank %d transport %s kind %v", r.rank, o.transport, o.kind)
			assert.Positive(t, r.checked)
			assert.Equal(t, 1, r.cacheSize)
			assert.Equal(t, int64(o.iters), r.stats.Exchanges)
		}
		var out bytes.Buffer
		printReport(&out, o, rep)
		assert.Contains(t, out.String(), "OK")
	}
}

func TestRootCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--nx", "16", "--ny", "8", "--max-size", "4", "--ranks", "2",
		"--iters", "2", "--kind", "periodic", "--color", "off"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "domain 16x8x1")
	assert.Contains(t, out.String(), "rank   1")

	rootCmd.SetArgs([]string{"--kind", "bogus"})
	assert.Error(t, rootCmd.Execute())
}
