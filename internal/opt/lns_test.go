package opt

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facloc/internal/cflp"
)

// packTwo: facility 0 is cheaper for every customer but holds only two of them.
func packTwo() *cflp.Instance {
	return &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 10, OpeningCost: 5}, {Capacity: 10, OpeningCost: 1}},
		CustomerDemands: []float64{4, 4, 4},
		AssignmentCosts: [][]float64{{1, 2, 3}, {10, 20, 30}},
		Timeout:         1,
	}
}

// randomInstance leaves every facility room for any customer even when all
// others are packed, so construction and repair always succeed.
func randomInstance(seed int64, nf, nc int) *cflp.Instance {
	rng := rand.New(rand.NewSource(seed))
	in := &cflp.Instance{Timeout: 5}
	total := 0.0
	for c := 0; c < nc; c++ {
		d := float64(1 + rng.Intn(20))
		in.CustomerDemands = append(in.CustomerDemands, d)
		total += d
	}
	per := 2*total/float64(nf) + 20
	for f := 0; f < nf; f++ {
		in.Facilities = append(in.Facilities, cflp.Facility{
			Capacity:    per * (1 + 0.2*rng.Float64()),
			OpeningCost: float64(50 + rng.Intn(200)),
		})
		row := make([]float64, nc)
		for c := range row {
			row[c] = float64(1 + rng.Intn(100))
		}
		in.AssignmentCosts = append(in.AssignmentCosts, row)
	}
	return in
}

func iterationConfig(n int) Config {
	cfg := DefaultConfig()
	cfg.MaxIterations = n
	cfg.TimeLimitSec = 30
	return cfg
}

func TestConstructPacksCheapestFirst(t *testing.T) {
	in := packTwo()
	sol, err := Construct(in)
	require.NoError(t, err)
	assert.Equal(t, cflp.Solution{0, 0, 1}, sol)
	assert.True(t, cflp.Feasible(in, sol))
	assert.InDelta(t, 5+1+1+2+30, cflp.Cost(in, sol), 1e-9)
}

func TestConstructInfeasibleInstance(t *testing.T) {
	in := &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 10, OpeningCost: 1}, {Capacity: 8, OpeningCost: 1}},
		CustomerDemands: []float64{11},
		AssignmentCosts: [][]float64{{1}, {1}},
		Timeout:         1,
	}
	require.True(t, cflp.IsInfeasible(in))
	_, err := Construct(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstructionInfeasible))
	assert.True(t, errors.Is(err, cflp.ErrInfeasibleInstance))

	s, err := New(DefaultConfig(), 1)
	require.NoError(t, err)
	_, err = s.Solve(context.Background(), in)
	assert.True(t, errors.Is(err, ErrConstructionInfeasible))
}

func TestFacilityDestroyAllThenRepair(t *testing.T) {
	in := randomInstance(3, 6, 40)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)
	before := st.assign.Clone()

	rng := rand.New(rand.NewSource(9))
	partial := destroyFacilities(st, 1.0, rng)
	assert.Len(t, partial.unassigned(), in.NumCustomers())
	assert.Equal(t, before, st.assign, "destroy must not touch its input")

	res := repair(partial.clone(), order, nil, DefaultConfig().RepairTopK, rng)
	require.True(t, res.ok(), "repair: %v", res.err)
	assert.True(t, cflp.Feasible(in, res.st.assign))
	require.NoError(t, res.st.verify())
}

func TestDestroyCounts(t *testing.T) {
	in := randomInstance(4, 5, 20)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	assert.Len(t, destroyRandom(st, 0.21, rng).unassigned(), 5)
	assert.Len(t, destroyExpensive(st, 0.21).unassigned(), 4)
	assert.Len(t, destroyRandom(st, 0, rng).unassigned(), 0)
	assert.Empty(t, st.unassigned())

	exp := destroyExpensive(st, 0.1)
	var minRemoved float64 = -1
	for _, c := range exp.unassigned() {
		if cost := st.assignCost(c); minRemoved < 0 || cost < minRemoved {
			minRemoved = cost
		}
	}
	for c, f := range exp.assign {
		if f >= 0 {
			assert.LessOrEqual(t, st.assignCost(c), minRemoved)
		}
	}
}

func TestRepairRespectsForbidden(t *testing.T) {
	in := randomInstance(5, 6, 30)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)

	forbidden := make([]bool, in.NumFacilities())
	for f, u := range st.usage {
		if u > 0 && f != 0 {
			forbidden[f] = true
			break
		}
	}
	res := repair(st.clone(), order, forbidden, 3, rand.New(rand.NewSource(2)))
	require.True(t, res.ok(), "repair: %v", res.err)
	for c, f := range res.st.assign {
		assert.False(t, forbidden[f], "customer %d on forbidden facility %d", c, f)
	}
	assert.True(t, cflp.Feasible(in, res.st.assign))
}

func TestRepairReportsInfeasible(t *testing.T) {
	in := packTwo()
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)

	res := repair(st.clone(), order, []bool{true, true}, 2, rand.New(rand.NewSource(1)))
	require.False(t, res.ok())
	assert.True(t, errors.Is(res.err, ErrRepairInfeasible))
	assert.Nil(t, res.st)
}

func TestAccountingHasNoDrift(t *testing.T) {
	in := randomInstance(6, 8, 60)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(6))

	for i := 0; i < 50; i++ {
		op := destroyOp(rng.Intn(int(numDestroyOps)))
		res := repair(destroy(op, st, 0.3, rng), order, nil, 5, rng)
		require.True(t, res.ok())
		st = res.st
		localImprove(st, order, 1, 10)
		swapImprove(st, 20, 50, rng)
		require.NoError(t, st.verify(), "iteration %d", i)
	}
}

func TestSwapKeepsOpenFacilities(t *testing.T) {
	in := randomInstance(7, 8, 60)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)
	open := st.openSet()
	cost := cflp.Cost(in, st.assign)

	swaps := swapImprove(st, 100, 2000, rand.New(rand.NewSource(7)))
	assert.Equal(t, open, st.openSet())
	assert.LessOrEqual(t, cflp.Cost(in, st.assign), cost)
	assert.True(t, cflp.Feasible(in, st.assign))
	require.NoError(t, st.verify())
	t.Logf("%d swaps", swaps)
}

func TestLocalImproveReachesFixedPoint(t *testing.T) {
	in := randomInstance(8, 8, 60)
	order := newFacilityOrder(in)
	st, err := construct(in, order)
	require.NoError(t, err)
	cost := cflp.Cost(in, st.assign)

	for i := 0; i < 100 && localImprove(st, order, 5, in.NumFacilities()) > 0; i++ {
	}
	improved := cflp.Cost(in, st.assign)
	assert.LessOrEqual(t, improved, cost)

	snapshot := st.assign.Clone()
	assert.Zero(t, localImprove(st, order, 5, in.NumFacilities()))
	assert.Equal(t, snapshot, st.assign)
	assert.True(t, cflp.Feasible(in, st.assign))
}

func TestLocalImproveClosesFacility(t *testing.T) {
	// Customer 1 alone keeps facility 1 open; moving it to 0 saves 50 opening.
	in := &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 10, OpeningCost: 1}, {Capacity: 10, OpeningCost: 50}},
		CustomerDemands: []float64{2, 2},
		AssignmentCosts: [][]float64{{1, 5}, {9, 1}},
		Timeout:         1,
	}
	st, err := stateFrom(in, cflp.Solution{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, localImprove(st, newFacilityOrder(in), 1, 2))
	assert.Equal(t, cflp.Solution{0, 0}, st.assign)
}

func TestClosuresKeepOneFacilityOpen(t *testing.T) {
	in := randomInstance(10, 10, 30)
	st, err := construct(in, newFacilityOrder(in))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxClosureFraction = 1
	s, err := New(cfg, 10)
	require.NoError(t, err)

	assert.Nil(t, s.closures(st, 0))
	closed := s.closures(st, 1)
	open := 0
	for f, u := range st.usage {
		if u > 0 && (closed == nil || !closed[f]) {
			open++
		}
	}
	assert.Positive(t, open)
}

func TestDestroyRange(t *testing.T) {
	cfg := DefaultConfig()
	lo, hi := cfg.destroyRange(500, 0)
	assert.InDelta(t, 0.1, lo, 1e-12)
	assert.InDelta(t, 0.3, hi, 1e-12)

	_, hi = cfg.destroyRange(10, 0)
	assert.InDelta(t, 0.45, hi, 1e-12)

	lo, hi = cfg.destroyRange(5000, 0)
	assert.InDelta(t, 0.05, lo, 1e-12)
	assert.InDelta(t, 0.15, hi, 1e-12)

	lo, hi = cfg.destroyRange(500, 1)
	assert.InDelta(t, 0.05, lo, 1e-12)
	assert.InDelta(t, 0.15, hi, 1e-12)
}

func TestSolveImprovesMonotonically(t *testing.T) {
	in := randomInstance(11, 10, 80)
	s, err := New(iterationConfig(300), 11)
	require.NoError(t, err)
	var seen []float64
	s.OnImprove = func(p Progress) { seen = append(seen, p.BestCost) }

	res, err := s.Solve(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, cflp.Feasible(in, res.Solution))
	assert.InDelta(t, cflp.Cost(in, res.Solution), res.Cost, 1e-6)
	assert.LessOrEqual(t, res.Cost, res.Metrics.InitialCost)
	assert.Equal(t, 300, res.Metrics.Iterations)
	assert.Equal(t, "iterations", res.Metrics.StoppedBy)
	assert.Equal(t, len(seen), res.Metrics.Improvements)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i], seen[i-1])
	}
	assert.Len(t, res.Metrics.Snapshots, 300/DefaultConfig().SnapshotEvery)
}

func TestSolveIsReproducible(t *testing.T) {
	in := randomInstance(12, 8, 50)
	run := func() Result {
		s, err := New(iterationConfig(150), 42)
		require.NoError(t, err)
		res, err := s.Solve(context.Background(), in)
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Solution, b.Solution)
	assert.Equal(t, a.Cost, b.Cost)
	assert.Equal(t, a.Metrics.Improvements, b.Metrics.Improvements)
}

func TestSolveZeroTimeoutReturnsConstruction(t *testing.T) {
	in := packTwo()
	in.Timeout = 0
	s, err := New(DefaultConfig(), 1)
	require.NoError(t, err)
	res, err := s.Solve(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, res.Metrics.Iterations)
	assert.Equal(t, cflp.Solution{0, 0, 1}, res.Solution)
}

func TestSolveStopsOnCancel(t *testing.T) {
	in := randomInstance(13, 5, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := New(DefaultConfig(), 1)
	require.NoError(t, err)
	res, err := s.Solve(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "context", res.Metrics.StoppedBy)
	assert.True(t, cflp.Feasible(in, res.Solution))
}

func TestSolveFromWarmStart(t *testing.T) {
	in := packTwo()
	s, err := New(iterationConfig(50), 3)
	require.NoError(t, err)
	res, err := s.SolveFrom(context.Background(), in, cflp.Solution{1, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 5+1+10+20+3, res.Metrics.InitialCost, 1e-9)
	assert.LessOrEqual(t, res.Cost, res.Metrics.InitialCost)

	_, err = s.SolveFrom(context.Background(), in, cflp.Solution{0, 0, 0})
	assert.True(t, errors.Is(err, cflp.ErrSolutionInfeasible))
}

func TestOptimize(t *testing.T) {
	in := randomInstance(14, 4, 12)
	in.Timeout = 0.05
	sol, err := Optimize(context.Background(), in, 7)
	require.NoError(t, err)
	assert.True(t, cflp.Feasible(in, sol))
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg, err := DefaultConfig().Override(map[string]any{"cooling": 0.9, "repairTopK": 4})
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Cooling)
	assert.Equal(t, 4, cfg.RepairTopK)

	_, err = DefaultConfig().Override(map[string]any{"nope": 1})
	assert.Error(t, err)
	_, err = DefaultConfig().Override(map[string]any{"cooling": 1.5})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "solver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initialTemp: 50\nswapMoves: 0\n"), 0o600))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.InitialTemp)
	assert.Zero(t, cfg.SwapMoves)
	assert.Equal(t, DefaultConfig().LocalTopK, cfg.LocalTopK)
}

func TestMetricsStore(t *testing.T) {
	RecordMetrics("acme", "inst-1", Metrics{Iterations: 3})
	RecordMetrics("acme", "inst-2", Metrics{Iterations: 5})
	RecordMetrics("other", "inst-1", Metrics{Iterations: 7})
	got := GetMetrics("acme")
	assert.Len(t, got, 2)
	assert.Equal(t, 5, got["inst-2"].Iterations)
}

// tightFractional fills facility 0 exactly; summing its demands in index
// order gives 20.200000000000003.
func tightFractional() *cflp.Instance {
	return &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 20.2, OpeningCost: 1}, {Capacity: 100, OpeningCost: 1000}},
		CustomerDemands: []float64{4.1, 2.3, 6.9, 6.9},
		AssignmentCosts: [][]float64{{1, 1, 1, 1}, {100, 100, 100, 100}},
		Timeout:         5,
	}
}

func TestConstructAndSolveAtFractionalCapacity(t *testing.T) {
	in := tightFractional()
	sol, err := Construct(in)
	require.NoError(t, err)
	assert.Equal(t, cflp.Solution{0, 0, 0, 0}, sol)
	require.NoError(t, cflp.Check(in, sol))

	s, err := New(iterationConfig(200), 5)
	require.NoError(t, err)
	res, err := s.Solve(context.Background(), in)
	require.NoError(t, err)
	assert.NoError(t, cflp.Check(in, res.Solution))
	assert.InDelta(t, 5, res.Cost, 1e-9)
}

// tightIntegral packs eight equal demands into four facilities with no spare
// room, so closing any facility leaves repair nowhere to put its customers.
func tightIntegral() *cflp.Instance {
	in := &cflp.Instance{Timeout: 5}
	for c := 0; c < 8; c++ {
		in.CustomerDemands = append(in.CustomerDemands, 5)
	}
	for f := 0; f < 4; f++ {
		in.Facilities = append(in.Facilities, cflp.Facility{Capacity: 10, OpeningCost: float64(10 * (f + 1))})
		row := make([]float64, 8)
		for c := range row {
			row[c] = float64(1 + (c+f)%4)
		}
		in.AssignmentCosts = append(in.AssignmentCosts, row)
	}
	return in
}

func TestSolveRetriesRepairWithoutClosures(t *testing.T) {
	in := tightIntegral()
	require.False(t, cflp.IsInfeasible(in))
	cfg := iterationConfig(500)
	cfg.MaxClosureFraction = 1
	s, err := New(cfg, 17)
	require.NoError(t, err)

	res, err := s.Solve(context.Background(), in)
	require.NoError(t, err)
	assert.Positive(t, res.Metrics.ClosedTotal)
	assert.Positive(t, res.Metrics.RepairRetries)
	assert.NoError(t, cflp.Check(in, res.Solution))
	assert.Equal(t, 500, res.Metrics.Iterations)
}

func TestSolveFailsWhenRepairCannotPlace(t *testing.T) {
	// Repair with top-1 lists puts the first 3 into the 4-unit facility and
	// strands the last 2; only {3,3} {2,2} fits.
	in := &cflp.Instance{
		Facilities:      []cflp.Facility{{Capacity: 6, OpeningCost: 1}, {Capacity: 4, OpeningCost: 1}},
		CustomerDemands: []float64{3, 3, 2, 2},
		AssignmentCosts: [][]float64{{5, 5, 5, 5}, {1, 1, 1, 1}},
		Timeout:         5,
	}
	cfg := iterationConfig(200)
	cfg.RepairTopK = 1
	cfg.DestroyMin, cfg.DestroyMax, cfg.DestroyShrink = 0.9, 0.9, 0
	s, err := New(cfg, 23)
	require.NoError(t, err)

	res, err := s.SolveFrom(context.Background(), in, cflp.Solution{0, 0, 1, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRepairInfeasible))
	assert.Nil(t, res.Solution)
}

func TestSolveAcceptsWorseAtHighTemperature(t *testing.T) {
	in := randomInstance(19, 8, 50)
	cfg := iterationConfig(300)
	cfg.InitialTemp = 1e6
	cfg.Cooling = 0.9999
	s, err := New(cfg, 19)
	require.NoError(t, err)
	var seen []float64
	s.OnImprove = func(p Progress) { seen = append(seen, p.BestCost) }

	res, err := s.Solve(context.Background(), in)
	require.NoError(t, err)
	assert.Positive(t, res.Metrics.AcceptedWorse)
	assert.GreaterOrEqual(t, res.Metrics.FinalCost, res.Cost)
	assert.LessOrEqual(t, res.Cost, res.Metrics.InitialCost)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i], seen[i-1])
	}
	for i := 1; i < len(res.Metrics.Snapshots); i++ {
		assert.LessOrEqual(t, res.Metrics.Snapshots[i].BestCost, res.Metrics.Snapshots[i-1].BestCost)
	}
	assert.True(t, cflp.Feasible(in, res.Solution))
}
