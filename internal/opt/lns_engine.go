package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"facloc/internal/cflp"
)

// Metrics describes one run of the search.
type Metrics struct {
	Seed           int64              `json:"seed"`
	Iterations     int                `json:"iterations"`
	Improvements   int                `json:"improvements"`
	Accepted       int                `json:"accepted"`
	AcceptedWorse  int                `json:"acceptedWorse"`
	Rejected       int                `json:"rejected"`
	RepairRetries  int                `json:"repairRetries"`
	ClosedTotal    int                `json:"closedTotal"`
	LocalMoves     int                `json:"localMoves"`
	Swaps          int                `json:"swaps"`
	DestroySelects [numDestroyOps]int `json:"destroySelects"` // random, facility, expensive
	DestroyWins    [numDestroyOps]int `json:"destroyWins"`
	InitialCost    float64            `json:"initialCost"`
	BestCost       float64            `json:"bestCost"`
	FinalCost      float64            `json:"finalCost"`
	FinalTemp      float64            `json:"finalTemp"`
	BestIteration  int                `json:"bestIteration"`
	ElapsedMs      int64              `json:"elapsedMs"`
	StoppedBy      string             `json:"stoppedBy"`
	Snapshots      []CostSnapshot     `json:"snapshots,omitempty"`
}

type CostSnapshot struct {
	Iteration   int     `json:"iteration"`
	ElapsedMs   int64   `json:"elapsedMs"`
	CurrentCost float64 `json:"currentCost"`
	BestCost    float64 `json:"bestCost"`
	Temp        float64 `json:"temp"`
}

// Progress is reported to Solver.OnImprove whenever the best solution improves.
type Progress struct {
	Iteration int           `json:"iteration"`
	BestCost  float64       `json:"bestCost"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Result struct {
	Solution cflp.Solution `json:"solution"`
	Cost     float64       `json:"cost"`
	Metrics  Metrics       `json:"metrics"`
}

// Solver runs the large neighborhood search with simulated annealing
// acceptance. A Solver is not safe for concurrent use; give every run its own.
type Solver struct {
	Cfg Config
	Rng *rand.Rand
	Log *zap.Logger
	// OnImprove is called synchronously from the search loop.
	OnImprove func(Progress)

	seed int64
}

// New validates cfg and returns a solver seeded with seed. A zero seed is
// replaced by the current time.
func New(cfg Config, seed int64) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Solver{Cfg: cfg, Rng: rand.New(rand.NewSource(seed)), Log: zap.NewNop(), seed: seed}, nil
}

// Solve builds an initial solution and improves it until the time budget
// expires, MaxIterations is reached or ctx is done. The best solution found is
// always feasible.
func (s *Solver) Solve(ctx context.Context, in *cflp.Instance) (Result, error) {
	return s.solve(ctx, in, nil)
}

// SolveFrom starts from a caller-provided feasible solution instead of the
// construction heuristic.
func (s *Solver) SolveFrom(ctx context.Context, in *cflp.Instance, start cflp.Solution) (Result, error) {
	if start == nil {
		return Result{}, errors.New("opt: nil start solution")
	}
	return s.solve(ctx, in, start)
}

func (s *Solver) solve(ctx context.Context, in *cflp.Instance, start cflp.Solution) (Result, error) {
	began := time.Now()
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if s.Rng == nil {
		return Result{}, errors.New("opt: solver has no random source")
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := s.Cfg
	budget := in.TimeBudget()
	if cfg.TimeLimitSec > 0 {
		budget = time.Duration(cfg.TimeLimitSec * float64(time.Second))
	}

	order := newFacilityOrder(in)
	var curr *state
	var err error
	if start != nil {
		if err = cflp.Check(in, start); err != nil {
			return Result{}, fmt.Errorf("start solution: %w", err)
		}
		curr, err = stateFrom(in, start)
	} else {
		curr, err = initial(in, order)
	}
	if err != nil {
		return Result{}, err
	}

	currCost := cflp.Cost(in, curr.assign)
	best, bestCost := curr.clone(), currCost
	m := Metrics{Seed: s.seed, InitialCost: currCost, BestCost: bestCost}
	temp := cfg.InitialTemp
	log.Info("search started",
		zap.Int("customers", in.NumCustomers()),
		zap.Int("facilities", in.NumFacilities()),
		zap.Duration("budget", budget),
		zap.Float64("initialCost", currCost))

	nc := in.NumCustomers()
	m.StoppedBy = "timeout"
	for nc > 0 {
		elapsed := time.Since(began)
		if elapsed >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			m.StoppedBy = "context"
			break
		}
		if cfg.MaxIterations > 0 && m.Iterations >= cfg.MaxIterations {
			m.StoppedBy = "iterations"
			break
		}
		m.Iterations++
		progress := float64(elapsed) / float64(budget)
		if cfg.MaxIterations > 0 {
			// iteration-driven runs stay reproducible for a fixed seed
			progress = float64(m.Iterations-1) / float64(cfg.MaxIterations)
		}
		late := progress > cfg.LatePhase

		lo, hi := cfg.destroyRange(nc, progress)
		ratio := lo + s.Rng.Float64()*(hi-lo)
		op := destroyOp(s.Rng.Intn(int(numDestroyOps)))
		m.DestroySelects[op]++
		partial := destroy(op, curr, ratio, s.Rng)

		closed := s.closures(partial, progress)
		m.ClosedTotal += countTrue(closed)
		res := repair(partial.clone(), order, closed, cfg.RepairTopK, s.Rng)
		if !res.ok() && closed != nil {
			m.RepairRetries++
			log.Debug("repair retry without closures", zap.Int("iteration", m.Iterations), zap.Error(res.err))
			res = repair(partial, order, nil, cfg.RepairTopK, s.Rng)
		}
		if !res.ok() {
			return Result{}, fmt.Errorf("iteration %d: %w", m.Iterations, res.err)
		}
		cand := res.st

		passes, swapMoves := cfg.LocalPasses, cfg.SwapMoves
		if late {
			passes, swapMoves = cfg.LateLocalPasses, cfg.LateSwapMoves
		}
		m.LocalMoves += localImprove(cand, order, passes, cfg.LocalTopK)
		m.Swaps += swapImprove(cand, cfg.SwapPoolSize, swapMoves, s.Rng)

		if err := cflp.Check(in, cand.assign); err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", m.Iterations, err)
		}
		newCost := cflp.Cost(in, cand.assign)
		delta := newCost - currCost
		accept := newCost < currCost
		if !accept {
			accept = s.Rng.Float64() < math.Exp(-math.Max(0, delta)/math.Max(cfg.MinTemp, temp))
			if accept {
				m.AcceptedWorse++
			}
		}
		if accept {
			m.Accepted++
			curr, currCost = cand, newCost
			if newCost < bestCost {
				best, bestCost = cand.clone(), newCost
				m.Improvements++
				m.DestroyWins[op]++
				m.BestIteration = m.Iterations
				log.Debug("new best", zap.Int("iteration", m.Iterations), zap.Float64("cost", bestCost), zap.String("destroy", op.String()))
				if s.OnImprove != nil {
					s.OnImprove(Progress{Iteration: m.Iterations, BestCost: bestCost, Elapsed: time.Since(began)})
				}
			}
		} else {
			m.Rejected++
		}
		temp = math.Max(cfg.MinTemp, temp*cfg.Cooling)

		if m.Iterations%cfg.SnapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, CostSnapshot{
				Iteration:   m.Iterations,
				ElapsedMs:   time.Since(began).Milliseconds(),
				CurrentCost: currCost,
				BestCost:    bestCost,
				Temp:        temp,
			})
		}
	}

	m.BestCost = bestCost
	m.FinalCost = currCost
	m.FinalTemp = temp
	m.ElapsedMs = time.Since(began).Milliseconds()
	log.Info("search finished",
		zap.Int("iterations", m.Iterations),
		zap.Int("improvements", m.Improvements),
		zap.Float64("bestCost", bestCost),
		zap.String("stoppedBy", m.StoppedBy),
		zap.Int64("elapsedMs", m.ElapsedMs))
	return Result{Solution: best.assign.Clone(), Cost: bestCost, Metrics: m}, nil
}

// closures picks facilities to forbid for one repair. Open facilities whose
// usage is below a threshold are candidates; the threshold and the closed
// share both grow with progress. Returns nil when nothing is closed.
func (s *Solver) closures(partial *state, progress float64) []bool {
	k := s.Cfg.MaxClosureFraction * progress
	if k <= 0 {
		return nil
	}
	open, assigned := 0, 0
	for _, u := range partial.usage {
		if u > 0 {
			open++
			assigned += u
		}
	}
	if open < 2 {
		return nil
	}
	avg := float64(assigned) / float64(open)
	threshold := math.Max(2, avg*(0.5+0.5*progress))
	var cands []int
	for f, u := range partial.usage {
		if u > 0 && float64(u) < threshold {
			cands = append(cands, f)
		}
	}
	n := int(math.Floor(k * float64(len(cands))))
	// keep at least one open facility untouched
	n = min(n, open-1)
	if n <= 0 {
		return nil
	}
	closed := make([]bool, len(partial.usage))
	for _, i := range s.Rng.Perm(len(cands))[:n] {
		closed[cands[i]] = true
	}
	return closed
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
