package main

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/pageheap"
	"github.com/joshuapare/pageheap/pageheap/central"
	"github.com/joshuapare/pageheap/pageheap/sysmem"
)

var simFlags struct {
	steps       int
	seed        uint64
	maxPages    int
	allocPct    int
	limit       uint64
	gap         uint64
	objects     bool
	verifyEvery int
	drain       bool
}

func init() {
	cmd := newSimulateCmd()
	f := cmd.Flags()
	f.IntVar(&simFlags.steps, "steps", 10000, "Number of alloc/free operations")
	f.Uint64Var(&simFlags.seed, "seed", 1, "Random seed")
	f.IntVar(&simFlags.maxPages, "max-pages", 64, "Largest span to request, in pages")
	f.IntVar(&simFlags.allocPct, "alloc-pct", 55, "Percentage of operations that allocate")
	f.Uint64Var(&simFlags.limit, "limit", 0, "Cap on simulated address space in bytes (0 = unlimited)")
	f.Uint64Var(&simFlags.gap, "gap", 0, "Unmapped bytes between chunks, so chunks never touch")
	f.BoolVar(&simFlags.objects, "objects", false, "Allocate objects through the size-class allocator instead of raw spans")
	f.IntVar(&simFlags.verifyEvery, "verify-every", 0, "Verify heap invariants every N steps (0 = only at the end)")
	f.BoolVar(&simFlags.drain, "drain", true, "Free everything at the end")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a random allocation workload over a simulated address space",
		Long: `The simulate command runs a seeded mix of allocations and frees against a
heap backed by a simulated address space, verifies the heap's invariants and
reports its counters.

Example:
  pagectl simulate --steps 50000 --max-pages 300
  pagectl simulate --config compact --gap 65536 --verify-every 100
  pagectl simulate --objects --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

type simReport struct {
	Config    string                  `json:"config"`
	Seed      uint64                  `json:"seed"`
	Steps     int                     `json:"steps"`
	Allocs    int                     `json:"allocs"`
	Frees     int                     `json:"frees"`
	Failures  int                     `json:"failures"`
	Live      int                     `json:"live"`
	Regions   int                     `json:"regions"`
	Heap      pageheap.Stats          `json:"heap"`
	Allocator *central.AllocatorStats `json:"allocator,omitempty"`
}

// workload abstracts raw spans and allocator objects so one loop drives
// both.
type workload interface {
	alloc(rng *rand.Rand) (any, error)
	free(v any) error
}

type spanWorkload struct {
	h        *pageheap.Heap
	maxPages int
}

func (w spanWorkload) alloc(rng *rand.Rand) (any, error) {
	return w.h.Alloc(uintptr(1+rng.IntN(w.maxPages)), 0)
}

func (w spanWorkload) free(v any) error {
	s := v.(*pageheap.Span)
	w.h.Free(s, s.Bytes())
	return nil
}

type objectWorkload struct {
	a *central.Allocator
}

// alloc picks sizes log-uniformly from 8 bytes to 64 KiB, so both the small
// and the large path see traffic.
func (w objectWorkload) alloc(rng *rand.Rand) (any, error) {
	size := uintptr(8) << rng.IntN(14)
	size += uintptr(rng.IntN(int(size)))
	return w.a.Malloc(size)
}

func (w objectWorkload) free(v any) error {
	return w.a.Free(v.(uintptr))
}

func runSimulate() error {
	cfg, err := heapConfig()
	if err != nil {
		return err
	}
	if simFlags.maxPages < 1 || simFlags.steps < 0 {
		return fmt.Errorf("--max-pages must be positive and --steps non-negative")
	}

	sim := sysmem.NewSim(sysmem.SimOptions{
		Limit:    uintptr(simFlags.limit),
		Gap:      uintptr(simFlags.gap),
		PageSize: cfg.PageSize(),
	})
	h, err := pageheap.New(sim, nil, &cfg)
	if err != nil {
		return err
	}

	var w workload = spanWorkload{h: h, maxPages: simFlags.maxPages}
	var alloc *central.Allocator
	if simFlags.objects {
		alloc = central.NewAllocator(h)
		w = objectWorkload{a: alloc}
	}

	rep := simReport{Config: cfg.Name, Seed: simFlags.seed, Steps: simFlags.steps}
	rng := rand.New(rand.NewPCG(simFlags.seed, simFlags.seed^0x9e3779b97f4a7c15))
	var live []any
	for step := 1; step <= simFlags.steps; step++ {
		if len(live) == 0 || rng.IntN(100) < simFlags.allocPct {
			v, err := w.alloc(rng)
			switch {
			case errors.Is(err, pageheap.ErrNoSpace):
				rep.Failures++
			case err != nil:
				return fmt.Errorf("step %d: %w", step, err)
			default:
				live = append(live, v)
				rep.Allocs++
			}
		} else {
			i := rng.IntN(len(live))
			if err := w.free(live[i]); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			rep.Frees++
		}

		if simFlags.verifyEvery > 0 && step%simFlags.verifyEvery == 0 {
			if err := h.Verify(); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		}
	}

	if simFlags.drain {
		for _, v := range live {
			if err := w.free(v); err != nil {
				return err
			}
			rep.Frees++
		}
		live = nil
		if alloc != nil {
			alloc.Flush()
		}
	}
	if err := h.Verify(); err != nil {
		return err
	}

	rep.Live = len(live)
	rep.Regions = len(sim.Regions())
	rep.Heap = h.Stats()
	if alloc != nil {
		st := alloc.Stats()
		rep.Allocator = &st
	}

	if jsonOut {
		return printJSON(rep)
	}
	printSimReport(rep)
	return nil
}

func printSimReport(rep simReport) {
	st := rep.Heap
	printInfo("\nSimulation (%s config, seed %d)\n", rep.Config, rep.Seed)
	printInfo("  Steps: %d  Allocs: %d  Frees: %d  Failures: %d\n", rep.Steps, rep.Allocs, rep.Frees, rep.Failures)
	printInfo("  Live at end: %d\n\n", rep.Live)

	printInfo("Heap:\n")
	printInfo("  Obtained from source: %s in %d chunks (%d retries)\n",
		formatBytes(st.SysBytes), rep.Regions, st.GrowRetries)
	printInfo("  In-use pages: %d\n", st.InusePages)
	printInfo("  Free: %d pages in %d spans (%d on the best-fit list)\n", st.FreePages, st.FreeSpans, st.LargeSpans)
	printInfo("  Splits: %d  Coalesced: %d backward, %d forward\n",
		st.Splits, st.CoalesceBackward, st.CoalesceForward)
	printInfo("  Span descriptors: %d\n", st.SpanDescriptors)

	if a := rep.Allocator; a != nil {
		printInfo("\nObjects:\n")
		printInfo("  Small: %d allocs, %d frees (%d refills, %d flushes)\n",
			a.SmallAllocs, a.SmallFrees, a.Refills, a.Flushes)
		printInfo("  Large: %d allocs, %d frees\n", a.LargeAllocs, a.LargeFrees)
	}
	printInfo("\nInvariants: ok\n")
}
