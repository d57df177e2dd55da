package main

import (
	"fmt"
	"strings"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kernkit/cpu"
	"github.com/joshuapare/kernkit/kernel"
	"github.com/joshuapare/kernkit/mem/frame"
	"github.com/joshuapare/kernkit/mem/heap"
)

var (
	exerciseRounds int
	exerciseTasks  int
	exerciseMax    int
)

func init() {
	cmd := newExerciseCmd()
	cmd.Flags().IntVar(&exerciseRounds, "rounds", 256, "Frame allocator operations")
	cmd.Flags().IntVar(&exerciseTasks, "tasks", 4, "Tasks to spawn and run")
	cmd.Flags().IntVar(&exerciseMax, "max-order", 6, "Largest block order requested")
	rootCmd.AddCommand(cmd)
}

func newExerciseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "Run an allocation and scheduling workload",
		Long: `The exercise command boots the core, churns the frame allocator with
random block sizes, fills and drains every heap class, then runs a set of
tasks alternating between ring 0 and ring 3. Allocator invariants are checked
after each phase.

Example:
  kernctl exercise
  kernctl exercise --rounds 4096 --tasks 3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExercise()
		},
	}
	return cmd
}

// ExerciseReport is the JSON form of an exercise run.
type ExerciseReport struct {
	Allocs       int          `json:"frame_allocs"`
	Failed       int          `json:"frame_alloc_failures"`
	PeakFrames   uint64       `json:"peak_frames_held"`
	FreeBefore   uint64       `json:"free_frames_before"`
	FreeAfter    uint64       `json:"free_frames_after"`
	HeapSlots    int          `json:"heap_slots_cycled"`
	Tasks        []TaskResult `json:"tasks"`
	Switches     int          `json:"switches"`
	RootLoads    int          `json:"root_loads"`
	ChecksPassed bool         `json:"checks_passed"`
}

// TaskResult records what a task observed while running.
type TaskResult struct {
	ID    uint64 `json:"id"`
	Ring  int    `json:"ring"`
	CPL   int    `json:"cpl"`
	Root  uint64 `json:"root"`
	State string `json:"state"`
}

func runExercise() error {
	if exerciseMax < 0 || exerciseMax >= 11 {
		return fmt.Errorf("max-order must be in [0, 10], got %d", exerciseMax)
	}
	return withKernel(func(k *kernel.Kernel) error {
		rep := ExerciseReport{FreeBefore: k.Frames.Stats().Free}

		if err := churnFrames(k, &rep); err != nil {
			return err
		}
		printVerbose("Frame churn: %d allocations, %d failures\n", rep.Allocs, rep.Failed)

		n, err := cycleHeap(k.Heap)
		if err != nil {
			return err
		}
		rep.HeapSlots = n
		printVerbose("Heap: %d slots cycled\n", n)

		if err := runWorkers(k, &rep); err != nil {
			return err
		}

		if err := k.Frames.Check(); err != nil {
			return fmt.Errorf("frame allocator check failed: %w", err)
		}
		cs := k.CPU.Stats()
		rep.Switches, rep.RootLoads = cs.Switches, cs.RootLoads
		rep.FreeAfter = k.Frames.Stats().Free
		rep.ChecksPassed = true

		if jsonOut {
			return printJSON(rep)
		}
		printReport(rep)
		return nil
	})
}

// churnFrames allocates and frees random power-of-two blocks, then returns
// everything it still holds.
func churnFrames(k *kernel.Kernel, rep *ExerciseReport) error {
	var held []frame.Record
	var heldFrames uint64
	release := func(i int) error {
		rec := held[i]
		heldFrames -= 1 << rec.Level()
		held[i] = held[len(held)-1]
		held = held[:len(held)-1]
		return k.Frames.DeallocFrame(rec)
	}

	for range exerciseRounds {
		if len(held) > 0 && fastrand.Intn(3) == 0 {
			if err := release(fastrand.Intn(len(held))); err != nil {
				return fmt.Errorf("dealloc failed: %w", err)
			}
			continue
		}
		n := uint64(1) << fastrand.Intn(exerciseMax+1)
		rec, ok := k.Frames.AllocFrames(n)
		if !ok {
			rep.Failed++
			continue
		}
		rep.Allocs++
		held = append(held, rec)
		heldFrames += n
		rep.PeakFrames = max(rep.PeakFrames, heldFrames)
	}
	for len(held) > 0 {
		if err := release(len(held) - 1); err != nil {
			return fmt.Errorf("dealloc failed: %w", err)
		}
	}
	if err := k.Frames.Check(); err != nil {
		return fmt.Errorf("frame allocator check failed: %w", err)
	}
	return nil
}

// cycleHeap takes every slot of every class and gives them all back.
func cycleHeap(h *heap.Allocator) (int, error) {
	total := 0
	for _, size := range heap.ClassSizes {
		l := heap.Layout{Size: size, Align: size}
		var addrs []uint64
		for {
			p := h.Malloc(l)
			if p == 0 {
				break
			}
			addrs = append(addrs, p)
		}
		for _, p := range addrs {
			if err := h.Free(p, l); err != nil {
				return total, fmt.Errorf("heap free failed: %w", err)
			}
		}
		total += len(addrs)
	}
	return total, nil
}

func runWorkers(k *kernel.Kernel, rep *ExerciseReport) error {
	for i := range exerciseTasks {
		ring := cpu.Ring0
		if i%2 == 1 {
			ring = cpu.Ring3
		}
		res := TaskResult{Ring: ring}
		tk, err := k.Spawn(fmt.Sprintf("worker-%d", i), ring, func() {
			res.CPL = k.CPU.CPL()
			res.Root = k.CPU.Root()
			l := heap.Layout{Size: 128, Align: 16}
			if p := k.Alloc.Alloc(l); p != 0 {
				k.Alloc.Dealloc(p, l)
			}
		})
		if err != nil {
			return fmt.Errorf("spawn failed: %w", err)
		}
		if err := k.Run(tk); err != nil {
			return fmt.Errorf("task %d: %w", tk.ID, err)
		}
		res.ID = tk.ID
		res.State = tk.State().String()
		rep.Tasks = append(rep.Tasks, res)
		printVerbose("Task %d ran at CPL %d\n", tk.ID, res.CPL)
	}
	return nil
}

func printReport(rep ExerciseReport) {
	printInfo("\nExercise Report\n")
	printInfo("%s\n\n", strings.Repeat("═", 40))
	printInfo("Frames:\n")
	printInfo("  Allocations: %d (%d failed)\n", rep.Allocs, rep.Failed)
	printInfo("  Peak held: %d frames\n", rep.PeakFrames)
	printInfo("  Free before/after: %d/%d\n\n", rep.FreeBefore, rep.FreeAfter)
	printInfo("Heap:\n")
	printInfo("  Slots cycled: %d\n\n", rep.HeapSlots)
	printInfo("Tasks:\n")
	for _, t := range rep.Tasks {
		printInfo("  #%d ring %d: ran at CPL %d, root 0x%x, %s\n", t.ID, t.Ring, t.CPL, t.Root, t.State)
	}
	printInfo("\n  Switches: %d, root loads: %d\n", rep.Switches, rep.RootLoads)
	printInfo("  Invariant checks: passed\n")
}
