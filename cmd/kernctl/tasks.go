package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kernkit/cpu"
	"github.com/joshuapare/kernkit/kernel"
)

var (
	tasksSpawn int
	tasksRing  int
	tasksRun   bool
)

func init() {
	cmd := newTasksCmd()
	cmd.Flags().IntVar(&tasksSpawn, "spawn", 2, "Idle tasks to create")
	cmd.Flags().IntVar(&tasksRing, "ring", cpu.Ring3, "Privilege ring of created tasks (0 or 3)")
	cmd.Flags().BoolVar(&tasksRun, "run", false, "Dispatch each task before listing")
	rootCmd.AddCommand(cmd)
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the task table",
		Long: `The tasks command boots the core, creates idle tasks and lists the task
table with each task's ring, state, page-table root and saved stack pointer.

Example:
  kernctl tasks
  kernctl tasks --spawn 3 --ring 0 --run
  kernctl tasks --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks()
		},
	}
	return cmd
}

func runTasks() error {
	if tasksRing != cpu.Ring0 && tasksRing != cpu.Ring3 {
		return fmt.Errorf("ring must be 0 or 3, got %d", tasksRing)
	}
	return withKernel(func(k *kernel.Kernel) error {
		for i := range tasksSpawn {
			tk, err := k.Spawn(fmt.Sprintf("idle-%d", i), tasksRing, func() {})
			if err != nil {
				return fmt.Errorf("spawn failed: %w", err)
			}
			if tasksRun {
				if err := k.Run(tk); err != nil {
					return fmt.Errorf("task %d: %w", tk.ID, err)
				}
			}
		}

		infos := k.Stats().Tasks
		if jsonOut {
			return printJSON(infos)
		}
		printInfo("%-4s %-10s %-5s %-9s %-10s %s\n", "ID", "NAME", "RING", "STATE", "ROOT", "SP")
		for _, t := range infos {
			printInfo("%-4d %-10s %-5d %-9s 0x%-8x 0x%x\n", t.ID, t.Name, t.Ring, t.State, t.Root, t.SP)
		}
		return nil
	})
}
