package main

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/gpe"
	"gopheros/device/acpi/hw"
	"gopheros/device/acpi/platform"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var raise []uint

	runCmd := &cobra.Command{
		Use:   "run <platform.toml>",
		Short: "Boot a platform and raise GPEs",
		Long: `Boot the platform, raise each GPE given with --raise in order, wait for
the GPE methods to complete and print the GPE registers and the values of
the named integers and field units.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), args[0], raise)
		},
	}
	runCmd.Flags().UintSliceVarP(&raise, "raise", "r", nil, "GPE numbers to raise")
	return runCmd
}

func run(ctx context.Context, w io.Writer, path string, raise []uint) error {
	if ctx == nil {
		ctx = context.Background()
	}

	machine, err := boot(ctx, path)
	if err != nil {
		return err
	}

	for _, n := range raise {
		claimed, err := machine.Raise(uint32(n))
		if err != nil {
			_ = machine.Engine.Shutdown(ctx)
			return err
		}
		fmt.Fprintf(w, "raised GPE %d (claimed: %t)\n", n, claimed)
	}

	// Shutdown waits for the queued GPE methods.
	if err = machine.Engine.Shutdown(ctx); err != nil {
		return err
	}

	printBlocks(w, machine.Engine.GPE().Blocks(), machine.Bus)
	return printValues(ctx, w, machine)
}

func printBlocks(w io.Writer, blocks []*gpe.BlockInfo, bus *hw.Bus) {
	for _, blk := range blocks {
		fmt.Fprintf(w, "GPE block %s base %d irq %d\n", entity.PathOf(blk.Node), blk.BaseNumber, blk.IRQ)
		for _, reg := range blk.Registers {
			fmt.Fprintf(w, "  GPE %3d-%3d  STS=%02x EN=%02x\n",
				reg.BaseNumber, reg.BaseNumber+7,
				bus.Peek(reg.Status.Space, reg.Status.Address),
				bus.Peek(reg.Enable.Space, reg.Enable.Address),
			)
		}
	}
}

// printValues evaluates every named integer and field unit of the
// namespace and prints them sorted by path.
func printValues(ctx context.Context, w io.Writer, machine *platform.Machine) error {
	ns := machine.Engine.Namespace()

	var nodes []entity.Entity
	ns.Lock()
	ns.Walk(ns.Root(), entity.TypeAny, func(_ int, ent entity.Entity) bool {
		switch node := ent.(type) {
		case *entity.Const:
			if _, isInt := node.Value.(uint64); isInt && node.Name() != "" {
				nodes = append(nodes, node)
			}
		case *entity.FieldUnit:
			nodes = append(nodes, node)
		}
		return true
	})
	ns.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return entity.PathOf(nodes[i]) < entity.PathOf(nodes[j]) })

	for _, node := range nodes {
		res, err := machine.Engine.EvaluateMethod(ctx, node)
		if err != nil {
			return fmt.Errorf("%s: %w", entity.PathOf(node), err)
		}
		fmt.Fprintf(w, "%s = %s\n", entity.PathOf(node), res)
		res.Release()
	}
	return nil
}
