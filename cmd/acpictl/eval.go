package main

import (
	"context"
	"fmt"
	"gopheros/device/acpi/aml/object"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval <platform.toml> <path> [args...]",
		Short: "Evaluate a namespace object",
		Long: `Boot the platform and evaluate the object at the given absolute path.
Arguments are passed to methods as integers; prefix them with 0x for
hexadecimal values.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eval(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], args[2:])
		},
	}
}

func eval(ctx context.Context, w io.Writer, platformPath, path string, rawArgs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	args := make([]*object.Object, 0, len(rawArgs))
	for _, raw := range rawArgs {
		v, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid method argument %q: %w", raw, err)
		}
		args = append(args, object.NewInteger(v))
	}

	machine, err := boot(ctx, platformPath)
	if err != nil {
		return err
	}
	defer func() { _ = machine.Engine.Shutdown(ctx) }()

	res, err := machine.Engine.EvaluatePath(ctx, path, args...)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", path, res)
	res.Release()
	return nil
}
