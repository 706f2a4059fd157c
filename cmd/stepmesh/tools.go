package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/stepmesh/tool"
)

func newToolsCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the agents, grouped by server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mesh, err := setup(ctx, root)
			if err != nil {
				return err
			}
			defer func() { _ = mesh.Stop(ctx) }()

			fmt.Fprintln(cmd.OutOrStdout(), mesh.Tools(ctx).Describe())
			return nil
		},
	}
}

type calculateArgs struct {
	Operation string  `json:"operation" jsonschema:"enum=add,enum=subtract,enum=multiply,enum=divide,enum=power,enum=sqrt,description=Operation to perform"`
	A         float64 `json:"a" jsonschema:"description=First operand"`
	B         float64 `json:"b,omitempty" jsonschema:"description=Second operand (unused for sqrt)"`
}

type nowArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name, e.g. Asia/Seoul"`
}

func builtinTools() []tool.Tool {
	calculate := tool.NewTypedTool("math_calculate", "Perform basic math operations (add, subtract, multiply, divide, power, sqrt)",
		func(_ context.Context, in calculateArgs) (any, error) {
			switch in.Operation {
			case "add":
				return in.A + in.B, nil
			case "subtract":
				return in.A - in.B, nil
			case "multiply":
				return in.A * in.B, nil
			case "divide":
				if in.B == 0 {
					return nil, tool.NewToolError("math_calculate", "division by zero", tool.CodeValidation)
				}
				return in.A / in.B, nil
			case "power":
				return math.Pow(in.A, in.B), nil
			case "sqrt":
				if in.A < 0 {
					return nil, tool.NewToolError("math_calculate", "square root of a negative number", tool.CodeValidation)
				}
				return math.Sqrt(in.A), nil
			}
			return nil, tool.NewToolError("math_calculate", fmt.Sprintf("unsupported operation %q", in.Operation), tool.CodeValidation)
		})

	now := tool.NewTypedTool("clock_now", "Return the current date and time",
		func(_ context.Context, in nowArgs) (any, error) {
			loc := time.Local
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return nil, tool.NewToolError("clock_now", err.Error(), tool.CodeValidation)
				}
				loc = l
			}
			return time.Now().In(loc).Format(time.RFC3339), nil
		})

	return []tool.Tool{calculate, now}
}
