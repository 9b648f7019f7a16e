package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/rules"
)

func newRulesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule schema and validate rule sets",
	}
	cmd.AddCommand(newRulesSchemaCommand(ctx), newRulesValidateCommand(ctx))
	return cmd
}

func newRulesSchemaCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "schema",
		Short:       "List rule fields and their operators",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := api.Schema()
			if ctx.jsonOutput() {
				return writeJSON(cmd, schema)
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(schema.Static)+len(schema.Dynamic))
			appendFields := func(scope string, fields []rules.FieldDescriptor) {
				for _, f := range fields {
					ops := make([]string, len(f.Operators))
					for i, op := range f.Operators {
						ops[i] = string(op)
					}
					rows = append(rows, []string{scope, f.Name, f.Label, string(f.Kind), strings.Join(ops, ", ")})
				}
			}
			appendFields("static", schema.Static)
			appendFields("dynamic", schema.Dynamic)
			fmt.Fprintln(out, renderTable([]string{"Scope", "Field", "Label", "Kind", "Operators"}, rows, nil))

			keys := make([]string, len(schema.SortKeys))
			for i, k := range schema.SortKeys {
				keys[i] = string(k)
			}
			fmt.Fprintf(out, "Sort keys: %s\n", strings.Join(keys, ", "))
			return nil
		},
	}
}

func newRulesValidateCommand(ctx *commandContext) *cobra.Command {
	var file string
	var scope string
	cmd := &cobra.Command{
		Use:         "validate",
		Short:       "Validate a JSON rule set and print its normalized form",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var rs rules.RuleSet
			if err := readJSONInput(cmd, file, &rs); err != nil {
				return err
			}
			resp, err := api.ValidateRules(api.RuleValidationRequest{Scope: scope, Rules: rs})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() || resp.Valid {
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(resp.Errors))
				for _, e := range resp.Errors {
					rows = append(rows, []string{e.Path, e.Field, string(e.Operator), e.Message})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Path", "Field", "Operator", "Problem"}, rows, nil))
			}
			if !resp.Valid {
				return fmt.Errorf("rule set has %d problem(s)", len(resp.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON rule set file (- for stdin)")
	cmd.Flags().StringVar(&scope, "scope", "static", "Rule scope: static or dynamic")
	return cmd
}
