package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chemplumb/internal/columns"
	"chemplumb/pkg/domain"
)

func newClassifyCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "classify <table.csv>",
		Short: "Classify every header column of a raw table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			header, err := csv.NewReader(f).Read()
			if err != nil {
				return fmt.Errorf("read header of %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			var unknown []string
			for _, name := range header {
				kind, err := columns.Classify(name)
				if err != nil {
					if !errors.Is(err, domain.ErrSchemaMismatch) {
						return err
					}
					unknown = append(unknown, name)
					fmt.Fprintf(out, "%s\tUNKNOWN\n", name)
					continue
				}
				if !quiet {
					fmt.Fprintf(out, "%s\t%s\n", name, kind)
				}
			}
			if len(unknown) > 0 {
				return &exitError{code: exitSchemaDrift, err: fmt.Errorf("%s: %s outside the known schema", args[0], plural(len(unknown), "column"))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only unknown columns")
	return cmd
}
