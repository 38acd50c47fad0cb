package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektortree/pkg/client"
	"github.com/sanonone/kektortree/pkg/core/types"
)

func newInsertCmd(a *app) *cobra.Command {
	var (
		vector string
		text   string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a vector or a text",
		Long: `Insert a vector, or a text embedded with the configured provider.

Examples:
  kektortree insert --vector 1,0,0.5 --url https://example.com/a
  kektortree insert --text "close the socket before exit"
  kektortree insert --server http://localhost:9091 --vector 0.2,0.8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (vector == "") == (text == "") {
				return errors.New("exactly one of --vector and --text is required")
			}
			var vec []float64
			if vector != "" {
				v, err := parseVector(vector)
				if err != nil {
					return err
				}
				vec = v
			}

			var (
				label string
				err   error
			)
			ctx := cmd.Context()
			if c := a.remote(); c != nil {
				if vec != nil {
					label, err = c.Insert(ctx, vec, url)
				} else {
					label, err = c.InsertText(ctx, text, url)
				}
			} else {
				eng, oerr := a.openEngine()
				if oerr != nil {
					return oerr
				}
				defer eng.Close()
				if vec != nil {
					label, err = eng.Insert(vec, url)
				} else {
					label, err = eng.InsertText(ctx, text, url)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), label)
			return nil
		},
	}
	cmd.Flags().StringVar(&vector, "vector", "", "Comma separated vector components")
	cmd.Flags().StringVar(&text, "text", "", "Text to embed and insert")
	cmd.Flags().StringVar(&url, "url", "", "Label to store the vector under (generated when empty)")
	a.addServerFlag(cmd)
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		vector     string
		threshold  float64
		maxResults int
		rewrite    bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search by vector or by text",
		Long: `Search the tree. A positional query is embedded with the configured
provider; --vector searches with a raw vector. Results are printed from
the weakest to the strongest match.

Examples:
  kektortree search "how do I set a read deadline"
  kektortree search --rewrite --threshold 0.7 "timeouts?"
  kektortree search --vector 1,0 --max 10 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (vector == "") == (len(args) == 0) {
				return errors.New("give either a query argument or --vector")
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Search.Threshold
			}
			if !cmd.Flags().Changed("max") {
				maxResults = a.cfg.Search.MaxResults
			}
			if !cmd.Flags().Changed("rewrite") {
				rewrite = a.cfg.Search.Rewrite
			}

			ctx := cmd.Context()
			var out any
			if vector != "" {
				vec, err := parseVector(vector)
				if err != nil {
					return err
				}
				var report *types.SearchReport
				if c := a.remote(); c != nil {
					report, err = c.Search(ctx, vec, client.SearchOptions{Threshold: &threshold, MaxResults: &maxResults})
				} else {
					eng, oerr := a.openEngine()
					if oerr != nil {
						return oerr
					}
					defer eng.Close()
					var r types.SearchReport
					r, err = eng.Search(vec, threshold, maxResults)
					report = &r
				}
				if err != nil {
					return err
				}
				out = report
			} else {
				var res *client.TextSearchResult
				var err error
				if c := a.remote(); c != nil {
					res, err = c.SearchText(ctx, args[0], client.SearchOptions{Threshold: &threshold, MaxResults: &maxResults, Rewrite: &rewrite})
				} else {
					eng, oerr := a.openEngine()
					if oerr != nil {
						return oerr
					}
					defer eng.Close()
					r, serr := eng.SearchText(ctx, args[0], threshold, maxResults, rewrite)
					res, err = &client.TextSearchResult{Query: r.Query, SearchReport: r.SearchReport}, serr
				}
				if err != nil {
					return err
				}
				out = res
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printResults(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&vector, "vector", "", "Comma separated query vector")
	f.Float64VarP(&threshold, "threshold", "t", 0, "Minimum cosine similarity, exclusive (default search.threshold)")
	f.IntVarP(&maxResults, "max", "m", 0, "Stop descending once this many matches are found (default search.max_results)")
	f.BoolVar(&rewrite, "rewrite", false, "Rewrite the query with the LLM first (default search.rewrite)")
	f.BoolVar(&asJSON, "json", false, "Output results as JSON")
	a.addServerFlag(cmd)
	return cmd
}

func printResults(w io.Writer, out any) error {
	var report types.SearchReport
	switch v := out.(type) {
	case *types.SearchReport:
		report = *v
	case *client.TextSearchResult:
		fmt.Fprintf(w, "query: %s\n", v.Query)
		report = v.SearchReport
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tVISIT\tURL")
	for _, r := range report.Results {
		fmt.Fprintf(tw, "%.4f\t%d\t%s\n", r.Score, r.Visit, r.Label)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d results, %d nodes visited\n", len(report.Results), report.Visited)
	return err
}

func newDumpCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the tree outline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c := a.remote(); c != nil {
				s, err := c.Dump(cmd.Context())
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), s)
				return err
			}
			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.Dump(cmd.OutOrStdout())
		},
	}
	a.addServerFlag(cmd)
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [path]",
		Short: "Write the tree as a JSON document",
		Long: `Write the tree as a JSON tree document. Without a path the model file in
the data directory is written. With --server the server writes its own
model file and the path argument is not allowed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				path string
				err  error
			)
			if c := a.remote(); c != nil {
				if len(args) > 0 {
					return errors.New("a path cannot be given with --server")
				}
				path, err = c.Export(cmd.Context())
			} else {
				eng, oerr := a.openEngine()
				if oerr != nil {
					return oerr
				}
				defer eng.Close()
				if len(args) > 0 {
					path = args[0]
				}
				path, err = eng.ExportJSON(path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	a.addServerFlag(cmd)
	return cmd
}
