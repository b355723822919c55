// Command velesdb is a CLI front end over the embedded database
// façade: collection management, point upsert/search, and raw VelesQL
// execution against a database directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	velesdb "github.com/velesdb/velesdb"
	"github.com/velesdb/velesdb/pkg/collection"
	"github.com/velesdb/velesdb/pkg/velesql"
)

var (
	dbPath string
	dim    int
	metric string
)

var rootCmd = &cobra.Command{
	Use:   "velesdb",
	Short: "CLI for the VelesDB embedded vector database",
}

func openDatabase() (*velesdb.Database, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path not specified (use --db)")
	}
	return velesdb.Open(dbPath)
}

func parseMetric(s string) collection.Metric {
	switch strings.ToLower(s) {
	case "euclidean", "l2":
		return velesdb.Euclidean
	case "dot":
		return velesdb.Dot
	default:
		return velesdb.Cosine
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}

var initCmd = &cobra.Command{
	Use:   "init <collection>",
	Short: "Create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		if dim <= 0 {
			return fmt.Errorf("--dim is required and must be positive")
		}
		if _, err := db.CreateCollection(args[0], dim, parseMetric(metric)); err != nil {
			return err
		}
		fmt.Printf("collection %q created (dim=%d, metric=%s)\n", args[0], dim, metric)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		names, err := db.ListCollections()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <collection>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		return db.DeleteCollection(args[0])
	},
}

var upsertCmd = &cobra.Command{
	Use:   "upsert <collection> <id> <vector>",
	Short: "Upsert one point (vector is comma-separated floats)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		c, err := db.GetCollection(args[0])
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		vec, err := parseVector(args[2])
		if err != nil {
			return err
		}
		payloadStr, _ := cmd.Flags().GetString("payload")
		var payload map[string]any
		if payloadStr != "" {
			if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
				return fmt.Errorf("invalid --payload JSON: %w", err)
			}
		}
		if err := c.Upsert(velesdb.Point{ID: id, Vector: vec, Payload: payload}); err != nil {
			return err
		}
		return c.Flush()
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <collection> <vector>",
	Short: "Run an ANN search",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		c, err := db.GetCollection(args[0])
		if err != nil {
			return err
		}
		vec, err := parseVector(args[1])
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		results, err := c.Search(vec, velesdb.SearchOptions{K: k})
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <collection> <velesql>",
	Short: "Execute a VelesQL statement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		c, err := db.GetCollection(args[0])
		if err != nil {
			return err
		}
		paramsStr, _ := cmd.Flags().GetString("params")
		params := map[string]any{}
		if paramsStr != "" {
			if err := json.Unmarshal([]byte(paramsStr), &params); err != nil {
				return fmt.Errorf("invalid --params JSON: %w", err)
			}
		}
		results, err := c.Query(args[1], params)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum <collection>",
	Short: "Force an HNSW index rebuild, reclaiming tombstoned space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Flush()
		c, err := db.GetCollection(args[0])
		if err != nil {
			return err
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		rebuilt, err := c.Vacuum(ctx, threshold)
		if err != nil {
			return err
		}
		if rebuilt {
			fmt.Println("index rebuilt")
		} else {
			fmt.Println("deletion ratio below threshold, nothing to do")
		}
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain <velesql>",
	Short: "Print a VelesQL statement's physical plan without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := velesql.NewParser(args[0])
		if err != nil {
			return err
		}
		sel, err := p.ParseSelect()
		if err != nil {
			return err
		}
		rows, _ := cmd.Flags().GetInt("rows")
		planner := velesql.NewPlanner(map[string]velesql.Stats{sel.From.Name: {Rows: rows}}, 1)
		op, err := planner.Plan(sel)
		if err != nil {
			return err
		}
		fmt.Print(velesql.Explain(op))
		return nil
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "database root directory")

	initCmd.Flags().IntVar(&dim, "dim", 0, "vector dimension")
	initCmd.Flags().StringVar(&metric, "metric", "cosine", "similarity metric (cosine|euclidean|dot)")

	upsertCmd.Flags().String("payload", "", "payload as a JSON object")

	searchCmd.Flags().Int("k", 10, "number of results")

	queryCmd.Flags().String("params", "", "bind parameters as a JSON object, e.g. {\"q\":[0.1,0.2]}")

	explainCmd.Flags().Int("rows", 1000, "assumed row count for the scanned table, for cost estimation")

	vacuumCmd.Flags().Float64("threshold", 0, "deletion ratio required to trigger a rebuild (0 = index default)")
	vacuumCmd.Flags().Duration("timeout", 30*time.Second, "maximum time the rebuild may run before it is cancelled")

	rootCmd.AddCommand(initCmd, listCmd, dropCmd, upsertCmd, searchCmd, queryCmd, explainCmd, vacuumCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
