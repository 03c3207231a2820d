// Command htpc-reduce reduces simulated HTPC event steps into per-event
// cluster tables and background-scatter summaries stored in sqlite.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/htpc-reduce/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "clusters":
		err = runClusters(ctx, args, os.Stdout)
	case "backgrounds":
		err = runBackgrounds(ctx, args, os.Stdout)
	case "import":
		err = runImport(ctx, args, os.Stdout)
	case "inspect":
		err = runInspect(ctx, args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "htpc-reduce %s: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`htpc-reduce - Streaming cluster reduction for HTPC simulation events

Usage: htpc-reduce <command> [options]

Commands:
  import       Load JSON-lines events into an events database
  clusters     Cluster each event's deposits and write one row per cluster
  backgrounds  Write one background-scatter row per event
  inspect      Serve the SQL debug UI and run report for a database
  version      Show build information
  help         Show this help message

Examples:
  htpc-reduce import events.jsonl --db events.db
  htpc-reduce clusters events.db --chunksize 1000 --scale 10 --out clusters.db --csv clusters.csv
  htpc-reduce clusters events.db --gamma --metric euclidean --fulfill 0.5
  htpc-reduce backgrounds events.db --bstop --istop 5000 --out backgrounds.db
  htpc-reduce inspect --db clusters.db --listen :8080

Run 'htpc-reduce <command> -h' for the options of a command.`)
}

// splitInput separates a leading positional input path from the flags that
// follow it, so both "cmd in.db --flag" and "cmd --flag in.db" work.
func splitInput(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
