package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// LogFilter selects the entries printed by the logs command. Empty fields match everything.
type LogFilter struct {
	Level    string
	TraceID  string
	Category string
}

func (f LogFilter) Match(e *LogEntry) bool {
	if f.Level != "" && !strings.EqualFold(f.Level, e.Level) {
		return false
	}
	if f.TraceID != "" && !strings.EqualFold(f.TraceID, e.TraceID) {
		return false
	}
	if f.Category != "" && !strings.HasPrefix(e.Category, f.Category) {
		return false
	}
	return true
}

// LogSummary aggregates the entries read from the log files.
type LogSummary struct {
	Total      int
	Matched    []*LogEntry
	ByLevel    map[string]int
	ByCategory map[string]int
	Exceptions int
	Traces     map[string]struct{}
}

func newLogSummary() *LogSummary {
	return &LogSummary{
		ByLevel:    map[string]int{},
		ByCategory: map[string]int{},
		Traces:     map[string]struct{}{},
	}
}

func (s *LogSummary) add(batch []*LogEntry, filter LogFilter) {
	for _, e := range batch {
		s.Total++
		if !filter.Match(e) {
			continue
		}
		s.Matched = append(s.Matched, e)
		s.ByLevel[strings.ToLower(e.Level)]++
		s.ByCategory[e.Category]++
		if e.Exception != nil {
			s.Exceptions++
		}
		if e.TraceID != "" {
			s.Traces[e.TraceID] = struct{}{}
		}
	}
}

type logsOptions struct {
	pattern string
	filter  LogFilter
	limit   int
	batch   int
	quiet   bool
}

func newLogsCmd(root *rootOptions) *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the log files written by the file sink",
		Long: "Reads the line-delimited JSON written by the file log sink (or the raw rotated\n" +
			"zerolog file), filters it and prints the matching entries with a summary.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.pattern == "" {
				cfg, err := LoadConfig(root.configPath)
				if err != nil {
					return err
				}
				opts.pattern = cfg.Telemetry.Exporter.File.LogPath
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
				With().Timestamp().Logger()

			summary, err := collectLogs(cmd.Context(), log, *opts)
			if err != nil {
				return err
			}
			printLogs(cmd.OutOrStdout(), summary, *opts)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.pattern, "file", "f", "", "glob of the log files to read (defaults to the file sink path)")
	f.StringVar(&opts.filter.Level, "level", "", "only entries of this level")
	f.StringVar(&opts.filter.TraceID, "trace", "", "only entries of this trace id")
	f.StringVar(&opts.filter.Category, "category", "", "only entries whose category starts with this prefix")
	f.IntVarP(&opts.limit, "limit", "n", 50, "print at most the last n matching entries (0 prints none)")
	f.IntVar(&opts.batch, "batch", 100, "entries folded into the summary at once")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print the summary only")
	return cmd
}

// collectLogs parses every file matching opts.pattern concurrently and folds the
// entries into a summary in batches.
func collectLogs(ctx context.Context, log zerolog.Logger, opts logsOptions) (*LogSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	files, err := filepath.Glob(opts.pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid log file pattern: %w", err)
	}
	summary := newLogSummary()
	if len(files) == 0 {
		log.Warn().Str("pattern", opts.pattern).Msg("No log files found matching the pattern.")
		return summary, nil
	}
	log.Debug().Int("count", len(files)).Msg("Found log files")

	batchSize := max(opts.batch, 1)
	entries := make(chan *LogEntry, batchSize*2)
	done := make(chan struct{})

	// Consumer: 批量合并到 summary
	go func() {
		defer close(done)
		batch := make([]*LogEntry, 0, batchSize)
		for e := range entries {
			batch = append(batch, e)
			if len(batch) >= batchSize {
				summary.add(batch, opts.filter)
				batch = batch[:0]
			}
		}
		summary.add(batch, opts.filter)
	}()

	// Producers: 每个文件一个
	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return ParseLogFile(gctx, file, entries, func(err error) {
				log.Warn().Err(err).Msg("Skipping unparsable line")
			})
		})
	}
	err = g.Wait()
	close(entries)
	<-done
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(summary.Matched, func(a, b *LogEntry) int { return a.Timestamp.Compare(b.Timestamp) })
	return summary, nil
}

func printLogs(w io.Writer, s *LogSummary, opts logsOptions) {
	if !opts.quiet && opts.limit > 0 {
		shown := s.Matched
		if len(shown) > opts.limit {
			shown = shown[len(shown)-opts.limit:]
		}
		for _, e := range shown {
			fmt.Fprintf(w, "%s %-5s %s %s", e.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(e.Level), e.Category, e.Message)
			if e.TraceID != "" {
				fmt.Fprintf(w, " trace_id=%s", e.TraceID)
			}
			fmt.Fprintln(w)
			if e.Exception != nil {
				fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(*e.Exception, "\n", "\n    "))
			}
		}
	}

	fmt.Fprintf(w, "%d entries read, %d matched, %d with exceptions, %d traces\n",
		s.Total, len(s.Matched), s.Exceptions, len(s.Traces))
	for _, k := range sortedKeys(s.ByLevel) {
		fmt.Fprintf(w, "  level %-8s %d\n", k, s.ByLevel[k])
	}
	for _, k := range sortedKeys(s.ByCategory) {
		name := k
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  category %-30s %d\n", name, s.ByCategory[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
