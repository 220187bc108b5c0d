// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pdiddy/lumi-engine/internal/personalize"
	"github.com/pdiddy/lumi-engine/internal/prefs"
	"github.com/pdiddy/lumi-engine/internal/ratelimit"
	"github.com/pdiddy/lumi-engine/internal/rewrite"
	"github.com/pdiddy/lumi-engine/internal/store"
	"github.com/pdiddy/lumi-engine/pkg/types"
)

// --- rank / feed ---

var rankCmd = &cobra.Command{
	Use:   "rank <user>",
	Short: "List the best unread articles for a reader",
	Long: `Rank scores the recently enriched articles the reader has not read by
significance, topic affinity, and freshness, and prints them best first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

var feedCmd = &cobra.Command{
	Use:   "feed <user>",
	Short: "List a reader's feed, optionally limited to one topic",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeed,
}

func runRank(cmd *cobra.Command, args []string) error {
	return rankOrFeed(cmd, args[0], false)
}

func runFeed(cmd *cobra.Command, args []string) error {
	return rankOrFeed(cmd, args[0], true)
}

func rankOrFeed(cmd *cobra.Command, userID string, feed bool) error {
	count, _ := cmd.Flags().GetInt("count")
	topic, _ := cmd.Flags().GetString("topic")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		if count <= 0 {
			count = cfg.Rank.DefaultCount
		}
		engine := newEngine(cfg.Rank, st)

		var (
			ranked []personalize.Ranked
			err    error
		)
		if feed {
			if topic != "" && !types.IsTopic(types.NormalizeTopic(topic)) {
				return fmt.Errorf("unknown topic %q: use one of %s", topic, strings.Join(types.Topics, ", "))
			}
			ranked, err = engine.Feed(ctx, userID, topic, count)
		} else {
			ranked, err = engine.Rank(ctx, userID, count)
		}
		if err != nil {
			return err
		}
		return formatRanked(os.Stdout, ranked, jsonOutput)
	})
}

func formatRanked(w io.Writer, ranked []personalize.Ranked, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, ranked)
	}
	if len(ranked) == 0 {
		fmt.Fprintln(w, "No articles found.")
		return nil
	}

	fmt.Fprintf(w, "%-4s  %-6s  %-50s  %-20s  %s\n", "Rank", "Score", "Title", "Source", "Topics")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for i, r := range ranked {
		var topics []string
		if r.Article.Enrichment != nil {
			topics = r.Article.Enrichment.TopicTags
		}
		fmt.Fprintf(w, "%-4d  %-6.3f  %-50s  %-20s  %s\n",
			i+1, r.Score, clip(r.Article.Title, 50), clip(r.Article.Source, 20), strings.Join(topics, ","))
	}
	fmt.Fprintf(w, "\n%d articles\n", len(ranked))
	return nil
}

// --- digest ---

var digestCmd = &cobra.Command{
	Use:   "digest <user>",
	Short: "Print the weekly digest for a reader",
	Long: `Digest groups the last week's enriched articles by the reader's topics
and keeps the three most significant articles per topic.`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

func runDigest(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		d, err := newEngine(cfg.Rank, st).Digest(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(os.Stdout, d)
		}

		fmt.Fprintf(os.Stdout, "Digest for %s since %s (%d articles read, %d day streak)\n",
			d.UserID, d.Since.Format("2006-01-02"), d.ArticlesRead, d.Streak)
		if len(d.Topics) == 0 {
			fmt.Fprintln(os.Stdout, "\nNothing new this week.")
			return nil
		}
		for _, t := range d.Topics {
			fmt.Fprintf(os.Stdout, "\n%s\n", strings.ToUpper(t.Topic))
			for _, a := range t.Articles {
				fmt.Fprintf(os.Stdout, "  - %s (%s)\n", a.Title, a.Source)
				if a.Enrichment != nil && a.Enrichment.Summary != "" {
					fmt.Fprintf(os.Stdout, "    %s\n", clip(a.Enrichment.Summary, 120))
				}
			}
		}
		return nil
	})
}

// --- read / topics ---

var readCmd = &cobra.Command{
	Use:   "read <user> <article>",
	Short: "Record that a reader opened or finished an article",
	Long: `Read records the reading event in the reader's history and raises the
reader's weight for each of the article's topics: +0.1 when --completed,
+0.02 otherwise.`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	completed, _ := cmd.Flags().GetBool("completed")
	reaction, _ := cmd.Flags().GetString("reaction")

	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		err := prefs.New(st).RecordReading(ctx, prefs.Signal{
			UserID:    args[0],
			ArticleID: args[1],
			Completed: completed,
			Reaction:  reaction,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Recorded %s reading %s (completed=%t)\n", args[0], args[1], completed)
		return nil
	})
}

var topicsCmd = &cobra.Command{
	Use:   "topics <user> [topic...]",
	Short: "Select topics for a reader or show their topic weights",
	Long: `Topics adds the given topics to the reader's preferences at the
default weight; topics already selected keep their weight. Without topics
it prints the reader's current weights.

Topics: ` + strings.Join(types.Topics, ", "),
	Args: cobra.MinimumNArgs(1),
	RunE: runTopics,
}

func runTopics(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		userID := args[0]
		if len(args) > 1 {
			if _, err := prefs.New(st).SelectTopics(ctx, userID, args[1:]); err != nil {
				return err
			}
		}

		weights, err := st.TopicWeights(ctx, userID)
		if err != nil {
			return err
		}
		if len(weights) == 0 {
			fmt.Fprintf(os.Stdout, "%s has no topics selected.\n", userID)
			return nil
		}
		for _, t := range sortedTopics(weights) {
			fmt.Fprintf(os.Stdout, "%-15s %.2f\n", t, weights[t])
		}
		return nil
	})
}

// --- rewrite / relevance ---

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <user> <article>",
	Short: "Rewrite one layer of an article in a different tone",
	Long: `Rewrite restates a layer of an enriched article (summary, simplified,
deep_dive, why_it_matters, rabbit_hole) in a tone (FORMAL, CONVERSATIONAL,
LIKE_A_FRIEND). Results are cached per article, layer, and tone, and each
reader is limited to rewrite.limit requests per rewrite.window.`,
	Args: cobra.ExactArgs(2),
	RunE: runRewrite,
}

func runRewrite(cmd *cobra.Command, args []string) error {
	layerName, _ := cmd.Flags().GetString("layer")
	toneName, _ := cmd.Flags().GetString("tone")

	layer, err := types.ParseLayer(layerName)
	if err != nil {
		return err
	}
	tone, err := types.ParseTone(toneName)
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		svc, cache, err := newRewriter(cfg, st, ratelimit.New())
		if err != nil {
			return err
		}
		defer cache.Close()

		out, err := svc.Rewrite(ctx, args[0], args[1], layer, tone)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out)
		return nil
	})
}

var relevanceCmd = &cobra.Command{
	Use:   "relevance <user> <article>",
	Short: "Explain in one sentence why an article matters to a reader",
	Args:  cobra.ExactArgs(2),
	RunE:  runRelevance,
}

func runRelevance(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg types.Config, st store.Store) error {
		a, err := st.Article(ctx, args[1])
		if err != nil {
			return fmt.Errorf("article %s: %w", args[1], err)
		}
		if !a.Enriched() {
			return fmt.Errorf("article %s: %w", args[1], rewrite.ErrNotEnriched)
		}
		weights, err := st.TopicWeights(ctx, args[0])
		if err != nil {
			return err
		}

		enricher, err := newEnricher(cfg.AI)
		if err != nil {
			return err
		}
		out, err := enricher.PersonalRelevance(ctx, a.Enrichment.Summary, sortedTopics(weights))
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out)
		return nil
	})
}

// --- shared helpers ---

// withStore loads the config, opens the store, and runs fn.
func withStore(fn func(ctx context.Context, cfg types.Config, st store.Store) error) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sortedTopics returns the topics of weights heaviest first, ties by name.
func sortedTopics(weights map[string]float64) []string {
	topics := make([]string, 0, len(weights))
	for t := range weights {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if weights[topics[i]] != weights[topics[j]] {
			return weights[topics[i]] > weights[topics[j]]
		}
		return topics[i] < topics[j]
	})
	return topics
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rankCmd.Flags().Int("count", 0, "number of articles (0 = rank.default_count)")
	rankCmd.Flags().Bool("json", false, "output results as JSON")

	feedCmd.Flags().Int("count", 0, "number of articles (0 = rank.default_count)")
	feedCmd.Flags().String("topic", "", "only articles tagged with this topic")
	feedCmd.Flags().Bool("json", false, "output results as JSON")

	digestCmd.Flags().Bool("json", false, "output the digest as JSON")

	readCmd.Flags().Bool("completed", false, "the reader finished the article")
	readCmd.Flags().String("reaction", "", "optional reaction to store with the entry")

	rewriteCmd.Flags().String("layer", string(types.LayerSummary), "layer to rewrite")
	rewriteCmd.Flags().String("tone", string(types.ToneConversational), "target tone")

	rootCmd.AddCommand(rankCmd, feedCmd, digestCmd, readCmd, topicsCmd, rewriteCmd, relevanceCmd)
}
