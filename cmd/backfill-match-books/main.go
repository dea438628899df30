package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bookswap_go/config"
	"bookswap_go/logger"
	"bookswap_go/services"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// 为历史匹配回填 match_books。默认严格模式：某一方有多个交换类发布时跳过该匹配。
// -allow-ambiguous 时取最新的发布，并逐条输出审计日志。
func main() {
	matchID := flag.String("match", "", "only populate this match id")
	allowAmbiguous := flag.Bool("allow-ambiguous", false, "bind the newest exchange listing when a user has several")
	dryRun := flag.Bool("dry-run", false, "report decisions without writing")
	flag.Parse()

	os.Exit(run(*matchID, services.PopulateOptions{AllowAmbiguous: *allowAmbiguous, DryRun: *dryRun}))
}

func run(matchID string, opts services.PopulateOptions) int {
	_ = godotenv.Load()
	if err := config.LoadFile(config.GetEnv("CONFIG_FILE", "config.yaml")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := logger.Init("production", config.GetEnv("LOG_LEVEL", "info")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()
	log := logger.Named("backfill")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.InitDatabase(); err != nil {
		log.Error("init database", zap.Error(err))
		return 1
	}
	defer config.CloseDatabase()

	binder := services.NewMatchBookService(config.DB)

	ids := []string{matchID}
	if matchID == "" {
		var err error
		if ids, err = binder.UnboundMatchIDs(ctx); err != nil {
			log.Error("list unbound matches", zap.Error(err))
			return 1
		}
	}

	var bound, skipped, failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		result, err := binder.PopulateExistingMatch(ctx, id, opts)
		switch {
		case errors.Is(err, services.ErrAmbiguousBinding):
			skipped++
			log.Warn("ambiguous match skipped",
				zap.String("match_id", id),
				zap.String("user_id", result.AmbiguousUserID),
				zap.Any("decisions", result.Decisions))
			continue
		case err != nil:
			failed++
			log.Error("populate match failed", zap.String("match_id", id), zap.Error(err))
			continue
		}

		for _, d := range result.Decisions {
			if d.Guessed {
				log.Warn("guessed binding",
					zap.String("match_id", id),
					zap.String("user_id", d.UserID),
					zap.String("published_book_id", d.PublishedBookID),
					zap.Strings("candidates", d.Candidates),
					zap.Bool("dry_run", opts.DryRun))
			}
		}
		bound += result.BooksBound
	}

	log.Info("backfill finished",
		zap.Int("matches", len(ids)),
		zap.Int("books_bound", bound),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Bool("dry_run", opts.DryRun))

	if failed > 0 {
		return 1
	}
	return 0
}
