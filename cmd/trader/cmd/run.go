package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sandroneterpone/ye-meme-trader/broker"
	"github.com/sandroneterpone/ye-meme-trader/config"
	"github.com/sandroneterpone/ye-meme-trader/engine"
	"github.com/sandroneterpone/ye-meme-trader/feed"
	"github.com/sandroneterpone/ye-meme-trader/internal/id"
	"github.com/sandroneterpone/ye-meme-trader/journal"
	"github.com/sandroneterpone/ye-meme-trader/market"
	"github.com/sandroneterpone/ye-meme-trader/metrics"
	"github.com/sandroneterpone/ye-meme-trader/notify"
	"github.com/sandroneterpone/ye-meme-trader/risk"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine, reading trade signals from stdin",
	Long: `Run the trading engine against a paper broker.

Trade signals are read from stdin as JSON lines, one object per line:

  {"token":"BONK","side":"buy","confidence":0.8,"price":0.000031}

The price field seeds the paper broker's pool for the token. When a
websocket price feed is configured, quotes come from the feed instead.
The engine runs until stdin closes or the process receives SIGINT.

Example:
  cat signals.jsonl | trader run --config configs/paper.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Secrets live in the environment; .env is a development nicety.
	_ = godotenv.Load()

	cfg := config.Default()
	if runConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(runConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	j, err := buildJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	notifier, err := buildNotifier(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paper := broker.NewPaper()
	var quotes broker.QuoteProvider = paper
	if cfg.Feed.URL != "" {
		stream := feed.NewStream(cfg.Feed.URL, cfg.Feed.MaxStale.D())
		go stream.Run(ctx)
		quotes = stream
	}

	ledger, err := risk.NewLedger(cfg.Budget.TotalCapital)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	breaker := risk.NewBreaker(risk.Limits{
		MaxDailyTrades: cfg.Breaker.MaxDailyTrades,
		MaxDailyLoss:   cfg.Breaker.MaxDailyLoss,
		MaxErrors:      cfg.Breaker.MaxErrors,
		ErrorTimeout:   cfg.Breaker.ErrorTimeout.D(),
	})

	eng := engine.New(engine.Config{
		MaxTradeFraction: cfg.Budget.MaxTradeFraction,
		MinTradeAmount:   cfg.Budget.MinTradeAmount,
		MaxTradeAmount:   cfg.Budget.MaxTradeAmount,
		StopLossPct:      cfg.Exits.StopLossPct,
		TrailingPct:      cfg.Exits.TrailingPct,
		ActivationPct:    cfg.Exits.ActivationPct,
		TakeProfits:      cfg.Exits.TakeProfits,
		PollInterval:     cfg.Engine.PollInterval.D(),
		CallTimeout:      cfg.Engine.CallTimeout.D(),
		SwapRetries:      cfg.Engine.SwapRetries,
		MaxCloseRetries:  cfg.Engine.MaxCloseRetries,
	}, ledger, breaker, engine.Deps{
		Quotes:   quotes,
		Executor: paper,
		Safety:   paper,
		Journal:  j,
		Notifier: notifier,
	})

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	eng.Start(ctx)
	defer eng.Stop()

	fmt.Printf("engine running: budget %.4f, max trade fraction %.2f\n",
		cfg.Budget.TotalCapital, cfg.Budget.MaxTradeFraction)
	fmt.Println("reading signals from stdin (ctrl-d to finish, ctrl-c to stop)")

	feedSignals(ctx, eng, paper, quotes)

	// Stdin is done; stay up until every position settles or the
	// process is interrupted.
	for len(eng.Live()) > 0 && ctx.Err() == nil {
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Printf("\nshutting down: %d live position(s)\n", len(eng.Live()))
	if err := eng.Err(); err != nil {
		return err
	}

	snap := ledger.Snapshot()
	fmt.Printf("final budget: %.4f total, %.4f committed, %.4f available\n",
		snap.Total, snap.Committed, snap.Available)
	return nil
}

// signalLine is the stdin wire form of a trade signal.
type signalLine struct {
	Token      string  `json:"token"`
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price,omitempty"`
}

// subscriber is implemented by quote providers that need per-token
// registration, like the websocket feed.
type subscriber interface {
	Subscribe(token string) error
}

func feedSignals(ctx context.Context, eng *engine.Engine, paper *broker.Paper, quotes broker.QuoteProvider) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var in signalLine
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			log.Printf("bad signal line: %v", err)
			continue
		}
		if in.Price > 0 {
			paper.SetPrice(in.Token, in.Price)
		}
		if sub, ok := quotes.(subscriber); ok {
			if err := sub.Subscribe(in.Token); err != nil {
				log.Printf("feed subscribe %s: %v", in.Token, err)
			}
		}

		side := market.Buy
		if strings.EqualFold(in.Side, "sell") {
			side = market.Sell
		}
		res := eng.Submit(ctx, market.Signal{
			ID:         id.New(),
			Token:      in.Token,
			Side:       side,
			Confidence: in.Confidence,
			CreatedAt:  time.Now().UTC(),
		})
		fmt.Printf("signal %s %s: %s", in.Token, strings.ToLower(side.String()), res.Status)
		if res.Reason != "" {
			fmt.Printf(" (%s)", res.Reason)
		}
		fmt.Println()

		if ctx.Err() != nil {
			return
		}
	}
}

func buildJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "csv":
		return journal.NewCSV(cfg.PositionsFile, cfg.ClosesFile)
	case "none", "":
		return journal.Nop{}, nil
	default:
		return journal.NewSQLite(cfg.DBPath)
	}
}

func buildNotifier(cfg config.TelegramConfig) (notify.Notifier, error) {
	if cfg.BotToken == "" {
		return notify.Log{}, nil
	}
	tg, err := notify.NewTelegram(cfg.BotToken, cfg.ChatID)
	if err != nil {
		return nil, err
	}
	return notify.Fanout{notify.Log{}, tg}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server: %v", err)
	}
}
