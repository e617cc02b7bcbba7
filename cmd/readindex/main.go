package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/downfa11-org/readindex/pkg/cache"
	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/container"
	"github.com/downfa11-org/readindex/pkg/controller"
	"github.com/downfa11-org/readindex/pkg/metrics"
	"github.com/downfa11-org/readindex/pkg/storage"
	"github.com/downfa11-org/readindex/util"
	"github.com/peterh/liner"
)

var commands = []string{"CREATE", "LIST", "APPEND", "FLUSH", "SEAL", "MERGE", "TRUNCATE", "READ", "ENTRIES", "INFO", "DELETE", "SCALE", "SUCCESSORS", "HELP", "EXIT"}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		util.Fatal("❌ Failed to load config: %v", err)
	}

	fmt.Printf("🚀 Read index container on %s\n", cfg.DataDir)
	fmt.Printf("📊 Exporter: %v | redirect depth: %d | cache blocks: %d\n", cfg.EnableExporter, cfg.MaxRedirectDepth, cfg.CacheCapacity)

	if cfg.EnableExporter {
		srv := metrics.StartMetricsServer(cfg.ExporterPort)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	bc, err := cache.NewBlockCache(cfg)
	if err != nil {
		util.Fatal("❌ Failed to create cache: %v", err)
	}
	fs, err := storage.NewFileStorage(cfg)
	if err != nil {
		util.Fatal("❌ Failed to open storage: %v", err)
	}
	c := container.NewContainer(cfg, bc, fs)
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repl(ctx, controller.NewCommandHandler(c), filepath.Join(cfg.DataDir, ".history"))
}

func repl(ctx context.Context, ch *controller.CommandHandler, historyPath string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, strings.ToUpper(in)) {
				out = append(out, c)
			}
		}
		return out
	})
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("🔹 Ready. Type HELP for commands.")
	for ctx.Err() == nil {
		input, err := line.Prompt("readindex> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return
			}
			util.Error("prompt failed: %v", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if strings.EqualFold(input, "EXIT") {
			return
		}
		fmt.Println(ch.HandleCommand(ctx, input))
	}
}
