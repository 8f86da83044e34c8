package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/RichardKnop/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
)

var cli struct {
	Path      string `name:"path" short:"d" help:"Store directory" default:"./data" type:"path"`
	Count     int    `name:"count" short:"n" help:"Number of records to write" default:"10000"`
	BatchSize int    `name:"batch-size" help:"Records per write transaction" default:"500"`
	ValueSize string `name:"value-size" help:"Approximate size of each value" default:"256B"`
	MapSize   string `name:"map-size" help:"Memory map size" default:"64MiB"`
	Seed      int64  `name:"seed" help:"Seed for generated data, 0 for random" default:"0"`
	LogLevel  string `name:"log-level" help:"Log level" default:"info" env:"LOG_LEVEL"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("add-test-data"),
		kong.Description("Fill a store with generated records"),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cli.LogLevel)
	kctx.FatalIfErrorf(err)
	defer logger.Sync() // flushes buffer, if any

	kctx.FatalIfErrorf(run(ctx, logger))
}

func run(ctx context.Context, logger *zap.Logger) error {
	valueSize, err := humanize.ParseBytes(cli.ValueSize)
	if err != nil {
		return fmt.Errorf("invalid value size: %w", err)
	}
	mapSize, err := humanize.ParseBytes(cli.MapSize)
	if err != nil {
		return fmt.Errorf("invalid map size: %w", err)
	}

	db, err := minikv.Open(cli.Path,
		minikv.WithLogger(logger),
		minikv.WithMapSize(int64(mapSize)),
		minikv.WithAutoGrow(0),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	faker := gofakeit.New(cli.Seed)
	start := time.Now()

	batch := db.NewBatch()
	for i := 0; i < cli.Count; i++ {
		key := fmt.Sprintf("%s:%s", faker.Username(), faker.UUID())
		value := faker.LetterN(uint(faker.IntRange(int(valueSize/2)+1, int(valueSize)*3/2+1)))
		batch.Put([]byte(key), []byte(value))

		if batch.Len() < cli.BatchSize && i < cli.Count-1 {
			continue
		}
		if err := batch.Write(ctx); err != nil {
			return err
		}
		logger.Debug("wrote batch", zap.Int("records", i+1))
	}

	s, err := db.Stat()
	if err != nil {
		return err
	}
	logger.Sugar().With(
		"records", cli.Count,
		"entries", s.Entries,
		"map_size", humanize.IBytes(uint64(s.MapSize)),
		"took", time.Since(start).String(),
	).Info("test data added")

	return nil
}
