package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/RichardKnop/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
)

const cliName = "minikv"

// Globals are shared by every command.
type Globals struct {
	Path       string `name:"path" short:"d" help:"Store directory, or data file with --no-subdir" default:"./data" env:"MINIKV_PATH" type:"path"`
	MapSize    string `name:"map-size" help:"Memory map size, e.g. 10MiB. Empty keeps the stored size" env:"MINIKV_MAP_SIZE"`
	MaxReaders int    `name:"max-readers" help:"Maximum concurrent readers" default:"126" env:"MINIKV_MAX_READERS"`
	NoSubdir   bool   `name:"no-subdir" help:"Path names the data file itself" env:"MINIKV_NO_SUBDIR"`
	AutoGrow   string `name:"auto-grow" help:"Grow the map when full, up to this size (0 for no limit)" env:"MINIKV_AUTO_GROW"`
	Sync       bool   `name:"sync" help:"fsync every commit" env:"MINIKV_SYNC"`
	LogLevel   string `name:"log-level" help:"Log level" default:"warn" env:"LOG_LEVEL"`

	logger *zap.Logger
}

var cli struct {
	Globals

	Put     putCmd     `cmd:"" help:"Store a value"`
	Get     getCmd     `cmd:"" help:"Print a value"`
	Del     delCmd     `cmd:"" help:"Delete a key"`
	Scan    scanCmd    `cmd:"" help:"Print a range of entries"`
	Stat    statCmd    `cmd:"" help:"Print store statistics"`
	Backup  backupCmd  `cmd:"" help:"Write a consistent copy of the store"`
	Restore restoreCmd `cmd:"" help:"Rebuild a store from a backup"`
	Grow    growCmd    `cmd:"" help:"Enlarge the memory map"`
}

func (g *Globals) open(readOnly bool) (*minikv.DB, error) {
	opts := []minikv.Option{
		minikv.WithLogger(g.logger),
		minikv.WithMaxReaders(g.MaxReaders),
		minikv.WithNoSubdir(g.NoSubdir),
		minikv.WithSync(g.Sync),
		minikv.WithReadOnly(readOnly),
		minikv.WithCreateIfMissing(!readOnly),
	}
	if g.MapSize != "" {
		size, err := parseSize(g.MapSize)
		if err != nil {
			return nil, fmt.Errorf("invalid map size: %w", err)
		}
		opts = append(opts, minikv.WithMapSize(size))
	}
	if g.AutoGrow != "" {
		size, err := parseSize(g.AutoGrow)
		if err != nil {
			return nil, fmt.Errorf("invalid auto grow limit: %w", err)
		}
		opts = append(opts, minikv.WithAutoGrow(size))
	}
	return minikv.Open(g.Path, opts...)
}

func parseSize(s string) (int64, error) {
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}

type putCmd struct {
	Key   string `arg:"" help:"Key"`
	Value string `arg:"" help:"Value"`
}

func (c *putCmd) Run(ctx context.Context, g *Globals) error {
	db, err := g.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Put(ctx, []byte(c.Key), []byte(c.Value))
}

type getCmd struct {
	Key string `arg:"" help:"Key"`
}

func (c *getCmd) Run(ctx context.Context, g *Globals) error {
	db, err := g.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	value, err := db.GetString(ctx, []byte(c.Key))
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

type delCmd struct {
	Key string `arg:"" help:"Key"`
}

func (c *delCmd) Run(ctx context.Context, g *Globals) error {
	db, err := g.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Delete(ctx, []byte(c.Key))
}

type scanCmd struct {
	GT       string `name:"gt" help:"Keys greater than"`
	GTE      string `name:"gte" help:"Keys greater than or equal"`
	LT       string `name:"lt" help:"Keys less than"`
	LTE      string `name:"lte" help:"Keys less than or equal"`
	Reverse  bool   `help:"Iterate in descending order"`
	Limit    int    `help:"Stop after this many entries (0 for all)"`
	KeysOnly bool   `name:"keys-only" help:"Print keys only"`
}

func (c *scanCmd) Run(ctx context.Context, g *Globals) error {
	db, err := g.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	it, err := db.NewIterator(minikv.IteratorOptions{
		GT:         bound(c.GT),
		GTE:        bound(c.GTE),
		LT:         bound(c.LT),
		LTE:        bound(c.LTE),
		Reverse:    c.Reverse,
		Limit:      c.Limit,
		SkipValues: c.KeysOnly,
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, value, err := it.Next()
		if errors.Is(err, minikv.ErrIteratorEnd) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.KeysOnly {
			fmt.Println(string(key))
			continue
		}
		fmt.Printf("%s\t%s\n", key, value)
	}
}

func bound(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

type statCmd struct{}

func (c *statCmd) Run(g *Globals) error {
	db, err := g.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("Store ID:       %s\n", s.StoreID)
	fmt.Printf("Page size:      %d\n", s.PageSize)
	fmt.Printf("Map size:       %s\n", humanize.IBytes(uint64(s.MapSize)))
	fmt.Printf("Used:           %s\n", humanize.IBytes(uint64(s.LastPage+1)*uint64(s.PageSize)))
	fmt.Printf("Last page:      %d\n", s.LastPage)
	fmt.Printf("Last txn:       %d\n", s.LastTxID)
	fmt.Printf("Readers:        %d/%d\n", s.NumReaders, s.MaxReaders)
	fmt.Printf("Depth:          %d\n", s.Depth)
	fmt.Printf("Entries:        %s\n", humanize.Comma(int64(s.Entries)))
	fmt.Printf("Branch pages:   %d\n", s.BranchPages)
	fmt.Printf("Leaf pages:     %d\n", s.LeafPages)
	fmt.Printf("Overflow pages: %d\n", s.OverflowPages)
	fmt.Printf("Free pages:     %d\n", s.FreePages)
	return nil
}

type backupCmd struct {
	Dest     string `arg:"" help:"Backup file to create" type:"path"`
	Compress bool   `help:"Compress the backup with xz"`
}

func (c *backupCmd) Run(ctx context.Context, g *Globals) error {
	db, err := g.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Backup(ctx, c.Dest, c.Compress); err != nil {
		return err
	}
	g.logger.Info("backup written", zap.String("path", c.Dest))
	return nil
}

type restoreCmd struct {
	Src  string `arg:"" help:"Backup file" type:"existingfile"`
	Dest string `arg:"" help:"Store to create" type:"path"`
}

func (c *restoreCmd) Run(ctx context.Context, g *Globals) error {
	if err := minikv.Restore(ctx, c.Src, c.Dest, g.NoSubdir); err != nil {
		return err
	}
	g.logger.Info("store restored", zap.String("path", c.Dest))
	return nil
}

type growCmd struct {
	Size string `arg:"" help:"New map size, e.g. 1GiB"`
}

func (c *growCmd) Run(ctx context.Context, g *Globals) error {
	size, err := parseSize(c.Size)
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	db, err := g.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Grow(ctx, size)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name(cliName),
		kong.Description("Embedded memory mapped key value store"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	logger, err := logging.New(cli.LogLevel)
	kctx.FatalIfErrorf(err)
	defer logger.Sync() // flushes buffer, if any
	cli.logger = logger

	err = kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}
