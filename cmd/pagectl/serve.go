package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/internal/debugsrv"
	"github.com/joshuapare/pageheap/pageheap"
	"github.com/joshuapare/pageheap/pageheap/central"
	"github.com/joshuapare/pageheap/pageheap/sysmem"
)

var serveFlags struct {
	addr     string
	maxConns int
	source   string
	limit    uint64
}

func init() {
	cmd := newServeCmd()
	f := cmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "127.0.0.1:6061", "Listen address")
	f.IntVar(&serveFlags.maxConns, "max-conns", 16, "Maximum concurrent connections (0 = unlimited)")
	f.StringVar(&serveFlags.source, "source", "mmap", "Memory source: mmap or sim")
	f.Uint64Var(&serveFlags.limit, "limit", 1<<30, "Cap on memory obtained from the source in bytes (0 = unlimited)")
	rootCmd.AddCommand(cmd)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the debug HTTP API over a live heap",
		Long: `The serve command creates a heap and an object allocator on top of it and
serves a debug API until interrupted:

  GET    /stats            heap and allocator counters
  GET    /verify           structural invariant check
  GET    /spans?state=     span listing (free or in-use)
  POST   /spans            {"pages": n, "size_class": c}
  DELETE /spans/:start     free a span allocated through POST /spans
  GET    /lookup/:page     in-use span containing a page
  GET    /classes          size-class table
  POST   /objects          {"size": n}
  DELETE /objects/:addr    free an object

Example:
  pagectl serve --addr :6061
  pagectl serve --source sim --config compact`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newSource(kind string, limit uintptr, pageSize uintptr) (pageheap.SysMemory, error) {
	switch kind {
	case "mmap":
		return sysmem.NewMmap(limit), nil
	case "sim":
		return sysmem.NewSim(sysmem.SimOptions{Limit: limit, PageSize: pageSize}), nil
	default:
		return nil, fmt.Errorf("unknown source %q (want mmap or sim)", kind)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := heapConfig()
	if err != nil {
		return err
	}
	src, err := newSource(serveFlags.source, uintptr(serveFlags.limit), cfg.PageSize())
	if err != nil {
		return err
	}
	h, err := pageheap.New(src, nil, &cfg)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printInfo("Serving %s heap on %s\n", cfg.Name, serveFlags.addr)
	return debugsrv.New(h, central.NewAllocator(h)).Serve(ctx, serveFlags.addr, serveFlags.maxConns)
}
