// Command kvcache is a small operator tool: it builds a cache from the
// environment (KVCACHE_KIND, KVCACHE_ENDPOINT, ...) and runs one command.
//
//	kvcache [flags] get KEY
//	kvcache [flags] set KEY VALUE
//	kvcache [flags] replace KEY VALUE
//	kvcache [flags] del KEY
//	kvcache [flags] pop KEY
//	kvcache [flags] touch KEY
//
// Exit status is 1 on a miss and 2 on any error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errMiss):
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "kvcache:", err)
		os.Exit(2)
	}
}
