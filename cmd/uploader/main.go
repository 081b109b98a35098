// Package main implements uploader, a command-line caller of the photo
// journal API. It drives the direct upload flow end to end: it asks the API
// for a write credential, PUTs the file straight to object storage, and then
// either commits a photo record or discards the object.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{out: os.Stdout}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
