package main

import (
	"context"
	"fmt"
	"os"

	ddns "github.com/larivierec/cloudflare-ddns-sync/pkg/cmd"
)

func main() {
	if err := ddns.Execute(context.Background(), os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
