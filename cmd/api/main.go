package main

import (
	"context"
	"log"
	"os"

	"barterflow/config"
)

func main() {
	ctx := context.Background()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/default.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	runtime, err := NewRuntime(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatalf("bootstrap api runtime: %v", err)
	}
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("run api: %v", err)
	}
}
