package main

import (
	"context"
	"log"

	"alarmify/internal/cli"
	"alarmify/internal/config"
	"alarmify/internal/flagx"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadClient(flagx.ConfigFlag())
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(ctx)
}
