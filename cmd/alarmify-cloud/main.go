package main

import (
	"context"
	"log"

	"alarmify/internal/config"
	"alarmify/internal/flagx"
	"alarmify/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadServer(flagx.ConfigFlag())
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
