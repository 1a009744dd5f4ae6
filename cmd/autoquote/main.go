package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"autoquote-backend/cmd/autoquote/commands"
	"autoquote-backend/lib/configutil"
	"autoquote-backend/lib/telemetry"
	"autoquote-backend/lib/util/serviceutil"
)

func main() {
	err := configutil.LoadDotEnv()
	if err != nil {
		serviceutil.Fatal("failed to load .env", err)
	}

	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()

	tel, err := telemetry.SetupFromEnv(ctx, "autoquote")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("telemetry disabled", "err", err)
	}
	defer tel.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
