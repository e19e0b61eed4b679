package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gfreires/feira/internal/daemon"
	"github.com/gfreires/feira/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	// Local .env overrides for development; missing file is fine.
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName}),
	)

	app.Run()
}
