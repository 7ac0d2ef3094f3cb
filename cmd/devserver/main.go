// cmd/devserver/main.go
//
// Reference intake API server – entry point.
//
// Boot sequence
// -------------
//
//  1. Load configuration (conf/.env → conf/intake.yaml → INTAKE_ overrides,
//     `vault:` references resolved).
//
//  2. Start the daily rotating logger (tees to console when on a TTY).
//
//  3. Register the wizard form definitions.
//
//  4. Connect the MySQL submission store.
//
//  5. Serve the form API plus Prometheus /metrics until SIGINT/SIGTERM.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upmin-guidance/intake/internal/config"
	"github.com/upmin-guidance/intake/internal/devserver"
	"github.com/upmin-guidance/intake/internal/forms"
	"github.com/upmin-guidance/intake/internal/logger"
	"github.com/upmin-guidance/intake/internal/server"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.LogDir(), runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	if err := forms.RegisterAll(); err != nil {
		logOut.Fatalw("register forms", "err", err)
	}

	//
	// ── 1.  Submission store ────────────────────────────────────────────
	//
	// The DSN stays in YAML with a {password} placeholder; the secret
	// itself arrives via Vault or env.
	dsn := strings.ReplaceAll(cfg.DevServer.DSN, "{password}", cfg.DevServer.Password)
	store, err := devserver.Open(dsn)
	if err != nil {
		logOut.Fatalw("connect submission store", "err", err)
	}
	defer store.Close()
	logOut.Infow("submission store online")

	//
	// ── 2.  Route tree: form API + metrics ──────────────────────────────
	//
	choices := devserver.Choices{
		forms.BISID: {
			"student_support.support": {
				"self", "both_parents", "father_only", "mother_only",
				"scholarship", "combination", "others", "gov_funded",
			},
		},
	}
	handler := devserver.NewHandler(store, cfg.API.Token, choices)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	//
	// ── 3.  Serve until signalled ───────────────────────────────────────
	//
	srv := server.New(cfg.DevServer.ListenAddr, mux)
	if err := server.Run(ctx, srv, logOut); err != nil {
		logOut.Fatalw("http server", "err", err)
	}
}
