package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/zapdeskhq/zapdesk/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("zapdesk doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Mode:     %s\n", cfg.Database.Mode)
	fmt.Printf("  Listen:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	check("API auth token (ZAPDESK_API_TOKEN)", cfg.Server.AuthToken != "")
	check("WhatsApp access token (ZAPDESK_WA_ACCESS_TOKEN)", cfg.WhatsApp.AccessToken != "")
	check("WhatsApp phone number id", cfg.WhatsApp.PhoneNumberID != "")
	check("WhatsApp webhook verify token (ZAPDESK_WA_VERIFY_TOKEN)", cfg.WhatsApp.VerifyToken != "")
	check("AI gateway token (ZAPDESK_AI_GATEWAY_TOKEN)", cfg.AI.GatewayToken != "")

	if cfg.IsManagedMode() {
		fmt.Print("  [.] Postgres connectivity... ")
		if err := pingPostgres(cfg.Database.PostgresDSN); err != nil {
			fmt.Printf("FAIL: %s\n", err)
		} else {
			fmt.Println("OK")
		}
	} else {
		fmt.Printf("  [.] SQLite path: %s\n", cfg.Database.SQLitePath)
	}
}

func check(name string, ok bool) {
	mark := "x"
	if ok {
		mark = "+"
	}
	fmt.Printf("  [%s] %s\n", mark, name)
}

func pingPostgres(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
