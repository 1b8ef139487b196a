package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-assistant-be/internal/config"
	"ai-assistant-be/pkg/database"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Connectivity probe for every external dependency of the assistant:
// Postgres, Redis (result store), NATS (task broker), the LLM endpoint
// and the calendar sub-agent. Run it before blaming the pipeline.
func main() {
	cfg := config.Load()

	ok := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Println("ASSISTANT DEPENDENCY DIAGNOSTICS")
	fmt.Println(strings.Repeat("=", 60))

	// 1. Postgres
	if cfg.Database.Connection == "" {
		fmt.Printf("Postgres        %s DB_CONNECTION_STRING not set\n", warn("SKIP"))
	} else if db, err := database.NewGormDBFromDSN(cfg.Database.Connection); err != nil {
		fmt.Printf("Postgres        %s %v\n", fail("FAIL"), err)
	} else {
		sqlDB, _ := db.DB()
		if err := sqlDB.Ping(); err != nil {
			fmt.Printf("Postgres        %s %v\n", fail("FAIL"), err)
		} else {
			fmt.Printf("Postgres        %s\n", ok("OK"))
		}
		sqlDB.Close()
	}

	// 2. Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		fmt.Printf("Redis           %s %v\n", fail("FAIL"), err)
	} else {
		fmt.Printf("Redis           %s\n", ok("OK"))
	}
	rdb.Close()

	// 3. NATS
	if nc, err := nats.Connect(cfg.App.NatsURL, nats.Timeout(5*time.Second)); err != nil {
		fmt.Printf("NATS            %s %v\n", fail("FAIL"), err)
	} else {
		fmt.Printf("NATS            %s (%s)\n", ok("OK"), nc.ConnectedUrl())
		nc.Close()
	}

	// 4. LLM endpoint
	probeHTTP("LLM endpoint   ", cfg.Ai.OllamaBaseURL+"/api/tags", ok, fail)

	// 5. Calendar sub-agent
	probeHTTP("Calendar agent ", cfg.Calendar.AgentURL+"/healthz", ok, fail)

	fmt.Println(strings.Repeat("=", 60))
}

func probeHTTP(name, url string, ok, fail func(a ...interface{}) string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("%s %s %v\n", name, fail("FAIL"), err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		fmt.Printf("%s %s status %d\n", name, fail("FAIL"), resp.StatusCode)
		return
	}
	fmt.Printf("%s %s status %d\n", name, ok("OK"), resp.StatusCode)
}
