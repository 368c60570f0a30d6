package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ewalk/calbot/internal/auth"
	"github.com/ewalk/calbot/internal/effectors"
	"github.com/ewalk/calbot/internal/executor"
	"github.com/ewalk/calbot/internal/gcal"
	"github.com/ewalk/calbot/internal/pipeline"
	"github.com/ewalk/calbot/internal/resolver"
	"github.com/ewalk/calbot/internal/senses"
	"github.com/ewalk/calbot/internal/session"
	"github.com/ewalk/calbot/internal/store"
	"github.com/ewalk/calbot/internal/synth"
)

func main() {
	log.Println("calbot - chat calendar assistant")
	log.Println("================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	// Config from environment
	discordToken := os.Getenv("DISCORD_TOKEN")
	discordChannel := os.Getenv("DISCORD_CHANNEL_ID")
	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	redirectURL := os.Getenv("GOOGLE_REDIRECT_URL")
	llmBaseURL := os.Getenv("LLM_BASE_URL")
	llmModel := os.Getenv("LLM_MODEL")
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8484"
	}
	tzName := os.Getenv("TIMEZONE")

	if discordToken == "" {
		log.Fatal("DISCORD_TOKEN environment variable required")
	}
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		log.Fatal("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, and GOOGLE_REDIRECT_URL environment variables required")
	}

	loc := time.Local
	if tzName != "" {
		l, err := time.LoadLocation(tzName)
		if err != nil {
			log.Fatalf("Invalid TIMEZONE %q: %v", tzName, err)
		}
		loc = l
	}

	// Ensure state directory exists
	os.MkdirAll(statePath, 0755)

	// Durable store
	db, err := store.Open(statePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	// Auth: OAuth provider, pending-auth lifecycle, callback server
	provider := auth.NewProvider(auth.ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})
	authMgr := auth.NewManager(provider, db)
	authMgr.StartSweeper()

	httpServer := auth.NewHTTPServer(httpAddr, authMgr)
	httpServer.Start()

	// Action execution against the remote calendar plus local mirror
	calendar := gcal.NewClient(gcal.Config{})
	exec := executor.NewExecutor(calendar, authMgr, db)

	// Intent resolution: model first, keyword rules when it is down
	fallback := resolver.NewFallback()
	if err := fallback.LoadRules(filepath.Join(statePath, "rules")); err != nil {
		log.Printf("Warning: failed to load rule overrides: %v", err)
	}
	resolve := resolver.NewChain(resolver.NewLLM(llmBaseURL, llmModel), fallback)

	sessions := session.NewManager(db, session.DefaultTTL)

	pipe := pipeline.New(pipeline.Config{
		Sessions: sessions,
		Events:   db,
		Auth:     authMgr,
		Gate:     auth.NewGate(),
		Resolver: resolve,
		Executor: exec,
		Synth:    synth.New(synth.NewOllamaGenerator(llmBaseURL, llmModel)),
		Location: loc,
	})

	// Discord transport: inbound messages fan out to one goroutine per
	// turn; per-identity ordering is the pipeline's job
	var effector *effectors.DiscordEffector
	sense, err := senses.NewDiscordSense(senses.DiscordConfig{
		Token:     discordToken,
		ChannelID: discordChannel,
	}, func(msg senses.Message) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			reply, err := pipe.HandleMessage(ctx, msg.Identity, msg.Text)
			if err != nil {
				log.Printf("[main] Turn failed for %s: %v", msg.Identity, err)
				reply = "Sorry, something went wrong. Please try again."
			}
			if reply == "" {
				return
			}
			if err := effector.Send(msg.ChannelID, reply); err != nil {
				log.Printf("[main] Failed to send reply: %v", err)
			}
		}()
	})
	if err != nil {
		log.Fatalf("Failed to create Discord sense: %v", err)
	}
	// The effector shares the sense's session and must exist before the
	// first inbound message
	effector = effectors.NewDiscordEffector(sense.Session())
	if err := sense.Start(); err != nil {
		log.Fatalf("Failed to start Discord sense: %v", err)
	}

	log.Println("[main] All subsystems started. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] Shutting down...")

	sense.Stop()
	authMgr.StopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP server shutdown: %v", err)
	}

	log.Println("[main] Goodbye!")
}
