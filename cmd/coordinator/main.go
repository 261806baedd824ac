package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"conference-lab/auth"
	"conference-lab/chat"
	"conference-lab/conference"
	"conference-lab/infrastructure/gateway"
	"conference-lab/infrastructure/storage"
	"conference-lab/internal"
	"conference-lab/mediator"
	"conference-lab/permissions"
	"conference-lab/rooms"
	"conference-lab/synchronization"
	"conference-lab/timers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the process lifecycle, and
// centralizes error reporting. Returning the error to main keeps every
// defer (database close, timer shutdown) on the exit path.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.LoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Repositories & outbound edge
	conferenceRepo := storage.NewConferenceRepository(db, log)
	roomRepo := storage.NewRoomRepository(db, log)
	joinedRepo := storage.NewJoinedParticipantsRepository(db, log)
	subscriptionRepo := storage.NewSubscriptionRepository(db, log)
	valueRepo := storage.NewSyncValueRepository(db, log)
	temporaryRepo := storage.NewTemporaryPermissionRepository(db, log)
	typingRepo := storage.NewTypingRepository(db, log)
	messageRepo := storage.NewMessageRepository(db, log)
	gw := gateway.NewLoggingGateway(log)

	// 4. Engine wiring
	bus := mediator.New(log)
	updater := synchronization.NewUpdater(subscriptionRepo, valueRepo, gw, bus, log)
	stacks := permissions.NewStackProvider(conferenceRepo, roomRepo, temporaryRepo)
	guard := permissions.NewGuard(stacks)
	tokens := auth.NewTokenFactory(config.TokenSecret, config.AuthTokenDuration)

	typingTimer := chat.NewTypingTimer(bus, timers.StdDelay, log)
	defer typingTimer.Stop()

	conference.NewService(bus, conferenceRepo, joinedRepo, gw, tokens, guard, updater, log).Register()
	permissions.NewService(bus, stacks, temporaryRepo, updater, log).Register()
	rooms.NewService(bus, roomRepo, conferenceRepo, guard, updater, log).Register()
	chat.NewService(bus, messageRepo, typingRepo, stacks, typingTimer, updater, config.TypingTimeout, log).Register()

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Coordinator started", "badgerPath", config.BadgerFilepath)
	<-ctx.Done()

	log.Info("Shutting down gracefully...")
	return nil
}
