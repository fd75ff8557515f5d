// Command seed registers participants in the directory and can issue a
// development token for them.
//
//	seed -kind Primary -id 65a1f0c2e4b0a1b2c3d4e5f6 -token
package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/identity"
	"chat-relay/repositories"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var (
		dbPath   = flag.String("db", os.Getenv("BADGER_FILEPATH"), "badger directory")
		rawKind  = flag.String("kind", string(domain.PrimaryAccount), "Primary or Dependent")
		id       = flag.String("id", "", "participant id, generated when empty")
		issue    = flag.Bool("token", false, "print a token for the participant")
		tokenTTL = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	kind, ok := domain.ParseSenderKind(*rawKind)
	if !ok {
		return fmt.Errorf("unknown kind %q", *rawKind)
	}
	if *id == "" {
		*id = identity.New()
	}
	if err := identity.Validate(*id, "id"); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("BADGER_FILEPATH or -db is required")
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := repositories.NewParticipantRepository(db).Register(kind, *id); err != nil {
		return err
	}
	fmt.Printf("registered %s %s\n", kind, *id)

	if *issue {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is required to issue a token")
		}
		token, err := auth.NewVerifier(secret).Issue(*id, []string{string(kind)}, *tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
	}
	return nil
}
