// Command operator manages back-office accounts.
//
//	operator create -email ops@example.com -password ...   add an operator
//	operator token  -sub ops@example.com [-ttl 12h]        mint an ADMIN token offline
//
// Settings come from the environment or .env, like the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/database"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
	"github.com/iliyamo/camp-seat-checkout/internal/utils"
)

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "create":
		err = create(os.Args[2:])
	case "token":
		err = token(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "operator:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: operator create|token [flags]")
	os.Exit(2)
}

func create(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	email := fs.String("email", "", "operator email")
	password := fs.String("password", "", "operator password")
	_ = fs.Parse(args)
	if *email == "" || len(*password) < 8 {
		return fmt.Errorf("-email and a -password of at least 8 characters are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBParams())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	id, err := repository.NewOperatorRepo(db).Create(ctx, *email, *password, cfg.BcryptCost)
	if err != nil {
		return err
	}
	fmt.Printf("operator %d created\n", id)
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("sub", "", "operator identifier stored in the token subject")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	_ = fs.Parse(args)
	if *subject == "" {
		return fmt.Errorf("-sub is required")
	}
	tok, err := utils.NewAdminToken(os.Getenv("JWT_SECRET"), *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok.Token)
	fmt.Fprintln(os.Stderr, "expires", tok.Exp.Format(time.RFC3339))
	return nil
}
