// Command userctl manages server accounts from the command line:
//
//	userctl adduser <username> <password>
//	userctl passwd  <username> <password>
//	userctl deluser <username>
//	userctl lsuser
//
// It uses the same configuration sources as the server, so it can run on
// the same host against the same database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MKhiriev/go-card-sync/internal/config"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logger.NewLogger("userctl")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	ctx := context.Background()

	db, err := store.NewDatabase(ctx, cfg.Storage.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting server database")
	}
	defer db.Close()

	if err = db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("error migrating server database")
	}

	users := store.NewUserRepository(db, log)
	auth := service.NewAuthService(users, cfg.App.PasswordHashKey, log)

	switch os.Args[1] {
	case "adduser":
		requireArgs(3)
		if _, err = auth.RegisterUser(ctx, os.Args[2], os.Args[3]); err != nil {
			log.Fatal().Err(err).Msg("error adding user")
		}
		fmt.Printf("added user %s\n", os.Args[2])

	case "passwd":
		requireArgs(3)
		if err = auth.SetPassword(ctx, os.Args[2], os.Args[3]); err != nil {
			log.Fatal().Err(err).Msg("error setting password")
		}
		fmt.Printf("password updated for %s\n", os.Args[2])

	case "deluser":
		requireArgs(2)
		if err = auth.DeleteUser(ctx, os.Args[2]); err != nil {
			log.Fatal().Err(err).Msg("error deleting user")
		}
		fmt.Printf("deleted user %s\n", os.Args[2])

	case "lsuser":
		list, err := auth.ListUsers(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("error listing users")
		}
		for _, u := range list {
			fmt.Println(u.Username)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func requireArgs(n int) {
	if len(os.Args) < n+1 {
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: userctl adduser|passwd <username> <password> | deluser <username> | lsuser")
}
