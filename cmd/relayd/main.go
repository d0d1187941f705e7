// Command relayd runs the relay server, or — without -daemon — an
// interactive account/device maintenance shell over stdin/stdout (§6.1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/atsika/qrelay"
	"go.uber.org/zap"
)

func main() {
	help := flag.Bool("help", false, "print usage and exit")
	daemon := flag.Bool("daemon", false, "run the relay server instead of the admin shell")
	configPath := flag.String("config", "/etc/qrelay/qrelay.conf", "path to the server configuration file")
	channelID := flag.Uint("channel-id", 1, "this instance's channel identifier")
	connectionRole := flag.Bool("connection-role", false, "run as a connection-role instance instead of communication-role")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	cfg, err := qrelay.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qrelay: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := qrelay.NewLogger(*daemon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qrelay: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := qrelay.OpenStore(cfg.StoreConfig())
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}

	if !*daemon {
		if err := qrelay.RunAdmin(context.Background(), store, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "qrelay: admin: %v\n", err)
			os.Exit(1)
		}
		return
	}

	role := qrelay.RoleCommunication
	if *connectionRole {
		role = qrelay.RoleConnection
	}

	server := qrelay.NewServer(cfg, role, uint32(*channelID), log, store)
	if err := server.Listen(context.Background()); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
