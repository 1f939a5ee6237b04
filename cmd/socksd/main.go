package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/jicanta-labs/socks5ev/internal/config"
	"github.com/jicanta-labs/socks5ev/internal/management"
	"github.com/jicanta-labs/socks5ev/internal/selector"
	"github.com/jicanta-labs/socks5ev/internal/socks5"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	testConfig := flag.Bool("t", false, "test configuration and exit")
	var userArgs stringSlice
	flag.Var(&userArgs, "user", "initial user as name:password (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *testConfig {
			fmt.Fprintf(os.Stderr, "configuration test FAILED: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("[main] %v", err)
	}
	for _, arg := range userArgs {
		u, err := config.ParseUserArg(arg)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		cfg.Users = append(cfg.Users, u)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	if *testConfig {
		fmt.Printf("configuration file %s test OK\n", *configPath)
		fmt.Printf("  socks: %s:%d\n", cfg.SocksAddr, cfg.SocksPort)
		fmt.Printf("  mgmt:  %s:%d\n", cfg.MgmtAddr, cfg.MgmtPort)
		fmt.Printf("  users: %d\n", len(cfg.Users))
		os.Exit(0)
	}

	signal.Ignore(syscall.SIGPIPE)

	srv, err := socks5.NewServer(socks5.ServerConfig{
		Addr:    cfg.SocksAddr,
		Port:    cfg.SocksPort,
		BufSize: cfg.BufferSize,
		PoolCap: cfg.PoolSize,
		Users:   cfg.Credentials(),
		Logger:  log.New(os.Stderr, "", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer srv.Close()

	mgmt, err := management.New(cfg.MgmtAddr, cfg.MgmtPort, srv.Users(), srv.Metrics(), log.New(os.Stderr, "[mgmt] ", log.LstdFlags))
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer mgmt.Close()
	if err := srv.Selector().Register(mgmt.FD(), selector.Read, mgmt); err != nil {
		log.Fatalf("[main] register management listener: %v", err)
	}

	log.Printf("[main] socks5 listening on :%d, management on :%d", cfg.SocksPort, cfg.MgmtPort)

	var stopping atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				srv.Metrics().Print(os.Stdout)
			default:
				log.Printf("[main] received signal %s, shutting down...", sig)
				stopping.Store(true)
			}
		}
	}()

	shouldStop := func() bool { return stopping.Load() || mgmt.Quit() }
	if err := srv.Run(shouldStop); err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Println("[main] shutdown complete")
}

// stringSlice implements flag.Value for a repeatable -user flag.
type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprint([]string(*s))
}

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}
