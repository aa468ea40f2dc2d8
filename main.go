package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/judwhite/go-svc/svc"
	"github.com/mreiferson/go-options"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/config"
	"github.com/zfair/zuid/server"
)

const version = "0.1.0"

type program struct {
	once   sync.Once
	server *server.Server
}

func main() {
	prg := &program{}
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		log.Fatalf("%s", err)
	}
}

func (p *program) Init(env svc.Environment) error {
	if env.IsWindowsService() {
		dir := filepath.Dir(os.Args[0])
		return os.Chdir(dir)
	}
	return nil
}

func (p *program) Start() error {
	cfg := config.NewConfig()

	flagSet := serverFlagSet(cfg)
	_ = flagSet.Parse(os.Args[1:])

	if flagSet.Lookup("version").Value.(flag.Getter).Get().(bool) {
		fmt.Println("zuid v" + version)
		os.Exit(0)
	}

	values := map[string]interface{}{}
	configFile := flagSet.Lookup("config").Value.String()
	if configFile != "" {
		file, err := config.LoadFile(configFile)
		if err != nil {
			log.Fatalf("%s", err)
		}
		values = file.Values
		cfg.Storage = file.Storage
		cfg.Sequencer = file.Sequencer
	}
	options.Resolve(cfg, flagSet, values)

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("%s", err)
	}
	cfg.Logger = logger

	s, err := server.NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to instantiate server", zap.Error(err))
	}
	p.server = s

	go func() {
		err := p.server.Main()
		if err != nil {
			_ = p.Stop()
			os.Exit(1)
		}
	}()

	return nil
}

func (p *program) Stop() error {
	p.once.Do(func() {
		p.server.Exit()
		_ = p.server.Logger().Sync()
	})
	return nil
}

func serverFlagSet(cfg *config.Config) *flag.FlagSet {
	flagSet := flag.NewFlagSet("zuid", flag.ExitOnError)
	// basic options
	flagSet.Bool("version", false, "print version string")
	flagSet.String("config", "", "path to config file (.yaml, .yml or .toml)")
	flagSet.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flagSet.String("http-address", cfg.HTTPAddress, "<addr>:<port> to listen on for HTTP clients")

	// registry options
	flagSet.String("registry-dir", cfg.RegistryDir, "directory holding registry files")
	flagSet.String("default-registry", cfg.DefaultRegistry, "registry file used when a request names none")
	flagSet.Uint64("default-start", cfg.DefaultStart, "lowest id handed out when a request gives no start")
	flagSet.String("default-id-type", cfg.DefaultIDType, "integer type ids are checked against")

	// lock options
	flagSet.Duration("lock-timeout", cfg.LockTimeout, "how long to wait for a registry lock (0 waits forever)")
	flagSet.Duration("lock-retry-delay", cfg.LockRetryDelay, "delay between lock attempts while a timeout is set")

	return flagSet
}
