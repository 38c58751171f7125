package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"YieldRounds/internal/api"
	"YieldRounds/internal/engine"
	"YieldRounds/internal/logger"
	"YieldRounds/internal/snapshot"
	"YieldRounds/internal/state"
	"YieldRounds/internal/storage"
	"YieldRounds/internal/swap"
)

// Node wires storage, the dev router, the engine and the HTTP API.
type Node struct {
	cfg *Config

	storage  *storage.Storage
	balances *swap.Balances
	router   *swap.Router
	engine   *engine.Engine
	api      *api.Server
}

// NewNode creates and initializes a node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	if err := n.restoreSnapshot(); err != nil {
		n.Close()
		return nil, fmt.Errorf("restore snapshot:\n%w", err)
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, fmt.Errorf("init engine:\n%w", err)
	}

	n.api = api.New(cfg.HTTPAddress, n.engine)

	return n, nil
}

// initStorage opens the data dir, or an in-memory store when none is set.
func (n *Node) initStorage() error {
	var err error

	if n.cfg.DataPath == "" {
		n.storage, err = storage.NewInMemory()
	} else {
		n.storage, err = storage.New(n.cfg.DataPath)
	}

	return err
}

// restoreSnapshot imports the configured snapshot file into the empty store.
func (n *Node) restoreSnapshot() error {
	if n.cfg.RestorePath == "" {
		return nil
	}

	data, err := os.ReadFile(n.cfg.RestorePath)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	info, err := snapshot.Import(n.storage, data)
	if errors.Is(err, snapshot.ErrNotEmpty) {
		logger.Warn("data dir not empty, skipping restore", "path", n.cfg.RestorePath)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("snapshot restored",
		"path", n.cfg.RestorePath,
		"entries", info.Entries,
		"last_event", info.LastEvent,
	)

	return nil
}

// initEngine builds the router and the engine over the opened store.
func (n *Node) initEngine() error {
	n.balances = swap.NewBalances()

	router, err := swap.NewRouter(n.cfg.swapConfig(), n.balances)
	if err != nil {
		return fmt.Errorf("create router:\n%w", err)
	}
	n.router = router

	ecfg := n.cfg.engineConfig(router, n.balances)
	ecfg.State = state.New(n.storage)

	n.engine, err = engine.New(ecfg)
	return err
}

// Run starts the API and blocks until a shutdown signal.
func (n *Node) Run() error {
	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components.
func (n *Node) Close() error {
	var errs []error

	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop api:\n%w", err))
		}
	}

	if n.storage != nil {
		if err := n.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage:\n%w", err))
		}
	}

	return errors.Join(errs...)
}
