package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/sharding-experiment/facilitator/internal/service"
)

const portKey = "port"

func serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serves the facilitator HTTP API",
		Args:  cobra.NoArgs,
		RunE:  serveFunc,
	}
	c.Flags().Int(portKey, 0, "HTTP port (0 = config port)")
	return c
}

func serveFunc(c *cobra.Command, _ []string) error {
	s, err := build(c)
	if err != nil {
		return err
	}
	defer s.Close()

	port := s.cfg.Port
	if p, _ := c.Flags().GetInt(portKey); p > 0 {
		port = p
	}
	svc := service.NewService(s.coord, s.journal, s.metrics, s.cfg.RequestTimeout())

	errc := make(chan error, 1)
	go func() { errc <- svc.Start(port) }()

	select {
	case err := <-errc:
		return err
	case <-c.Context().Done():
	}
	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(ctx)
}
