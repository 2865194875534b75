package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/booking"
	"github.com/XYinfg/distributed-booking-system/internal/config"
	"github.com/XYinfg/distributed-booking-system/internal/ledger"
	"github.com/XYinfg/distributed-booking-system/internal/logger"
	"github.com/XYinfg/distributed-booking-system/internal/monitor"
	"github.com/XYinfg/distributed-booking-system/internal/server"
	"github.com/XYinfg/distributed-booking-system/internal/transport"
)

// The facility directory is fixed for the process lifetime.
var seedFacilities = []string{"Room101", "LectureHallA"}

const shutdownGrace = 5 * time.Second

func main() {
	pflag.Int("port", 2222, "UDP port to listen on")
	pflag.String("semantics", "at-most-once", "invocation semantics: at-most-once or at-least-once")
	pflag.Float64("loss", 0.0, "simulated packet loss probability in [0, 1]")
	pflag.String("env", "development", "environment: development or production")
	pflag.Parse()
	_ = viper.BindPFlag("PORT", pflag.Lookup("port"))
	_ = viper.BindPFlag("SEMANTICS", pflag.Lookup("semantics"))
	_ = viper.BindPFlag("LOSS_PROBABILITY", pflag.Lookup("loss"))
	_ = viper.BindPFlag("ENV", pflag.Lookup("env"))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	semantics, err := ledger.ParseSemantics(cfg.Semantics)
	if err != nil {
		log.Fatal("invalid semantics", zap.Error(err))
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port})
	if err != nil {
		log.Fatal("listening", zap.Int("port", cfg.Port), zap.Error(err))
	}
	conn := transport.New(udp, transport.LossProbability(cfg.LossProbability), log)

	directory := booking.NewDirectory(nil, seedFacilities...)
	led := ledger.New(semantics, log)
	registry := monitor.NewRegistry(nil, log)
	pump := monitor.NewPump(registry, directory, conn, log)
	dispatcher := server.NewDispatcher(directory, led, registry, pump, nil, log)
	srv := server.New(conn, dispatcher, log)

	registry.Start()
	pump.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		cancel()
		conn.Close()
	}()

	log.Info("server listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.Stringer("semantics", semantics),
		zap.Float64("loss_probability", cfg.LossProbability))

	if err := srv.Run(ctx); err != nil {
		log.Error("receive loop stopped", zap.Error(err))
	}

	registry.Stop()
	pump.Stop(shutdownGrace)
}
