// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/moov-io/moneymovement"
	"github.com/moov-io/moneymovement/pkg/config"
	cfgadmin "github.com/moov-io/moneymovement/pkg/config/admin"
	"github.com/moov-io/moneymovement/pkg/database"
	"github.com/moov-io/moneymovement/pkg/util"
	"github.com/moov-io/moneymovement/x/trace"

	"github.com/moov-io/base/admin"
	"github.com/opentracing/opentracing-go"
)

var (
	flagConfigFile = flag.String("config", "", "Filepath for config file to load")
)

func main() {
	flag.Parse()

	cfg, err := config.FromFile(util.Or(os.Getenv("CONFIG_FILE"), *flagConfigFile))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	logger := cfg.Logger
	logger.Log("startup", fmt.Sprintf("Starting moneymovement server version %s", moneymovement.Version))

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	tracer, tracerCloser, err := trace.FromConfig(logger, cfg.Tracing)
	if err != nil {
		panic(fmt.Sprintf("problem setting up tracing: %v", err))
	}
	opentracing.SetGlobalTracer(tracer)
	defer tracerCloser.Close()

	// migrate database
	db, err := database.New(ctx, logger, cfg.Database)
	if err != nil {
		panic(fmt.Sprintf("error creating database: %v", err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Log("exit", err)
		}
	}()

	// Listen for application termination.
	errs := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	// Spin up admin HTTP server
	adminServer := admin.NewServer(cfg.Admin.BindAddress)
	adminServer.AddVersionHandler(moneymovement.Version) // Setup 'GET /version'
	go func() {
		logger.Log("admin", fmt.Sprintf("listening on %s", adminServer.BindAddr()))
		if err := adminServer.Listen(); err != nil {
			err = fmt.Errorf("problem starting admin http: %v", err)
			logger.Log("admin", err)
			errs <- err
		}
	}()
	defer adminServer.Shutdown()

	cfgadmin.RegisterRoutes(adminServer, cfg)

	app, err := newApp(ctx, cfg, db, &http.Client{Timeout: cfg.Saga.PortTimeout})
	if err != nil {
		panic(fmt.Sprintf("problem setting up: %v", err))
	}
	app.registerAdminRoutes(adminServer)

	// Start the saga workers and reaper
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		app.pool.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		if err := app.reaper.Run(ctx); err != nil {
			errs <- fmt.Errorf("problem running reaper: %v", err)
		}
	}()
	defer func() {
		cancelFunc()
		workers.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.notifiers.Shutdown(shutdownCtx); err != nil {
			logger.Log("shutdown", err)
		}
	}()

	// Create main HTTP server
	serve := &http.Server{
		Addr:    cfg.Http.BindAddress,
		Handler: app.handler,
		TLSConfig: &tls.Config{
			InsecureSkipVerify:       false,
			PreferServerCipherSuites: true,
			MinVersion:               tls.VersionTLS12,
		},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownServer := func() {
		if err := serve.Shutdown(context.TODO()); err != nil {
			logger.Log("shutdown", err)
		}
	}
	defer shutdownServer()

	// Start main HTTP server
	go func() {
		if certFile, keyFile := os.Getenv("HTTPS_CERT_FILE"), os.Getenv("HTTPS_KEY_FILE"); certFile != "" && keyFile != "" {
			logger.Log("startup", fmt.Sprintf("binding to %s for secure HTTP server", cfg.Http.BindAddress))
			if err := serve.ListenAndServeTLS(certFile, keyFile); err != nil {
				logger.Log("exit", err)
			}
		} else {
			logger.Log("startup", fmt.Sprintf("binding to %s for HTTP server", cfg.Http.BindAddress))
			if err := serve.ListenAndServe(); err != nil {
				logger.Log("exit", err)
			}
		}
	}()

	if err := <-errs; err != nil {
		logger.Log("exit", err)
	}
}
