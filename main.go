// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/depotgate/depotgate/config"
	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/services"
	"github.com/depotgate/depotgate/shipping"
	"github.com/depotgate/depotgate/sinks"
	"github.com/depotgate/depotgate/staging"
	"github.com/depotgate/depotgate/storage"
)

//go:generate mkdir -p services/docs
//go:generate redoc-cli bundle docs/openapi.yaml
//go:generate cp docs/openapi.yaml services/docs/openapi.yaml
//go:generate mv redoc-static.html services/docs/index.html

// The above logic generates the documentation assets embedded by the docs
// build. To enable these endpoints, you must use the "docs" build:
// go build -tags docs

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// assembles the depot's components from the initialized configuration
func assembleService(ctx context.Context) (services.DepotService, error) {
	backend, err := storage.New(config.Storage.Scheme, storage.Options{
		BasePath:         config.Storage.BasePath,
		MaxArtifactBytes: config.Storage.MaxArtifactBytes,
	})
	if err != nil {
		return nil, err
	}
	metadataStore, err := metadata.Open(ctx, config.Databases.MetadataDb)
	if err != nil {
		return nil, err
	}
	receiptStore, err := receipts.Open(config.Databases.ReceiptsDb)
	if err != nil {
		return nil, err
	}
	registry, err := sinks.NewRegistry(config.Sinks.Enabled, sinks.Options{
		FilesystemBasePath: config.Sinks.FilesystemBasePath,
		HttpTimeoutSeconds: config.Sinks.HttpTimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}

	area := &staging.Area{
		Storage:  backend,
		Metadata: metadataStore,
		Receipts: receiptStore,
	}
	manager := &deliverables.Manager{Metadata: metadataStore}
	shipper := &shipping.Service{
		Deliverables: manager,
		Metadata:     metadataStore,
		Receipts:     receiptStore,
		Storage:      backend,
		Sinks:        registry,
	}

	return services.NewDepotGate(services.Options{
		Staging:      area,
		Deliverables: manager,
		Shipping:     shipper,
		Receipts:     receiptStore,
		Auth: services.AuthOptions{
			ApiKey:           config.Auth.ApiKey,
			FernetKey:        config.Auth.FernetKey,
			TokenTtl:         time.Duration(config.Auth.TokenTtlSeconds) * time.Second,
			AllowInsecureDev: config.Auth.AllowInsecureDev,
		},
		MaxConnections:   config.Service.MaxConnections,
		EnableAgentTools: config.Service.EnableAgentTools,
	})
}

func main() {

	// The only argument is the configuration filename.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	// Read the configuration file.
	log.Printf("Reading configuration from '%s'...\n", configFile)
	b, err := os.ReadFile(configFile)
	if err != nil {
		log.Panicf("Couldn't read %s: %s\n", configFile, err.Error())
	}

	// Initialize our configuration and create the service.
	initErr := config.Init(b)
	if initErr != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", initErr.Error())
	}
	service, err := assembleService(context.Background())
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		err = service.Start(config.Service.Port)
		if err != nil {
			log.Println(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting down
	// the service as gracefully as possible if they are encountered.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// Block till we receive one of the above signals.
	<-sigChan

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wait for connections to close until the deadline elapses.
	service.Shutdown(ctx)
	log.Println("Shutting down")
	os.Exit(0)
}
