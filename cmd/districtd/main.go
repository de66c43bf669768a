package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/vocdoni/district-pipeline/authority"
	"github.com/vocdoni/district-pipeline/identity"
	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/processor"
	"github.com/vocdoni/district-pipeline/prover"
	"github.com/vocdoni/district-pipeline/service"
	"github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/types"
	"github.com/vocdoni/district-pipeline/vault"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

// webhookSecretEnv holds the HMAC secret shared with the identity provider.
// It is taken from the environment so it never shows up in process listings.
const webhookSecretEnv = "DISTRICT_WEBHOOK_SECRET"

func main() {
	host := flag.String("host", "0.0.0.0", "API host to bind")
	port := flag.Int("port", 8080, "API port to bind")
	dataDir := flag.String("datadir", "./district-pipeline-data", "data directory for the key-value store")
	treeDepth := flag.Int("treeDepth", types.DefaultTreeDepth, "merkle tree depth for new district registries (18, 20, 22 or 24)")
	artifactsDir := flag.String("artifactsDir", "./artifacts", "directory with the circuit artifacts per tree depth")
	verifierURL := flag.String("verifierURL", "", "remote verification service URL (empty: verify with the local engine)")
	deliveryURL := flag.String("deliveryURL", "http://localhost:9090/deliveries", "receiver webhook URL for verified submissions")
	recipientKey := flag.String("recipientKey", "", "uncompressed secp256k1 public key (hex) the witness vault seals to")
	claimMaxAge := flag.Duration("claimMaxAge", 10*time.Minute, "maximum age of identity claims")
	verifyTimeout := flag.Duration("verifyTimeout", 30*time.Second, "timeout for one proof verification")
	deliverTimeout := flag.Duration("deliverTimeout", 20*time.Second, "timeout for one delivery attempt")
	maxDeliveryAttempts := flag.Int("maxDeliveryAttempts", 5, "delivery attempts before a submission is parked as failed")
	logLevel := flag.String("logLevel", "info", "log level (debug, info, warn, error)")
	logOutput := flag.String("logOutput", "stdout", "log output (stdout, stderr or file path)")
	flag.Parse()

	log.Init(*logLevel, *logOutput)

	webhookSecret := os.Getenv(webhookSecretEnv)
	if webhookSecret == "" {
		log.Fatalf("%s environment variable is not set", webhookSecretEnv)
	}
	if *recipientKey == "" {
		log.Fatalf("missing -recipientKey")
	}

	database, err := metadb.New(db.TypePebble, *dataDir)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	stg := storage.New(database)

	ddb, err := districts.NewDistrictDB(database, *treeDepth)
	if err != nil {
		log.Fatalf("failed to create district database: %v", err)
	}
	sealer, err := vault.NewSealer(*recipientKey)
	if err != nil {
		log.Fatalf("failed to create vault sealer: %v", err)
	}
	validator := identity.NewValidator([]byte(webhookSecret), *claimMaxAge)

	var verifier processor.VerificationAuthority
	if *verifierURL != "" {
		log.Infow("using remote verification service", "url", *verifierURL)
		verifier = authority.NewHTTPVerifier(*verifierURL)
	} else {
		verifier = authority.NewEngineVerifier(prover.NewGateway(prover.CircomFactory(*artifactsDir)))
	}
	deliverer := authority.NewHTTPDeliverer(*deliveryURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiService := service.NewAPI(stg, ddb, validator, sealer, *host, *port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatalf("failed to start API service: %v", err)
	}
	processorService := service.NewProcessor(stg, verifier, deliverer,
		*verifyTimeout, *deliverTimeout, *maxDeliveryAttempts)
	if err := processorService.Start(ctx); err != nil {
		log.Fatalf("failed to start processor service: %v", err)
	}
	log.Infow("district pipeline running",
		"host", *host, "port", *port, "treeDepth", *treeDepth, "datadir", *dataDir)

	<-ctx.Done()
	log.Infof("shutting down")
	processorService.Stop()
	apiService.Stop()
}
