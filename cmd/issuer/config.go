package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mentorcertai/cert-issuer/internal/certificate"
	"github.com/mentorcertai/cert-issuer/internal/chain"
	"github.com/mentorcertai/cert-issuer/internal/credential"
	"github.com/mentorcertai/cert-issuer/internal/imagestore"
	"github.com/mentorcertai/cert-issuer/internal/render"
	"github.com/mentorcertai/cert-issuer/internal/wallet"
)

type config struct {
	grpcAddr    string
	httpAddr    string
	dbPath      string
	postgresDSN string
	debug       bool

	mintMode          string
	passMark          int
	passMarkSet       bool
	schedulerInterval time.Duration
	mintBatchSize     int
	chainTimeout      time.Duration

	rpcURL           string
	nftContract      string
	registryContract string
	anchorChain      string
	anchorNetwork    string

	accountClassHash string
	udcAddress       string
	paymasterURL     string

	renderEndpoint string

	minioEndpoint  string
	minioBucket    string
	minioSSL       bool
	minioPublicURL string
	minioURLExpiry time.Duration

	publicURL    string
	issuerName   string
	issuerEmail  string
	issuerURL    string
	issuerID     string
	badgeBaseURL string
	evidence     string
}

func parseFlags() config {
	var c config
	flag.StringVar(&c.grpcAddr, "grpc", ":50051", "gRPC health server address")
	flag.StringVar(&c.httpAddr, "http", ":8080", "HTTP server address")
	flag.StringVar(&c.dbPath, "db", "certificates.db", "SQLite database path")
	flag.StringVar(&c.postgresDSN, "postgres-dsn", os.Getenv("DATABASE_URL"), "Postgres DSN; uses postgres instead of SQLite when set")
	flag.BoolVar(&c.debug, "debug", false, "Enable debug logging")

	flag.StringVar(&c.mintMode, "mint-mode", "sync", "When to mint passing certificates: sync, async or off")
	flag.IntVar(&c.passMark, "pass-mark", 70, "Minimum score that earns a minted certificate")
	flag.DurationVar(&c.schedulerInterval, "scheduler-interval", 30*time.Second, "How often to mint pending certificates in async mode")
	flag.IntVar(&c.mintBatchSize, "mint-batch-size", 10, "Pending certificates minted per scheduler run")
	flag.DurationVar(&c.chainTimeout, "chain-timeout", 5*time.Minute, "Upper bound on a mint, anchor or wallet deployment")

	flag.StringVar(&c.rpcURL, "rpc-url", "", "JSON-RPC endpoint of the rollup; minting is disabled when empty")
	flag.StringVar(&c.nftContract, "nft-contract", "", "Address of the certificate NFT contract")
	flag.StringVar(&c.registryContract, "registry-contract", "", "Address of the hash registry used for batch anchoring")
	flag.StringVar(&c.anchorChain, "anchor-chain", "ethereum", "Chain name recorded in credential anchors")
	flag.StringVar(&c.anchorNetwork, "anchor-network", "sepolia", "Network name recorded in credential anchors")

	flag.StringVar(&c.accountClassHash, "account-class-hash", "", "Class hash of student accounts; enables wallets when set")
	flag.StringVar(&c.udcAddress, "udc-address", "", "Universal deployer contract emitting deployment events")
	flag.StringVar(&c.paymasterURL, "paymaster-url", "", "Base URL of the fee sponsoring paymaster")

	flag.StringVar(&c.renderEndpoint, "render-endpoint", "", "HTML-to-image service; certificates are drawn in-process when empty")

	flag.StringVar(&c.minioEndpoint, "minio-endpoint", "", "MinIO/S3 endpoint for certificate images; images are stored inline when empty")
	flag.StringVar(&c.minioBucket, "minio-bucket", "certificates", "Bucket for certificate images")
	flag.BoolVar(&c.minioSSL, "minio-ssl", true, "Use TLS to reach the object store")
	flag.StringVar(&c.minioPublicURL, "minio-public-url", "", "Public base URL of the bucket; presigned URLs are used when empty")
	flag.DurationVar(&c.minioURLExpiry, "minio-url-expiry", 7*24*time.Hour, "Lifetime of presigned image URLs")

	flag.StringVar(&c.publicURL, "public-url", "", "Externally visible base URL of this service")
	flag.StringVar(&c.issuerName, "issuer-name", "MentorCertAI", "Issuer name in credentials")
	flag.StringVar(&c.issuerEmail, "issuer-email", "", "Issuer contact email in credentials")
	flag.StringVar(&c.issuerURL, "issuer-url", "", "Issuer URL in credentials")
	flag.StringVar(&c.issuerID, "issuer-id", "", "Issuer profile id in credentials")
	flag.StringVar(&c.badgeBaseURL, "badge-base-url", "", "Base URL of course badges")
	flag.StringVar(&c.evidence, "evidence", "", "Evidence description attached to credentials")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "pass-mark" {
			c.passMarkSet = true
		}
	})
	return c
}

func (c config) issuer() credential.IssuerData {
	return credential.IssuerData{Name: c.issuerName, Email: c.issuerEmail, URL: c.issuerURL}
}

func (c config) anchor() credential.Anchor {
	return credential.Anchor{
		Type:     "ETHData",
		Chain:    c.anchorChain,
		Network:  c.anchorNetwork,
		SourceID: c.nftContract,
	}
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("-%s %q is not an address", name, value)
	}
	return common.HexToAddress(value), nil
}

// buildDeps wires the optional collaborators of the service from flags and
// environment. Anything not configured is left nil and its feature is off.
func buildDeps(ctx context.Context, c config) (certificate.Deps, error) {
	var deps certificate.Deps

	var rasterizer render.Rasterizer
	if c.renderEndpoint != "" {
		rasterizer = render.NewServiceRasterizer(c.renderEndpoint, os.Getenv("RENDER_API_KEY"), 30*time.Second)
		slog.Info("rendering certificates remotely", "endpoint", c.renderEndpoint)
	} else {
		canvas, err := render.NewCanvasRasterizer()
		if err != nil {
			return deps, err
		}
		rasterizer = canvas
	}
	deps.Renderer = render.NewRenderer(rasterizer)

	if c.minioEndpoint != "" {
		store, err := imagestore.NewMinio(ctx, imagestore.Config{
			Endpoint:  c.minioEndpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    c.minioBucket,
			UseSSL:    c.minioSSL,
			PublicURL: c.minioPublicURL,
			URLExpiry: c.minioURLExpiry,
		})
		if err != nil {
			return deps, err
		}
		deps.Images = store
		slog.Info("storing certificate images in bucket", "endpoint", c.minioEndpoint, "bucket", c.minioBucket)
	}

	if raw := os.Getenv("ISSUER_PRIVATE_KEY"); raw != "" {
		key, err := wallet.DecodeKey(raw)
		if err != nil {
			return deps, fmt.Errorf("invalid ISSUER_PRIVATE_KEY: %w", err)
		}
		deps.Signer = key
	}

	var client *ethclient.Client
	if c.rpcURL != "" {
		var err error
		client, err = ethclient.DialContext(ctx, c.rpcURL)
		if err != nil {
			return deps, fmt.Errorf("failed to dial %s: %w", c.rpcURL, err)
		}
	}

	if client != nil && deps.Signer != nil {
		tx, err := chain.NewTransactor(ctx, client, deps.Signer)
		if err != nil {
			return deps, err
		}
		slog.Info("chain transactor ready", "from", tx.From())

		if c.nftContract != "" {
			nft, err := parseAddress("nft-contract", c.nftContract)
			if err != nil {
				return deps, err
			}
			deps.Minter = chain.NewTokenAllocator(chain.NewMinter(tx, nft))
		}
		if c.registryContract != "" {
			registry, err := parseAddress("registry-contract", c.registryContract)
			if err != nil {
				return deps, err
			}
			deps.Anchorer = chain.NewRegistry(tx, registry)
		}
	}

	if c.accountClassHash != "" {
		passphrase := os.Getenv("WALLET_PASSPHRASE")
		cipher, err := wallet.NewCipher(passphrase)
		if err != nil {
			return deps, fmt.Errorf("wallets need WALLET_PASSPHRASE: %w", err)
		}
		classHash := common.HexToHash(c.accountClassHash)
		deps.Vault = wallet.NewVault(cipher, classHash)

		if c.paymasterURL != "" && client != nil {
			udc, err := parseAddress("udc-address", c.udcAddress)
			if err != nil {
				return deps, err
			}
			paymaster := wallet.NewPaymaster(c.paymasterURL, os.Getenv("PAYMASTER_API_KEY"), 30*time.Second)
			deps.Deployer = wallet.NewDeployer(paymaster, client, classHash, udc)
		}
	}

	return deps, nil
}
