package certificate

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mentorcertai/cert-issuer/internal/credential"
	"github.com/mentorcertai/cert-issuer/internal/exam"
	"github.com/mentorcertai/cert-issuer/internal/imagestore"
	"github.com/mentorcertai/cert-issuer/internal/metrics"
	"github.com/mentorcertai/cert-issuer/internal/render"
	"github.com/mentorcertai/cert-issuer/internal/wallet"
)

// Db defines the interface for database operations.
type Db interface {
	Init() error
	Close() error
	ReserveCertificate(ctx context.Context, c *Certificate) error
	ReleaseCertificate(ctx context.Context, id int64) error
	UpdateCertificate(ctx context.Context, c Certificate) error
	BackfillCertificate(ctx context.Context, id int64, b Backfill) error
	GetCertificate(ctx context.Context, id int64) (Certificate, error)
	GetCertificateByToken(ctx context.Context, tokenID int64) (Certificate, error)
	GetSessionCertificate(ctx context.Context, userID, sessionID string) (Certificate, error)
	GetUserCertificates(ctx context.Context, userID string) ([]Certificate, error)
	GetCertificates(ctx context.Context) ([]Certificate, error)
	GetPendingMints(ctx context.Context, limit int) ([]Certificate, error)
	CountPendingMints(ctx context.Context) (int, error)
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	MarkWalletDeployed(ctx context.Context, userID, txHash, address string) error
	GetConfigValue(key string) (string, error)
	SetConfigValue(key, value string) error
	GetConfig() (map[string]string, error)
	GetCredential(key string) (string, error)
	SetCredential(key, value string) error
	GetSchedulerStatus() (bool, error)
	SetSchedulerStatus(isActive bool) error
	RecordKillSwitchAttempt(attemptType string) error
	GetRecentKillSwitchAttempts(attemptType string, duration time.Duration) (int, error)
	CleanupOldKillSwitchAttempts(olderThan time.Duration) error
}

// Minter allocates a token id and mints it to recipient.
type Minter interface {
	Issue(ctx context.Context, recipient common.Address, score int) (uint64, common.Hash, error)
}

// Anchorer records Merkle roots on chain.
type Anchorer interface {
	AnchorRoot(ctx context.Context, root common.Hash) (common.Hash, error)
	IsAnchored(ctx context.Context, root common.Hash) (bool, error)
}

// Deployer deploys a student account.
type Deployer interface {
	Deploy(ctx context.Context, owner common.Address) (wallet.Deployment, error)
}

// Deps are the collaborators of the service. Only Renderer is required.
type Deps struct {
	Renderer *render.Renderer
	Images   imagestore.Store
	Minter   Minter
	Anchorer Anchorer
	Vault    *wallet.Vault
	Deployer Deployer
	// Signer signs anchor packages when set.
	Signer *ecdsa.PrivateKey
}

// Options configure issuance.
type Options struct {
	MintMode      MintMode
	PassMark      int
	ChainTimeout  time.Duration
	MintBatchSize int
	Issuer        credential.IssuerData
	IssuerID      string
	BadgeBaseURL  string
	EvidenceText  string
	Anchor        credential.Anchor
	// PublicURL is the externally visible base URL of this service, used to
	// link inline images from NFT metadata.
	PublicURL string
	Now       func() time.Time
}

// Service handles the business logic for certificates.
type Service struct {
	db      Db
	deps    Deps
	opts    Options
	builder credential.Builder
	// called after anything that changes pending mints
	onChange func()
}

// NewService creates a new certificate service.
func NewService(db Db, deps Deps, opts Options) *Service {
	if deps.Images == nil {
		deps.Images = imagestore.Inline{}
	}
	if opts.MintMode == "" {
		opts.MintMode = MintModeSync
	}
	if opts.MintMode != MintModeOff && deps.Minter == nil {
		slog.Warn("no minter configured, minting disabled", "mode", opts.MintMode)
		opts.MintMode = MintModeOff
	}
	if opts.PassMark <= 0 {
		opts.PassMark = exam.DefaultPassMark
	}
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = 5 * time.Minute
	}
	if opts.MintBatchSize <= 0 {
		opts.MintBatchSize = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Issuer.Address == "" && deps.Signer != nil {
		opts.Issuer.Address = wallet.OwnerAddress(deps.Signer).Hex()
	}

	return &Service{
		db:       db,
		deps:     deps,
		opts:     opts,
		builder:  credential.Builder{Now: opts.Now, EvidenceText: opts.EvidenceText},
		onChange: func() {},
	}
}

// OnChange registers a callback run whenever pending mints may have changed.
func (s *Service) OnChange(fn func()) {
	s.onChange = fn
}

// MintMode reports the effective mint mode.
func (s *Service) MintMode() MintMode {
	return s.opts.MintMode
}

// PassMark is the configured pass mark, falling back to the startup value.
func (s *Service) PassMark() int {
	value, err := s.db.GetConfigValue("pass_mark")
	if err != nil || value == "" {
		return s.opts.PassMark
	}
	mark, err := strconv.Atoi(value)
	if err != nil || mark < 0 || mark > 100 {
		slog.Warn("invalid pass_mark in configuration", "val", value)
		return s.opts.PassMark
	}
	return mark
}

// SetPassMark updates the configured pass mark.
func (s *Service) SetPassMark(mark int) error {
	if mark < 0 || mark > 100 {
		return fmt.Errorf("pass mark %d out of range", mark)
	}
	return s.db.SetConfigValue("pass_mark", strconv.Itoa(mark))
}

// IssueRequest is a completed exam submitted for certification.
type IssueRequest struct {
	UserID           string
	SessionID        string
	Theme            string
	StudentName      string
	Email            string
	RecipientAddress string
	Questions        []exam.Question
}

// Issue runs the pipeline for one exam: score, reserve the (user, session)
// row, render, build the credential, mint and persist. Any failure after the
// reservation releases the row; chain state is never compensated.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Certificate, error) {
	score, err := exam.Score(exam.NormalizeYesNo(req.Questions))
	if err != nil {
		metrics.StageFailed("score")
		return Certificate{}, err
	}

	mint := s.opts.MintMode != MintModeOff && exam.Passed(score, s.PassMark())

	recipient := req.RecipientAddress
	if mint && recipient == "" {
		recipient, err = s.walletAddress(ctx, req.UserID)
		if err != nil {
			return Certificate{}, err
		}
	}
	if mint && !common.IsHexAddress(recipient) {
		return Certificate{}, fmt.Errorf("%w: %q is not an address", ErrNoRecipient, recipient)
	}

	cert := Certificate{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Theme:            req.Theme,
		StudentName:      req.StudentName,
		Email:            req.Email,
		Score:            score,
		IssuedAt:         s.opts.Now().UTC(),
		RecipientAddress: recipient,
		MintStatus:       MintNone,
	}

	// the row stays unmintable until complete persists it, so the async
	// minter never sees a half-built certificate
	if err := s.db.ReserveCertificate(ctx, &cert); err != nil {
		if errors.Is(err, ErrDuplicateCertificate) {
			metrics.CertificateDuplicate()
		}
		return Certificate{}, err
	}

	if err := s.complete(ctx, &cert, mint && s.opts.MintMode == MintModeSync, mint && s.opts.MintMode == MintModeAsync); err != nil {
		if relErr := s.db.ReleaseCertificate(context.WithoutCancel(ctx), cert.ID); relErr != nil {
			slog.Error("failed to release certificate reservation", "certificate", cert.ID, "err", relErr)
		}
		return Certificate{}, err
	}

	slog.Info("certificate issued", "certificate", cert.ID, "user", cert.UserID, "session", cert.SessionID,
		"score", cert.Score, "mint_status", cert.MintStatus)
	metrics.CertificateIssued(string(cert.MintStatus))
	s.onChange()
	return cert, nil
}

func (s *Service) walletAddress(ctx context.Context, userID string) (string, error) {
	w, err := s.db.GetWallet(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: user %s has no wallet", ErrNoRecipient, userID)
	}
	if err != nil {
		return "", err
	}
	return w.Address(), nil
}

// complete runs the stages after the reservation and persists the result.
// With queue set the certificate is left for the async minter.
func (s *Service) complete(ctx context.Context, cert *Certificate, mintNow, queue bool) error {
	image, err := s.renderImage(ctx, *cert, "")
	if err != nil {
		metrics.StageFailed("render")
		return err
	}
	cert.Image = image

	doc := s.buildCredential(*cert)

	txHash := ""
	if mintNow {
		tokenID, hash, err := s.mint(ctx, *cert)
		if err != nil {
			metrics.StageFailed("mint")
			return err
		}
		txHash = hash.Hex()
		cert.TokenID.Int64, cert.TokenID.Valid = int64(tokenID), true
		cert.TransactionHash.String, cert.TransactionHash.Valid = txHash, true
		cert.MintStatus = MintMinted
	} else if queue {
		cert.MintStatus = MintPending
	}

	pkg := credential.SinglePackage(doc, txHash, s.opts.Anchor)
	if err := s.setCredential(cert, pkg); err != nil {
		metrics.StageFailed("credential")
		return err
	}

	if err := s.db.UpdateCertificate(ctx, *cert); err != nil {
		metrics.StageFailed("persist")
		return fmt.Errorf("failed to persist certificate: %w", err)
	}
	return nil
}

func (s *Service) renderImage(ctx context.Context, cert Certificate, txHash string) (string, error) {
	name := cert.StudentName
	if name == "" {
		name = cert.Email
	}
	png, err := s.deps.Renderer.PNG(ctx, render.Fields{
		CertificateID:   strconv.FormatInt(cert.ID, 10),
		StudentName:     name,
		Course:          cert.Theme,
		Score:           cert.Score,
		IssuedAt:        cert.IssuedAt,
		TransactionHash: txHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render certificate image: %w", err)
	}
	image, err := s.deps.Images.Put(ctx, cert.ID, png)
	if err != nil {
		return "", fmt.Errorf("failed to store certificate image: %w", err)
	}
	return image, nil
}

func (s *Service) buildCredential(cert Certificate) credential.Document {
	recipient := credential.RecipientData{
		Name:     cert.StudentName,
		Email:    cert.Email,
		IssuedOn: cert.IssuedAt.UTC().Format(time.RFC3339),
		Course:   cert.Theme,
		IssuerID: s.opts.IssuerID,
	}
	badge := credential.CourseBadge(cert.Theme, s.opts.Issuer.Address, s.opts.BadgeBaseURL)
	return s.builder.Build(recipient, s.opts.Issuer, badge)
}

func (s *Service) mint(ctx context.Context, cert Certificate) (uint64, common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
	defer cancel()

	started := time.Now()
	tokenID, hash, err := s.deps.Minter.Issue(ctx, common.HexToAddress(cert.RecipientAddress), cert.Score)
	metrics.ObserveMint(started, err)
	if err != nil {
		return 0, common.Hash{}, fmt.Errorf("failed to mint certificate %d: %w", cert.ID, err)
	}
	return tokenID, hash, nil
}

// setCredential signs pkg if a signer is configured and stores it on cert.
func (s *Service) setCredential(cert *Certificate, pkg credential.Package) error {
	if err := s.sign(&pkg); err != nil {
		return err
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	cert.Credential.String, cert.Credential.Valid = string(raw), true
	return nil
}

func (s *Service) sign(pkg *credential.Package) error {
	pkg.Signature = nil
	if s.deps.Signer == nil {
		return nil
	}
	_, sig, err := wallet.SignMessage(s.deps.Signer, pkg)
	if err != nil {
		return err
	}
	pkg.Signature = &credential.Signature{
		Type:           signatureType,
		Creator:        wallet.OwnerAddress(s.deps.Signer).Hex(),
		SignatureValue: hexutil.Encode(sig),
	}
	return nil
}

// ProcessPendingMints mints certificates issued in async mode.
func (s *Service) ProcessPendingMints(ctx context.Context) {
	slog.Info("checking for pending mints...")
	certs, err := s.db.GetPendingMints(ctx, s.opts.MintBatchSize)
	if err != nil {
		slog.Error("error getting pending mints", "err", err)
		return
	}

	if len(certs) == 0 {
		slog.Info("no pending mints found.")
		return
	}

	slog.Info("found pending mints.", "count", len(certs))
	defer s.onChange()

	for _, cert := range certs {
		if ctx.Err() != nil {
			return
		}
		if err := s.MintPending(ctx, cert); err != nil {
			slog.Error("error minting certificate", "certificate", cert.ID, "err", err)
		}
	}
}

// MintPending mints one pending certificate and backfills the token id,
// transaction hash, image and anchor. A failed mint is marked failed and not
// retried.
func (s *Service) MintPending(ctx context.Context, cert Certificate) error {
	if s.opts.MintMode == MintModeOff {
		return errors.New("minting is disabled")
	}

	tokenID, hash, err := s.mint(ctx, cert)
	if err != nil {
		cert.MintStatus = MintFailed
		if upErr := s.db.UpdateCertificate(context.WithoutCancel(ctx), cert); upErr != nil {
			slog.Error("failed to mark mint failed", "certificate", cert.ID, "err", upErr)
		}
		return err
	}

	txHash := hash.Hex()
	cert.TokenID.Int64, cert.TokenID.Valid = int64(tokenID), true
	cert.TransactionHash.String, cert.TransactionHash.Valid = txHash, true
	cert.MintStatus = MintMinted

	if image, err := s.renderImage(ctx, cert, txHash); err != nil {
		slog.Warn("keeping image without transaction hash", "certificate", cert.ID, "err", err)
	} else {
		cert.Image = image
	}

	var pkg credential.Package
	if cert.Credential.Valid {
		if err := json.Unmarshal([]byte(cert.Credential.String), &pkg); err != nil {
			return fmt.Errorf("failed to read stored credential: %w", err)
		}
	} else {
		pkg.Certificate = s.buildCredential(cert)
	}
	pkg.Anchors = credential.SinglePackage(pkg.Certificate, txHash, s.opts.Anchor).Anchors
	if err := s.setCredential(&cert, pkg); err != nil {
		return err
	}

	if err := s.db.UpdateCertificate(context.WithoutCancel(ctx), cert); err != nil {
		return fmt.Errorf("failed to persist minted certificate: %w", err)
	}
	slog.Info("pending certificate minted", "certificate", cert.ID, "token", tokenID, "tx", txHash)
	return nil
}

// GetCertificates retrieves all certificates.
func (s *Service) GetCertificates(ctx context.Context) ([]Certificate, error) {
	return s.db.GetCertificates(ctx)
}

func (s *Service) UserCertificates(ctx context.Context, userID string) ([]Certificate, error) {
	return s.db.GetUserCertificates(ctx, userID)
}

func (s *Service) SessionCertificate(ctx context.Context, userID, sessionID string) (Certificate, error) {
	return s.db.GetSessionCertificate(ctx, userID, sessionID)
}

// Backfill updates the late fields of one of userID's certificates. A
// recorded transaction hash is never replaced.
func (s *Service) Backfill(ctx context.Context, userID string, id int64, b Backfill) (Certificate, error) {
	cert, err := s.db.GetCertificate(ctx, id)
	if err != nil {
		return Certificate{}, err
	}
	if cert.UserID != userID {
		return Certificate{}, ErrNotFound
	}
	if b.TransactionHash != nil && cert.TransactionHash.Valid && cert.TransactionHash.String != *b.TransactionHash {
		return Certificate{}, ErrTransactionRecorded
	}
	if err := s.db.BackfillCertificate(ctx, id, b); err != nil {
		return Certificate{}, err
	}
	return s.db.GetCertificate(ctx, id)
}

// NFTMetadata returns the token metadata of tokenID.
func (s *Service) NFTMetadata(ctx context.Context, tokenID int64) (NFTMetadata, error) {
	cert, err := s.db.GetCertificateByToken(ctx, tokenID)
	if err != nil {
		return NFTMetadata{}, err
	}
	imageURL := ""
	if render.IsDataURI(cert.Image) && s.opts.PublicURL != "" {
		imageURL = fmt.Sprintf("%s/api/nfts/%d/image", s.opts.PublicURL, tokenID)
	}
	return cert.Metadata(imageURL), nil
}

// NFTImage returns the PNG of tokenID, or the URL it is stored at.
func (s *Service) NFTImage(ctx context.Context, tokenID int64) (png []byte, url string, err error) {
	cert, err := s.db.GetCertificateByToken(ctx, tokenID)
	if err != nil {
		return nil, "", err
	}
	if !render.IsDataURI(cert.Image) {
		return nil, cert.Image, nil
	}
	png, err = render.DecodeDataURI(cert.Image)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode certificate image: %w", err)
	}
	return png, "", nil
}

// GetConfig returns every configuration value.
func (s *Service) GetConfig() (map[string]string, error) {
	return s.db.GetConfig()
}

// SchedulerActive reports whether the async minter is running.
func (s *Service) SchedulerActive() (bool, error) {
	return s.db.GetSchedulerStatus()
}

// SetSchedulerActive pauses or resumes the async minter.
func (s *Service) SetSchedulerActive(active bool) error {
	return s.db.SetSchedulerStatus(active)
}
