package certificate

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mentorcertai/cert-issuer/internal/credential"
	"github.com/mentorcertai/cert-issuer/internal/exam"
	"github.com/mentorcertai/cert-issuer/internal/kill_switch"
)

const maxBodyBytes = 1 << 20

// APIServer handles HTTP requests.
type APIServer struct {
	service   *Service
	jwtSecret []byte
	pause     *kill_switch.KillSwitch
	resume    *kill_switch.KillSwitch
}

// NewAPIServer creates a new API server. The pause and resume switches guard
// the operator routes; either may be nil to disable the route.
func NewAPIServer(service *Service, jwtSecret string, pause, resume *kill_switch.KillSwitch) *APIServer {
	return &APIServer{
		service:   service,
		jwtSecret: []byte(jwtSecret),
		pause:     pause,
		resume:    resume,
	}
}

// RegisterHandlers registers the HTTP handlers.
func (s *APIServer) RegisterHandlers(r chi.Router) {
	r.Get("/", s.viewCerts)
	r.Get("/config", s.viewConfig)
	r.Post("/pause", s.handleSwitch(s.pause, "pausing mint scheduler", "Scheduler has been paused"))
	r.Post("/resume", s.handleSwitch(s.resume, "resuming mint scheduler", "Scheduler has been resumed"))

	r.Route("/api", func(r chi.Router) {
		// token metadata is fetched by wallets and marketplaces
		r.Get("/nfts/{tokenId}", s.getNFTMetadata)
		r.Get("/nfts/{tokenId}/image", s.getNFTImage)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(s.jwtSecret))

			r.Post("/exams/{sessionId}/submit", s.submitExam)
			r.Get("/certificates", s.listCertificates)
			r.Get("/certificates/session/{sessionId}", s.getSessionCertificate)
			r.Patch("/certificates/{id}", s.backfillCertificate)

			r.Post("/wallets", s.createWallet)
			r.Post("/wallets/deploy", s.deployWallet)

			r.Post("/credentials/batch", s.batchCredentials)
			r.Post("/credentials/verify", s.verifyCredential)
		})
	})
}

type certificateResponse struct {
	ID               int64           `json:"id"`
	UserID           string          `json:"userId"`
	SessionID        string          `json:"sessionId"`
	Theme            string          `json:"theme"`
	StudentName      string          `json:"studentName,omitempty"`
	Email            string          `json:"email,omitempty"`
	Score            int             `json:"score"`
	IssuedAt         time.Time       `json:"issuedAt"`
	Image            string          `json:"image"`
	TokenID          *int64          `json:"tokenId,omitempty"`
	TransactionHash  *string         `json:"transactionHash,omitempty"`
	Credential       json.RawMessage `json:"credential,omitempty"`
	RecipientAddress string          `json:"recipientAddress,omitempty"`
	MintStatus       MintStatus      `json:"mintStatus"`
}

func newCertificateResponse(c Certificate) certificateResponse {
	resp := certificateResponse{
		ID:               c.ID,
		UserID:           c.UserID,
		SessionID:        c.SessionID,
		Theme:            c.Theme,
		StudentName:      c.StudentName,
		Email:            c.Email,
		Score:            c.Score,
		IssuedAt:         c.IssuedAt,
		Image:            c.Image,
		RecipientAddress: c.RecipientAddress,
		MintStatus:       c.MintStatus,
	}
	if c.TokenID.Valid {
		id := c.TokenID.Int64
		resp.TokenID = &id
	}
	if c.TransactionHash.Valid {
		hash := c.TransactionHash.String
		resp.TransactionHash = &hash
	}
	if c.Credential.Valid {
		resp.Credential = json.RawMessage(c.Credential.String)
	}
	return resp
}

type walletResponse struct {
	UserID          string `json:"userId"`
	OwnerAddress    string `json:"ownerAddress"`
	AccountAddress  string `json:"accountAddress"`
	Address         string `json:"address"`
	Deployed        bool   `json:"deployed"`
	DeployTxHash    string `json:"deployTxHash,omitempty"`
	DeployedAddress string `json:"deployedAddress,omitempty"`
}

func newWalletResponse(w Wallet) walletResponse {
	return walletResponse{
		UserID:          w.UserID,
		OwnerAddress:    w.OwnerAddress,
		AccountAddress:  w.AccountAddress,
		Address:         w.Address(),
		Deployed:        w.DeployedAddress.Valid,
		DeployTxHash:    w.DeployTxHash.String,
		DeployedAddress: w.DeployedAddress.String,
	}
}

type submitRequest struct {
	Theme            string          `json:"theme"`
	StudentName      string          `json:"studentName"`
	Email            string          `json:"email"`
	RecipientAddress string          `json:"recipientAddress"`
	Questions        []exam.Question `json:"questions"`
}

type submitResponse struct {
	Passed      bool                `json:"passed"`
	Certificate certificateResponse `json:"certificate"`
}

func (s *APIServer) submitExam(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cert, err := s.service.Issue(r.Context(), IssueRequest{
		UserID:           UserID(r.Context()),
		SessionID:        chi.URLParam(r, "sessionId"),
		Theme:            req.Theme,
		StudentName:      req.StudentName,
		Email:            req.Email,
		RecipientAddress: req.RecipientAddress,
		Questions:        req.Questions,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		Passed:      exam.Passed(cert.Score, s.service.PassMark()),
		Certificate: newCertificateResponse(cert),
	})
}

func (s *APIServer) listCertificates(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if q := r.URL.Query().Get("user_id"); q != "" && q != userID {
		writeErrorMessage(w, http.StatusForbidden, "cannot list another user's certificates")
		return
	}

	certs, err := s.service.UserCertificates(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]certificateResponse, 0, len(certs))
	for _, c := range certs {
		resp = append(resp, newCertificateResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) getSessionCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := s.service.SessionCertificate(r.Context(), UserID(r.Context()), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCertificateResponse(cert))
}

type backfillRequest struct {
	Image           *string `json:"image"`
	TransactionHash *string `json:"transactionHash"`
}

func (s *APIServer) backfillCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid certificate id")
		return
	}
	var req backfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Image == nil && req.TransactionHash == nil {
		writeErrorMessage(w, http.StatusBadRequest, "nothing to update")
		return
	}

	cert, err := s.service.Backfill(r.Context(), UserID(r.Context()), id, Backfill(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCertificateResponse(cert))
}

func tokenParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tokenId"), 10, 64)
	if err != nil || id < 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid token id")
		return 0, false
	}
	return id, true
}

func (s *APIServer) getNFTMetadata(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenParam(w, r)
	if !ok {
		return
	}
	meta, err := s.service.NFTMetadata(r.Context(), tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *APIServer) getNFTImage(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenParam(w, r)
	if !ok {
		return
	}
	png, url, err := s.service.NFTImage(r.Context(), tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(png); err != nil {
		slog.Error("failed to write certificate image", "token", tokenID, "err", err)
	}
}

func (s *APIServer) createWallet(w http.ResponseWriter, r *http.Request) {
	wal, created, err := s.service.CreateWallet(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, newWalletResponse(wal))
}

func (s *APIServer) deployWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := s.service.DeployWallet(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wal))
}

type batchRecipient struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IssuedOn string `json:"issuedOn"`
}

type batchRequest struct {
	Course     string           `json:"course"`
	Anchor     bool             `json:"anchor"`
	Recipients []batchRecipient `json:"recipients"`
}

func (s *APIServer) batchCredentials(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Course == "" {
		writeErrorMessage(w, http.StatusBadRequest, "course is required")
		return
	}

	recipients := make([]credential.RecipientData, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		recipients = append(recipients, credential.RecipientData{
			Name:     rec.Name,
			Email:    rec.Email,
			IssuedOn: rec.IssuedOn,
			Course:   req.Course,
		})
	}

	res, err := s.service.BatchCredentials(r.Context(), req.Course, recipients, req.Anchor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *APIServer) verifyCredential(w http.ResponseWriter, r *http.Request) {
	var pkg credential.Package
	if !decodeBody(w, r, &pkg) {
		return
	}
	res, err := s.service.VerifyPackage(r.Context(), pkg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and reported generically.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exam.ErrNoQuestions),
		errors.Is(err, ErrNoRecipient),
		errors.Is(err, ErrNoRecipients):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, kill_switch.ErrUnauthorized):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateCertificate), errors.Is(err, ErrWalletExists),
		errors.Is(err, ErrTransactionRecorded), errors.Is(err, ErrTokenTaken):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrWalletsDisabled):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

const tpl = `
<!DOCTYPE html>
<html>
<head>
    <title>Certificates</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%; margin-top: 20px; table-layout: fixed; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; vertical-align: top; word-wrap: break-word; }
        th { background-color: #f2f2f2; }
        .pending { background-color: #fff3cd; }
        .minted { background-color: #d4edda; }
        .failed { background-color: #f8d7da; }
        .config { margin-bottom: 20px; padding: 10px; background-color: #e9ecef; border-radius: 5px; }

        .scheduler-status {
            margin-bottom: 20px;
            padding: 10px;
            border-radius: 5px;
            border: 1px solid;
        }
        .scheduler-active {
            background-color: #d4edda;
            border-color: #c3e6cb;
            color: #155724;
        }
        .scheduler-stopped {
            background-color: #f8d7da;
            border-color: #f5c6cb;
            color: #721c24;
        }

        .mint-totals {
            margin-bottom: 20px;
            padding: 10px;
            background-color: #f8f9fa;
            border-radius: 5px;
            border: 1px solid #dee2e6;
        }
        .mint-totals h3 { margin-top: 0; margin-bottom: 10px; color: #495057; }
        .mint-totals table { width: auto; min-width: 300px; margin: 0; }
        .mint-totals th { background-color: #6c757d; color: white; }
        .mint-totals td { background-color: white; }

        th:nth-child(1), td:nth-child(1) { width: 5%; }
        th:nth-child(2), td:nth-child(2) { width: 12%; }
        th:nth-child(3), td:nth-child(3) { width: 12%; }
        th:nth-child(4), td:nth-child(4) { width: 14%; }
        th:nth-child(5), td:nth-child(5) { width: 6%; }
        th:nth-child(6), td:nth-child(6) { width: 12%; }
        th:nth-child(7), td:nth-child(7) { width: 8%; }
        th:nth-child(8), td:nth-child(8) { width: 6%; }
        th:nth-child(9), td:nth-child(9) { width: 25%; }
    </style>
</head>
<body>
    <h1>MentorCert Issuer</h1>
    <div class="config">
        <strong>Current Configuration:</strong><br>
        Mint Mode: {{.MintMode}}<br>
        Pass Mark: {{.PassMark}}%<br>
        Current Time: {{.CurrentTime}}
    </div>

    <div class="scheduler-status {{if .SchedulerActive}}scheduler-active{{else}}scheduler-stopped{{end}}">
        <strong>Scheduler Status:</strong> {{if .SchedulerActive}}Active (Minting Pending Certificates){{else}}PAUSED (Kill Switch Activated){{end}}
    </div>

    <div class="mint-totals">
        <h3>Certificates by Mint Status</h3>
        <table>
            <tr>
                <th>Status</th>
                <th>Count</th>
            </tr>
            {{range .MintTotals}}
            <tr>
                <td>{{.Status}}</td>
                <td>{{.Count}}</td>
            </tr>
            {{else}}
            <tr>
                <td colspan="2" style="text-align: center; font-style: italic;">No certificates</td>
            </tr>
            {{end}}
        </table>
    </div>

    <h2>Certificates</h2>
    <table>
        <tr>
            <th>ID</th>
            <th>User</th>
            <th>Session</th>
            <th>Course</th>
            <th>Score</th>
            <th>Issued At</th>
            <th>Mint Status</th>
            <th>Token</th>
            <th>Transaction</th>
        </tr>
        {{range .Certificates}}
        <tr class="{{.MintStatus}}">
            <td>{{.ID}}</td>
            <td>{{.UserID}}</td>
            <td>{{.SessionID}}</td>
            <td>{{.Theme}}</td>
            <td>{{.Score}}%</td>
            <td>{{.IssuedAt.Format "2006-01-02 15:04:05"}}</td>
            <td>{{.MintStatus}}</td>
            <td>{{if .TokenID.Valid}}{{.TokenID.Int64}}{{end}}</td>
            <td>{{if .TransactionHash.Valid}}{{.TransactionHash.String}}{{end}}</td>
        </tr>
        {{end}}
    </table>
</body>
</html>
`

var dashboardTemplate = template.Must(template.New("webpage").Parse(tpl))

type mintTotal struct {
	Status MintStatus
	Count  int
}

func mintTotals(certs []Certificate) []mintTotal {
	counts := make(map[MintStatus]int)
	for _, c := range certs {
		counts[c.MintStatus]++
	}
	totals := make([]mintTotal, 0, len(counts))
	for status, count := range counts {
		totals = append(totals, mintTotal{Status: status, Count: count})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Status < totals[j].Status })
	return totals
}

func (s *APIServer) viewCerts(w http.ResponseWriter, r *http.Request) {
	certs, err := s.service.GetCertificates(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get certificates: %v", err), http.StatusInternalServerError)
		return
	}

	schedulerActive, err := s.service.SchedulerActive()
	if err != nil {
		slog.Error("failed to get scheduler status", "err", err)
		schedulerActive = true
	}

	data := struct {
		MintMode        MintMode
		PassMark        int
		CurrentTime     string
		SchedulerActive bool
		MintTotals      []mintTotal
		Certificates    []Certificate
	}{
		MintMode:        s.service.MintMode(),
		PassMark:        s.service.PassMark(),
		CurrentTime:     time.Now().Format("2006-01-02 15:04:05"),
		SchedulerActive: schedulerActive,
		MintTotals:      mintTotals(certs),
		Certificates:    certs,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
	}
}

func (s *APIServer) viewConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.service.GetConfig()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get config: %v", err), http.StatusInternalServerError)
		return
	}
	config["mint_mode"] = string(s.service.MintMode())

	writeJSON(w, http.StatusOK, config)
}

// handleSwitch registers a request on k; the switch fires once enough
// authorised requests arrive within its window.
func (s *APIServer) handleSwitch(k *kill_switch.KillSwitch, status, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if k == nil {
			writeErrorMessage(w, http.StatusNotFound, "operator key not configured")
			return
		}

		res, err := k.RegisterRequest(r.URL.Query().Get("key"))
		if err != nil {
			writeError(w, err)
			return
		}

		if res.Triggered {
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  status,
				"message": message,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":             "attempt recorded",
			"attempts":           res.Attempts,
			"attempts_remaining": res.Remaining,
			"message":            fmt.Sprintf("Need %d more attempts within %s", res.Remaining, k.Window()),
		})
	}
}
