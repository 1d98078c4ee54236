package certificate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorcertai/cert-issuer/internal/kill_switch"
)

const testJWTSecret = "test-jwt-secret"

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

type testAPI struct {
	server *httptest.Server
	svc    *Service
	store  *SqliteStore
	minter *fakeMinter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	minter := &fakeMinter{}
	svc, store := newTestService(t, Deps{Minter: minter, Vault: newTestVault(t), Deployer: &fakeDeployer{}},
		Options{MintMode: MintModeSync, PublicURL: "https://api.mentorcert.ai"})

	pauseKey, err := kill_switch.HashKey("pause-secret")
	require.NoError(t, err)
	require.NoError(t, store.SetCredential("pause_api_key", pauseKey))
	pause := kill_switch.New(kill_switch.Config{Action: "pause", CredentialKey: "pause_api_key"}, store, func() error {
		return svc.SetSchedulerActive(false)
	})

	r := chi.NewRouter()
	NewAPIServer(svc, testJWTSecret, pause, nil).RegisterHandlers(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testAPI{server: server, svc: svc, store: store, minter: minter}
}

func (a *testAPI) do(t *testing.T, method, path, auth string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func janeSubmission() submitRequest {
	req := janeDoe("")
	return submitRequest{
		Theme:            req.Theme,
		StudentName:      req.StudentName,
		Email:            req.Email,
		RecipientAddress: req.RecipientAddress,
		Questions:        req.Questions,
	}
}

func Test_APIRequiresBearerToken(t *testing.T) {
	api := newTestAPI(t)

	var tests = map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"wrong secret": "Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJ1c2VyLWphbmUifQ.invalid",
	}
	for name, auth := range tests {
		t.Run(name, func(t *testing.T) {
			resp := api.do(t, http.MethodGet, "/api/certificates", auth, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-jane"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	resp := api.do(t, http.MethodGet, "/api/certificates", "Bearer "+raw, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func Test_APISubmitExam(t *testing.T) {
	api := newTestAPI(t)
	auth := bearer(t, "user-jane")

	resp := api.do(t, http.MethodPost, "/api/exams/session-1/submit", auth, janeSubmission())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[submitResponse](t, resp)
	assert.True(t, body.Passed)
	assert.Equal(t, "user-jane", body.Certificate.UserID)
	assert.Equal(t, "session-1", body.Certificate.SessionID)
	assert.Equal(t, 92, body.Certificate.Score)
	assert.Equal(t, MintMinted, body.Certificate.MintStatus)
	require.NotNil(t, body.Certificate.TokenID)
	assert.Equal(t, int64(1), *body.Certificate.TokenID)
	assert.NotEmpty(t, body.Certificate.Credential)

	resp = api.do(t, http.MethodPost, "/api/exams/session-1/submit", auth, janeSubmission())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	empty := janeSubmission()
	empty.Questions = nil
	resp = api.do(t, http.MethodPost, "/api/exams/session-2/submit", auth, empty)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/exams/session-3/submit", auth, "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 1, api.minter.callCount())
}

func Test_APIListAndSessionCertificates(t *testing.T) {
	api := newTestAPI(t)
	jane, other := bearer(t, "user-jane"), bearer(t, "user-other")

	for _, session := range []string{"session-1", "session-2"} {
		resp := api.do(t, http.MethodPost, "/api/exams/"+session+"/submit", jane, janeSubmission())
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := api.do(t, http.MethodGet, "/api/certificates", jane, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]certificateResponse](t, resp), 2)

	resp = api.do(t, http.MethodGet, "/api/certificates?user_id=user-jane", jane, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/certificates?user_id=user-jane", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/certificates", other, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]certificateResponse](t, resp))

	resp = api.do(t, http.MethodGet, "/api/certificates/session/session-2", jane, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "session-2", decode[certificateResponse](t, resp).SessionID)

	resp = api.do(t, http.MethodGet, "/api/certificates/session/session-2", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func Test_APIBackfill(t *testing.T) {
	api := newTestAPI(t)
	jane := bearer(t, "user-jane")

	resp := api.do(t, http.MethodPost, "/api/exams/session-1/submit", jane, janeSubmission())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[submitResponse](t, resp).Certificate.ID
	path := fmt.Sprintf("/api/certificates/%d", id)

	var tests = map[string]struct {
		auth string
		path string
		body any
		code int
	}{
		"updates image":   {auth: jane, path: path, body: map[string]string{"image": "https://cdn.example.com/1.png"}, code: http.StatusOK},
		"nothing to set":  {auth: jane, path: path, body: map[string]string{}, code: http.StatusBadRequest},
		"token id":        {auth: jane, path: path, body: map[string]int{"tokenId": 7}, code: http.StatusBadRequest},
		"replace tx hash": {auth: jane, path: path, body: map[string]string{"transactionHash": "0xbad"}, code: http.StatusConflict},
		"bad id":          {auth: jane, path: "/api/certificates/abc", body: map[string]string{"image": "x"}, code: http.StatusBadRequest},
		"other user":      {auth: bearer(t, "user-other"), path: path, body: map[string]string{"image": "x"}, code: http.StatusNotFound},
		"unknown id":      {auth: jane, path: "/api/certificates/999", body: map[string]string{"image": "x"}, code: http.StatusNotFound},
		"no bearer token": {path: path, body: map[string]string{"image": "x"}, code: http.StatusUnauthorized},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			resp := api.do(t, http.MethodPatch, test.path, test.auth, test.body)
			assert.Equal(t, test.code, resp.StatusCode)
		})
	}

	cert, err := api.store.GetCertificate(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/1.png", cert.Image)
	assert.Equal(t, int64(1), cert.TokenID.Int64)
	assert.NotEqual(t, "0xbad", cert.TransactionHash.String)
}

func Test_APINFTRoutesArePublic(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/exams/session-1/submit", bearer(t, "user-jane"), janeSubmission())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/nfts/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	meta := decode[NFTMetadata](t, resp)
	assert.Equal(t, "https://api.mentorcert.ai/api/nfts/1/image", meta.Image)

	resp = api.do(t, http.MethodGet, "/api/nfts/1/image", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))

	resp = api.do(t, http.MethodGet, "/api/nfts/7", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/api/nfts/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// stored URLs are redirected to
	url := "https://cdn.example.com/1.png"
	id := int64(1)
	_, err = api.svc.Backfill(t.Context(), "user-jane", id, Backfill{Image: &url})
	require.NoError(t, err)
	resp = api.do(t, http.MethodGet, "/api/nfts/1/image", "", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, url, resp.Header.Get("Location"))
}

func Test_APIWallets(t *testing.T) {
	api := newTestAPI(t)
	jane := bearer(t, "user-jane")

	resp := api.do(t, http.MethodPost, "/api/wallets/deploy", jane, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/wallets", jane, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[walletResponse](t, resp)
	assert.False(t, created.Deployed)
	assert.Equal(t, created.AccountAddress, created.Address)

	raw, err := json.Marshal(created)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "v1:", "the encrypted key never leaves the service")

	resp = api.do(t, http.MethodPost, "/api/wallets", jane, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/wallets/deploy", jane, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deployed := decode[walletResponse](t, resp)
	assert.True(t, deployed.Deployed)
	assert.Equal(t, deployed.DeployedAddress, deployed.Address)
}

func Test_APICredentialsBatchAndVerify(t *testing.T) {
	api := newTestAPI(t)
	jane := bearer(t, "user-jane")

	resp := api.do(t, http.MethodPost, "/api/credentials/batch", jane, batchRequest{
		Course: "Data Science",
		Recipients: []batchRecipient{
			{Name: "Jane Doe", Email: "jane@example.com"},
			{Name: "John Roe", Email: "john@example.com"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batch := decode[BatchResult](t, resp)
	require.Len(t, batch.Packages, 2)
	assert.Empty(t, batch.TransactionHash)

	resp = api.do(t, http.MethodPost, "/api/credentials/verify", jane, batch.Packages[0])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[VerifyResult](t, resp)
	assert.True(t, result.Valid)
	require.NotNil(t, result.ProofValid)
	assert.True(t, *result.ProofValid)

	resp = api.do(t, http.MethodPost, "/api/credentials/batch", jane, batchRequest{Course: "Data Science"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/api/credentials/batch", jane, batchRequest{Recipients: []batchRecipient{{Name: "x"}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func Test_APIOperatorRoutes(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/exams/session-1/submit", bearer(t, "user-jane"), janeSubmission())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "session-1")
	assert.Contains(t, string(page), "Active (Minting Pending Certificates)")

	resp = api.do(t, http.MethodGet, "/config", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	config := decode[map[string]string](t, resp)
	assert.Equal(t, "70", config["pass_mark"])
	assert.Equal(t, "sync", config["mint_mode"])

	resp = api.do(t, http.MethodPost, "/pause?key=wrong", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for i := 1; i <= 2; i++ {
		resp = api.do(t, http.MethodPost, "/pause?key=pause-secret", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, "attempt recorded", body["status"])
		assert.EqualValues(t, 3-i, body["attempts_remaining"])
	}
	active, err := api.svc.SchedulerActive()
	require.NoError(t, err)
	assert.True(t, active)

	resp = api.do(t, http.MethodPost, "/pause?key=pause-secret", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pausing mint scheduler", decode[map[string]string](t, resp)["status"])

	active, err = api.svc.SchedulerActive()
	require.NoError(t, err)
	assert.False(t, active)

	// no resume key configured
	resp = api.do(t, http.MethodPost, "/resume?key=anything", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
