package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorcertai/cert-issuer/internal/chain"
)

var (
	testClassHash = common.HexToHash("0x036078334509b514626504edc9fb252328d1a240e4e948bef8d0c08dff45927f")
	testUDC       = common.HexToAddress("0x41a78e741e5af2fec34b695679bc6891742439f7")
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher("correct horse battery staple")
	require.NoError(t, err)
	c.n = 1 << 10
	return c
}

func Test_CipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt([]byte("secret key"))
	require.NoError(t, err)
	second, err := c.Encrypt([]byte("secret key"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "v1:"))
	assert.NotEqual(t, first, second, "salt and nonce must differ per encryption")

	plain, err := c.Decrypt(first)
	require.NoError(t, err)
	assert.Equal(t, "secret key", string(plain))
}

func Test_CipherRejects(t *testing.T) {
	c := newTestCipher(t)
	encrypted, err := c.Encrypt([]byte("secret key"))
	require.NoError(t, err)

	other, err := NewCipher("another passphrase")
	require.NoError(t, err)
	other.n = 1 << 10

	last := encrypted[len(encrypted)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}

	var tests = map[string]struct {
		cipher *Cipher
		input  string
	}{
		"wrong passphrase": {cipher: other, input: encrypted},
		"tampered":         {cipher: c, input: encrypted[:len(encrypted)-1] + string(flipped)},
		"truncated":        {cipher: c, input: encrypted[:20]},
		"legacy format":    {cipher: c, input: "deadbeef"},
		"not hex":          {cipher: c, input: "v1:zz"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tt.cipher.Decrypt(tt.input)
			require.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func Test_EmptyPassphrase(t *testing.T) {
	_, err := NewCipher("")
	require.Error(t, err)
}

func Test_VaultNewAndOpen(t *testing.T) {
	vault := NewVault(newTestCipher(t), testClassHash)

	material, err := vault.New()
	require.NoError(t, err)
	assert.NotContains(t, material.EncryptedKey, "0x")

	key, err := vault.Open(material.EncryptedKey)
	require.NoError(t, err)
	assert.Equal(t, material.Owner, OwnerAddress(key))
	assert.Equal(t, material.Account, NewAccount(material.Owner, testClassHash).Address)
}

func Test_CounterfactualAddressIsDeterministic(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	a := NewAccount(owner, testClassHash)
	b := NewAccount(owner, testClassHash)
	assert.Equal(t, a, b)

	other := NewAccount(common.HexToAddress("0x00000000000000000000000000000000000000bb"), testClassHash)
	assert.NotEqual(t, a.Address, other.Address)

	otherClass := NewAccount(owner, common.HexToHash("0x01"))
	assert.NotEqual(t, a.Address, otherClass.Address)

	assert.Equal(t, testClassHash.Hex(), a.Deployment.ClassHash)
	assert.Equal(t, "0x1", a.Deployment.Unique)
	assert.Equal(t, []string{"0xaa", "0x0"}, a.Deployment.Calldata)
}

func Test_SignMessage(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	hash, sig, err := SignMessage(key, map[string]string{"merkleRoot": "0x01"})
	require.NoError(t, err)
	assert.True(t, VerifySignature(OwnerAddress(key), hash, sig))
	assert.False(t, VerifySignature(common.Address{1}, hash, sig))
}

// receiptScript fails the first lookups with the given errors, then returns
// the receipt.
type receiptScript struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	receipt *types.Receipt
}

func (r *receiptScript) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= len(r.errs) {
		return nil, r.errs[r.calls-1]
	}
	return r.receipt, nil
}

type paymasterCall struct {
	path   string
	apiKey string
	body   map[string]any
}

func newPaymasterServer(t *testing.T, txHash string, calls *[]paymasterCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, paymasterCall{path: r.URL.Path, apiKey: r.Header.Get("api-key"), body: body})

		switch r.URL.Path {
		case "/paymaster/v1/build-typed-data":
			_, _ = w.Write([]byte(`{"typedData":{}}`))
		case "/paymaster/v1/deploy-account":
			_ = json.NewEncoder(w).Encode(map[string]string{"transactionHash": txHash})
		default:
			http.NotFound(w, r)
		}
	}))
}

func deployReceipt(txHash common.Hash, deployed common.Address) *types.Receipt {
	return &types.Receipt{
		TxHash: txHash,
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			{Address: common.Address{0x99}, Data: common.LeftPadBytes([]byte{1}, 32)},
			{Address: testUDC, Data: append(common.LeftPadBytes(deployed.Bytes(), 32), make([]byte, 32)...)},
		},
	}
}

func Test_DeployAfterFourNotFound(t *testing.T) {
	txHash := common.HexToHash("0xabc123")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	deployed := NewAccount(owner, testClassHash).Address

	var calls []paymasterCall
	server := newPaymasterServer(t, txHash.Hex(), &calls)
	defer server.Close()

	notFound := errors.New("Transaction hash not found")
	receipts := &receiptScript{
		errs:    []error{notFound, notFound, ethereum.NotFound, notFound},
		receipt: deployReceipt(txHash, deployed),
	}

	d := NewDeployer(NewPaymaster(server.URL+"/", "pm-key", time.Second), receipts, testClassHash, testUDC)
	d.Backoff = time.Millisecond

	out, err := d.Deploy(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, txHash, out.TransactionHash)
	assert.Equal(t, deployed, out.ContractAddress)
	assert.Equal(t, 5, receipts.calls)

	require.Len(t, calls, 2)
	assert.Equal(t, "/paymaster/v1/build-typed-data", calls[0].path)
	assert.Equal(t, "/paymaster/v1/deploy-account", calls[1].path)
	for _, c := range calls {
		assert.Equal(t, "pm-key", c.apiKey)
		assert.Equal(t, deployed.Hex(), c.body["userAddress"])
		assert.Contains(t, c.body, "deploymentData")
	}
	assert.Equal(t, []any{}, calls[0].body["calls"])
	assert.Equal(t, testClassHash.Hex(), calls[0].body["accountClassHash"])
	assert.NotContains(t, calls[1].body, "calls")
}

func Test_DeployFailures(t *testing.T) {
	txHash := common.HexToHash("0xabc123")
	notFound := errors.New("Transaction hash not found")

	var tests = map[string]struct {
		receipts *receiptScript
		wantErr  error
		calls    int
	}{
		"receipt never found": {
			receipts: &receiptScript{errs: []error{notFound, notFound, notFound, notFound, notFound}},
			wantErr:  chain.ErrReceiptNotFound,
			calls:    5,
		},
		"hard rpc error": {
			receipts: &receiptScript{errs: []error{errors.New("connection reset")}},
			calls:    1,
		},
		"no deployer event": {
			receipts: &receiptScript{receipt: &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}},
			wantErr:  ErrNoDeployEvent,
			calls:    1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var calls []paymasterCall
			server := newPaymasterServer(t, txHash.Hex(), &calls)
			defer server.Close()

			d := NewDeployer(NewPaymaster(server.URL, "pm-key", time.Second), tt.receipts, testClassHash, testUDC)
			d.Backoff = time.Millisecond

			_, err := d.Deploy(context.Background(), common.Address{1})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.calls, tt.receipts.calls)
		})
	}
}

func Test_PaymasterNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	receipts := &receiptScript{}
	d := NewDeployer(NewPaymaster(server.URL, "bad", time.Second), receipts, testClassHash, testUDC)

	_, err := d.Deploy(context.Background(), common.Address{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build typed data")
	assert.Equal(t, 0, receipts.calls)
}
