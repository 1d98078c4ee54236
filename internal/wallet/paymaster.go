package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Paymaster is a client for the fee-sponsoring deployment service.
type Paymaster struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPaymaster(baseURL, apiKey string, timeout time.Duration) *Paymaster {
	return &Paymaster{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type buildTypedDataRequest struct {
	UserAddress      string          `json:"userAddress"`
	AccountClassHash string          `json:"accountClassHash"`
	DeploymentData   DeploymentData  `json:"deploymentData"`
	Calls            json.RawMessage `json:"calls"`
}

type deployAccountRequest struct {
	UserAddress    string         `json:"userAddress"`
	DeploymentData DeploymentData `json:"deploymentData"`
}

type deployAccountResponse struct {
	TransactionHash string `json:"transactionHash"`
}

// BuildTypedData asks the paymaster to prepare the sponsored deployment and
// returns its typed data unchanged.
func (p *Paymaster) BuildTypedData(ctx context.Context, account Account) (json.RawMessage, error) {
	req := buildTypedDataRequest{
		UserAddress:      account.Address.Hex(),
		AccountClassHash: account.Deployment.ClassHash,
		DeploymentData:   account.Deployment,
		Calls:            json.RawMessage("[]"),
	}
	var out json.RawMessage
	if err := p.post(ctx, "/paymaster/v1/build-typed-data", req, &out); err != nil {
		return nil, fmt.Errorf("failed to build typed data: %w", err)
	}
	return out, nil
}

// DeployAccount submits the sponsored deployment and returns its
// transaction hash.
func (p *Paymaster) DeployAccount(ctx context.Context, account Account) (common.Hash, error) {
	req := deployAccountRequest{
		UserAddress:    account.Address.Hex(),
		DeploymentData: account.Deployment,
	}
	var out deployAccountResponse
	if err := p.post(ctx, "/paymaster/v1/deploy-account", req, &out); err != nil {
		return common.Hash{}, fmt.Errorf("failed to execute deployment: %w", err)
	}
	if out.TransactionHash == "" {
		return common.Hash{}, fmt.Errorf("paymaster returned no transaction hash")
	}
	return common.HexToHash(out.TransactionHash), nil
}

func (p *Paymaster) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("paymaster returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
