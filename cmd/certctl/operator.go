package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	issuerURL   string
	operatorKey string
	attempts    int
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Pause or resume the async minter of a running issuer",
}

func switchCmd(action, envKey string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("Send the %s request until the kill switch fires", action),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := operatorKey
			if key == "" {
				key = os.Getenv(envKey)
			}
			if key == "" {
				return fmt.Errorf("--key or %s is required", envKey)
			}
			return sendSwitch(cmd, action, key)
		},
	}
}

// sendSwitch repeats the request the issuer needs within its window.
func sendSwitch(cmd *cobra.Command, action, key string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := fmt.Sprintf("%s/%s?key=%s", issuerURL, action, url.QueryEscape(key))

	for i := 1; i <= attempts; i++ {
		resp, err := client.Post(endpoint, "application/json", nil)
		if err != nil {
			return fmt.Errorf("attempt %d failed: %w", i, err)
		}
		var body map[string]any
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("attempt %d: issuer returned %d: %v", i, resp.StatusCode, body["error"])
		}
		if decodeErr != nil {
			return fmt.Errorf("attempt %d: failed to decode response: %w", i, decodeErr)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "attempt %d: %v\n", i, body["message"])
		if body["status"] != "attempt recorded" {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("kill switch did not fire; check the issuer threshold")
}

func init() {
	operatorCmd.PersistentFlags().StringVar(&issuerURL, "url", "http://127.0.0.1:8080", "issuer base URL")
	operatorCmd.PersistentFlags().StringVar(&operatorKey, "key", "", "operator API key")
	operatorCmd.PersistentFlags().IntVar(&attempts, "attempts", 3, "requests to send")
	operatorCmd.AddCommand(switchCmd("pause", "PAUSE_API_KEY"), switchCmd("resume", "RESUME_API_KEY"))
	rootCmd.AddCommand(operatorCmd)
}
