package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	emitURL      string
	emitToken    string
	emitStrategy string
	emitData     string
)

var emitCmd = &cobra.Command{
	Use:   "emit <event>",
	Short: "Post a test event to a running relay",
	Long: `Post an event such as shipment_created, shipment_price_updated or
bid_placed to the /emit endpoint of a running relay and print the answer.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List actors connected to a running relay",
	Args:  cobra.NoArgs,
	RunE:  runClients,
}

func init() {
	emitCmd.Flags().StringVar(&emitURL, "url", "http://localhost:3000", "relay base URL")
	emitCmd.Flags().StringVar(&emitToken, "token", "", "bearer token forwarded to the backend")
	emitCmd.Flags().StringVar(&emitStrategy, "strategy", "", "dispatch strategy override (sequential or broadcast)")
	emitCmd.Flags().StringVarP(&emitData, "data", "d", "{}", "event data as JSON")
	clientsCmd.Flags().StringVar(&emitURL, "url", "http://localhost:3000", "relay base URL")
	rootCmd.AddCommand(emitCmd, clientsCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(emitData)) {
		return fmt.Errorf("--data is not valid JSON")
	}
	body, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: args[0], Data: json.RawMessage(emitData)})
	if err != nil {
		return err
	}
	target := strings.TrimRight(emitURL, "/") + "/emit"
	if emitStrategy != "" {
		target += "?strategy=" + emitStrategy
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if emitToken != "" {
		req.Header.Set("Authorization", "Bearer "+emitToken)
	}
	return doAndPrint(cmd, req)
}

func runClients(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(emitURL, "/")+"/debug/clients", nil)
	if err != nil {
		return err
	}
	return doAndPrint(cmd, req)
}

func doAndPrint(cmd *cobra.Command, req *http.Request) error {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	cmd.Printf("%s %s", resp.Status, b)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay answered %s", resp.Status)
	}
	return nil
}
