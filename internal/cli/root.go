package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildhall-dao/guildhall/internal/daemon"
)

// ─── Root Command ───────────────────────────────────────────────────────────

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.guildhall/config.toml)")
}

var rootCmd = &cobra.Command{
	Use:   "guildhall",
	Short: "Sprint lifecycle and reward settlement engine",
	Long: `Guildhall runs sprint lifecycles for contributor collectives: phase
transitions, completion snapshots, reward emission with treasury caps and
carryover, and a claims ledger for contributor payouts.

Start the daemon with 'guildhall serve'; the other commands talk to it
over its local API.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	return daemon.LoadConfig(path)
}

// ─── API Client Helpers ─────────────────────────────────────────────────────

func apiBase() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Addr(), nil
}

// callAPI issues a request against the running daemon and decodes the JSON
// response. Error envelopes from the API become CLI errors verbatim.
func callAPI(method, path string, body any, out any) error {
	return callContributorAPI("", method, path, body, out)
}

// callContributorAPI is callAPI with the acting contributor attached.
func callContributorAPI(contributor, method, path string, body any, out any) error {
	base, err := apiBase()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	} else {
		buf.WriteString("{}")
	}

	req, err := http.NewRequest(method, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if contributor != "" {
		req.Header.Set("X-Contributor-ID", contributor)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is 'guildhall serve' running?): %w", base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("api error: %s", resp.Status)
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// printJSON pretty-prints an API response for human consumption.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
