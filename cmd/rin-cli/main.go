// Command rin-cli manages an agent credential from the terminal. The
// API key is kept in ~/.config/rin/credentials.json with 0600
// permissions; rotate rewrites it and revoke deletes it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultBaseURL = "https://api.cvsyn.com"

type credentials struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("RIN_API_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var err error
	switch os.Args[1] {
	case "register":
		err = register(baseURL, os.Args[2:])
	case "me":
		err = me(baseURL)
	case "status":
		err = status(baseURL)
	case "rotate":
		err = rotate(baseURL)
	case "revoke":
		err = revoke(baseURL)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: rin-cli <command>")
	fmt.Fprintln(os.Stderr, "  register -name <name> [-description <text>]   register an agent and store its key")
	fmt.Fprintln(os.Stderr, "  me                                            show the agent profile")
	fmt.Fprintln(os.Stderr, "  status                                        check whether the stored key is active")
	fmt.Fprintln(os.Stderr, "  rotate                                        replace the API key")
	fmt.Fprintln(os.Stderr, "  revoke                                        revoke the key and delete the credentials file")
}

func register(baseURL string, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "Agent name")
	description := fs.String("description", "", "Agent description")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	body, err := postJSON(baseURL+"/api/v1/agents/register", "", map[string]string{
		"name":        *name,
		"description": *description,
	})
	if err != nil {
		return err
	}

	var resp struct {
		Name   string `json:"name"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	if err := saveCredentials(credentials{Name: resp.Name, APIKey: resp.APIKey}); err != nil {
		return err
	}
	fmt.Printf("Registered %q. API key saved to %s\n", resp.Name, mustCredentialsPath())
	return nil
}

func me(baseURL string) error {
	creds, err := loadCredentials()
	if err != nil {
		return err
	}
	body, err := get(baseURL+"/api/v1/agents/me", creds.APIKey)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

func status(baseURL string) error {
	creds, err := loadCredentials()
	if err != nil {
		return err
	}
	body, err := get(baseURL+"/api/v1/agents/status", creds.APIKey)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func rotate(baseURL string) error {
	creds, err := loadCredentials()
	if err != nil {
		return err
	}

	body, err := postJSON(baseURL+"/api/v1/agents/rotate-key", creds.APIKey, nil)
	if err != nil {
		return err
	}

	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	creds.APIKey = resp.APIKey
	if err := saveCredentials(creds); err != nil {
		return err
	}
	fmt.Println("API key rotated. The old key no longer works.")
	return nil
}

func revoke(baseURL string) error {
	creds, err := loadCredentials()
	if err != nil {
		return err
	}

	if _, err := postJSON(baseURL+"/api/v1/agents/revoke", creds.APIKey, nil); err != nil {
		return err
	}

	if err := os.Remove(mustCredentialsPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Println("Key revoked and credentials file removed.")
	return nil
}

func get(url, apiKey string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return do(req, apiKey)
}

func postJSON(url, apiKey string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(req, apiKey)
}

func do(req *http.Request, apiKey string) ([]byte, error) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return body, nil
}

func mustCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".rin-credentials.json")
	}
	return filepath.Join(home, ".config", "rin", "credentials.json")
}

func loadCredentials() (credentials, error) {
	data, err := os.ReadFile(mustCredentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return credentials{}, fmt.Errorf("no credentials found; run 'rin-cli register' first")
		}
		return credentials{}, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, err
	}
	return creds, nil
}

func saveCredentials(creds credentials) error {
	path := mustCredentialsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
