package commands

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/credentials"
	"github.com/marmos91/netconfd/internal/cli/prompt"
	"github.com/marmos91/netconfd/pkg/apiclient"
	"github.com/marmos91/netconfd/pkg/config"
)

// Environment variables read by the commands that talk to the admin API.
const (
	EnvServerURL = "NETCONFD_ADMIN_URL"
	EnvUsername  = "NETCONFD_USERNAME"
	EnvPassword  = "NETCONFD_PASSWORD"
)

// clientFlags are shared by every admin API command.
type clientFlags struct {
	server   string
	username string
	password string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "Admin API URL (default: from config, or http://localhost:8080; env "+EnvServerURL+")")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Username (env "+EnvUsername+")")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "Password (env "+EnvPassword+")")
}

// serverURL resolves the admin API URL from the flag, the environment, the
// config file, and finally the default port.
func (f *clientFlags) serverURL() string {
	if f.server != "" {
		return f.server
	}
	if env := os.Getenv(EnvServerURL); env != "" {
		return env
	}

	host, port := "localhost", 8080
	if cfg, err := config.Load(GetConfigFile()); err == nil {
		port = cfg.Admin.Port
		if b := cfg.Admin.BindAddress; b != "" && b != "0.0.0.0" && b != "::" {
			host = b
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// credentials resolves the login from flags, the environment, or prompts.
func (f *clientFlags) credentials() (string, string, error) {
	username := firstNonEmpty(f.username, os.Getenv(EnvUsername))
	password := firstNonEmpty(f.password, os.Getenv(EnvPassword))

	var err error
	if username == "" {
		if username, err = prompt.Input("Username", "admin"); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = prompt.Password("Password"); err != nil {
			return "", "", err
		}
	}
	return username, password, nil
}

// withClient runs fn with an authenticated client. A cached token is tried
// first; when the server rejects it the cache entry is dropped and fn is
// retried once after a fresh login.
func (f *clientFlags) withClient(fn func(*apiclient.Client) error) error {
	url := f.serverURL()
	client := apiclient.New(url)

	store, err := credentials.Open(credentialsPath())
	if err != nil {
		return err
	}

	if tok, err := store.Get(url); err == nil {
		err := fn(client.WithToken(tok.AccessToken))
		if !apiclient.IsAuthError(err) {
			return err
		}
		_ = store.Delete(url)
	}

	if err := f.login(client, store, url); err != nil {
		return err
	}
	return fn(client)
}

func (f *clientFlags) login(client *apiclient.Client, store *credentials.Store, url string) error {
	username, password, err := f.credentials()
	if err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			return err
		}
		return fmt.Errorf("credentials: %w", err)
	}

	tok, err := client.Login(username, password)
	if err != nil {
		return fmt.Errorf("login to %s failed: %w", url, err)
	}
	client.SetToken(tok.AccessToken)

	if err := store.Put(&credentials.Token{
		ServerURL:   url,
		Username:    username,
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
	}); err != nil {
		// The command can still proceed with the in-memory token.
		fmt.Fprintf(os.Stderr, "Warning: could not cache token: %v\n", err)
	}
	return nil
}

func credentialsPath() string {
	return filepath.Join(config.GetConfigDir(), credentials.FileName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
