// Package sshd implements transport.Provider on top of golang.org/x/crypto/ssh
// (RFC 6242, NETCONF over SSH).
//
// Each authenticated SSH connection becomes a transport.Transport. A
// "session" channel becomes a NETCONF channel once the client requests the
// "netconf" subsystem on it; other channel types and requests are refused.
package sshd

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/transport"
)

const (
	// SubsystemName is the SSH subsystem NETCONF is reached through.
	SubsystemName = "netconf"

	defaultHandshakeTimeout = 30 * time.Second
	defaultMaxAuthTries     = 3
	defaultServerVersion    = "SSH-2.0-netconfd"
)

// Config configures the SSH provider.
type Config struct {
	// Username is the only principal allowed to log in.
	Username string

	// Password is compared against the client password. A value starting
	// with "$2a$", "$2b$" or "$2y$" is treated as a bcrypt hash.
	Password string

	// AuthorizedKeys optionally enables public key authentication for
	// Username (authorized_keys format).
	AuthorizedKeys []byte

	// HandshakeTimeout bounds the SSH handshake including authentication.
	HandshakeTimeout time.Duration

	// MaxAuthTries bounds authentication attempts per connection.
	MaxAuthTries int

	// ServerVersion is the SSH identification string.
	ServerVersion string
}

// Provider authenticates SSH connections.
type Provider struct {
	cfg        Config
	hostKeys   *HostKeyManager
	authorized map[string]struct{}
}

var _ transport.Provider = (*Provider)(nil)

// NewProvider creates an SSH provider using keys for the host key.
func NewProvider(cfg Config, keys *HostKeyManager) (*Provider, error) {
	if cfg.Username == "" {
		return nil, errors.New("sshd: username is required")
	}
	if cfg.Password == "" && len(cfg.AuthorizedKeys) == 0 {
		return nil, errors.New("sshd: a password or authorized keys are required")
	}
	if keys == nil {
		return nil, errors.New("sshd: host key manager is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxAuthTries <= 0 {
		cfg.MaxAuthTries = defaultMaxAuthTries
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = defaultServerVersion
	}

	authorized, err := parseAuthorizedKeys(cfg.AuthorizedKeys)
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:        cfg,
		hostKeys:   keys,
		authorized: authorized,
	}, nil
}

// IsBcryptHash reports whether s looks like a bcrypt hash.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func parseAuthorizedKeys(data []byte) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		pub, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, fmt.Errorf("sshd: parse authorized keys: %w", err)
		}
		keys[string(pub.Marshal())] = struct{}{}
		rest = bytes.TrimSpace(next)
	}
	return keys, nil
}

// serverConfig is built per connection so a reloaded host key applies to
// every new handshake.
func (p *Provider) serverConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		MaxAuthTries:  p.cfg.MaxAuthTries,
		ServerVersion: p.cfg.ServerVersion,
	}
	if p.cfg.Password != "" {
		cfg.PasswordCallback = p.checkPassword
	}
	if len(p.authorized) > 0 {
		cfg.PublicKeyCallback = p.checkPublicKey
	}
	cfg.AddHostKey(p.hostKeys.Signer())
	return cfg
}

func (p *Provider) checkUser(meta ssh.ConnMetadata) bool {
	return subtle.ConstantTimeCompare([]byte(meta.User()), []byte(p.cfg.Username)) == 1
}

func (p *Provider) checkPassword(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if !CheckCredentials(p.cfg.Username, p.cfg.Password, meta.User(), password) {
		logger.Debug("SSH password rejected", logger.KeyUsername, meta.User(),
			logger.KeyTransport, meta.RemoteAddr().String())
		return nil, fmt.Errorf("password rejected for %q", meta.User())
	}
	return &ssh.Permissions{Extensions: map[string]string{"auth-method": "password"}}, nil
}

// CheckCredentials compares user and password against the configured pair.
// wantPassword may be plain or a bcrypt hash. Both halves are always
// evaluated.
func CheckCredentials(wantUser, wantPassword, user string, password []byte) bool {
	if wantPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1

	var passOK bool
	if IsBcryptHash(wantPassword) {
		passOK = bcrypt.CompareHashAndPassword([]byte(wantPassword), password) == nil
	} else {
		passOK = subtle.ConstantTimeCompare(password, []byte(wantPassword)) == 1
	}
	return userOK && passOK
}

func (p *Provider) checkPublicKey(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if _, ok := p.authorized[string(key.Marshal())]; ok && p.checkUser(meta) {
		return &ssh.Permissions{Extensions: map[string]string{
			"auth-method": "publickey",
			"pubkey-fp":   ssh.FingerprintSHA256(key),
		}}, nil
	}
	return nil, fmt.Errorf("public key rejected for %q", meta.User())
}

// Authenticate performs the SSH handshake on conn. Any handshake failure,
// including failed authentication, is reported as transport.ErrAuthentication.
func (p *Provider) Authenticate(ctx context.Context, conn net.Conn) (transport.Transport, error) {
	if err := conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set handshake deadline: %v", transport.ErrAuthentication, err)
	}

	// Unblock the handshake if ctx is cancelled mid-way.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	sconn, chans, reqs, err := ssh.NewServerConn(conn, p.serverConfig())
	stop()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrAuthentication, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = sconn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	go ssh.DiscardRequests(reqs)

	t := newSSHTransport(sconn, chans)
	go t.run()

	logger.Debug("SSH transport authenticated",
		logger.KeyUsername, sconn.User(),
		logger.KeyTransport, sconn.RemoteAddr().String(),
		"auth_method", sconn.Permissions.Extensions["auth-method"])
	return t, nil
}
