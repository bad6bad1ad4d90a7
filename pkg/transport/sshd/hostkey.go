package sshd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/ssh"

	"github.com/marmos91/netconfd/internal/logger"
)

// HostKeyManager holds the server host key and, when the key comes from a
// file, reloads it whenever the file is rewritten or replaced.
//
// The parent directory is watched rather than the file itself so that key
// rotation tools which atomically rename a new file into place are seen.
//
// Thread Safety: All methods are safe for concurrent use.
type HostKeyManager struct {
	mu     sync.RWMutex
	signer ssh.Signer
	path   string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHostKeyManager parses pemBytes, or reads path when pemBytes is empty.
func NewHostKeyManager(pemBytes []byte, path string) (*HostKeyManager, error) {
	if len(pemBytes) == 0 {
		if path == "" {
			return nil, errors.New("sshd: no host key configured")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sshd: read host key: %w", err)
		}
		pemBytes = data
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("sshd: parse host key: %w", err)
	}

	return &HostKeyManager{
		signer: signer,
		path:   path,
		stopCh: make(chan struct{}),
	}, nil
}

// Signer returns the current host key.
func (m *HostKeyManager) Signer() ssh.Signer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signer
}

// Start begins watching the host key file. It is a no-op when the key was
// supplied inline.
func (m *HostKeyManager) Start() error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sshd: create host key watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("sshd: watch host key directory: %w", err)
	}

	m.watcher = watcher
	m.doneCh = make(chan struct{})
	go m.watchLoop()

	logger.Info("Host key hot-reload started", "path", m.path)
	return nil
}

// Stop ends the watch. Safe to call multiple times or without Start.
func (m *HostKeyManager) Stop() {
	select {
	case <-m.stopCh:
		return
	default:
		close(m.stopCh)
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
		<-m.doneCh
	}
}

func (m *HostKeyManager) watchLoop() {
	defer close(m.doneCh)

	target := filepath.Clean(m.path)
	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.reload()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Host key watcher error", "path", m.path, "error", err)
		}
	}
}

// reload swaps in the key on disk. A file that is missing or does not parse
// (for example mid-write) leaves the current key in place.
func (m *HostKeyManager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		logger.Debug("Host key reload skipped", "path", m.path, "error", err)
		return
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		logger.Warn("Host key reload failed", "path", m.path, "error", err)
		return
	}

	m.mu.Lock()
	m.signer = signer
	m.mu.Unlock()

	logger.Info("Host key reloaded", "path", m.path,
		"fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
}

// GenerateHostKey returns a new ed25519 private key in OpenSSH PEM form.
func GenerateHostKey() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sshd: generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "netconfd host key")
	if err != nil {
		return nil, fmt.Errorf("sshd: marshal host key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}
