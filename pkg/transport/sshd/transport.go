package sshd

import (
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/transport"
)

// sshTransport adapts an ssh.ServerConn to transport.Transport.
type sshTransport struct {
	conn  *ssh.ServerConn
	chans <-chan ssh.NewChannel

	// ready hands channels that completed the subsystem request to AcceptChannel.
	ready chan transport.Channel

	// done is closed once the connection stops producing channels.
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*sshTransport)(nil)

func newSSHTransport(conn *ssh.ServerConn, chans <-chan ssh.NewChannel) *sshTransport {
	return &sshTransport{
		conn:  conn,
		chans: chans,
		ready: make(chan transport.Channel),
		done:  make(chan struct{}),
	}
}

// run accepts session channels until the connection closes.
func (t *sshTransport) run() {
	defer close(t.done)

	for nc := range t.chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			logger.Debug("SSH channel accept failed", logger.KeyTransport, t.remote(), "error", err)
			continue
		}
		go t.awaitSubsystem(ch, reqs)
	}
}

type subsystemRequest struct {
	Name string
}

// awaitSubsystem waits for the netconf subsystem request on ch. Requests
// other than "subsystem netconf" are refused; environment and pty requests
// are harmless and simply declined.
func (t *sshTransport) awaitSubsystem(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.Type != "subsystem" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var sub subsystemRequest
		if err := ssh.Unmarshal(req.Payload, &sub); err != nil || sub.Name != SubsystemName {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			_ = req.Reply(true, nil)
		}
		go ssh.DiscardRequests(reqs)

		select {
		case t.ready <- ch:
		case <-t.done:
			_ = ch.Close()
		}
		return
	}

	// Request stream ended without a netconf subsystem request.
	_ = ch.Close()
}

// AcceptChannel waits up to timeout for the next NETCONF channel.
func (t *sshTransport) AcceptChannel(timeout time.Duration) (transport.Channel, error) {
	if timeout <= 0 {
		select {
		case ch := <-t.ready:
			return ch, nil
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch := <-t.ready:
		return ch, nil
	case <-t.done:
		return nil, nil
	case <-timer.C:
		return nil, nil
	}
}

func (t *sshTransport) IsActive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *sshTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *sshTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *sshTransport) User() string {
	return t.conn.User()
}

func (t *sshTransport) remote() string {
	return t.conn.RemoteAddr().String()
}
