package session

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/marmos91/netconfd/pkg/netconf"
)

// MonitoringNamespace is the ietf-netconf-monitoring namespace used by the
// state data returned from get.
const MonitoringNamespace = "urn:ietf:params:xml:ns:yang:ietf-netconf-monitoring"

type netconfState struct {
	XMLName  xml.Name       `xml:"netconf-state"`
	Xmlns    string         `xml:"xmlns,attr"`
	Sessions []sessionState `xml:"sessions>session"`
}

type sessionState struct {
	SessionID  uint64 `xml:"session-id"`
	Transport  string `xml:"transport"`
	Username   string `xml:"username"`
	SourceHost string `xml:"source-host,omitempty"`
	LoginTime  string `xml:"login-time"`
	InRPCs     uint64 `xml:"in-rpcs"`
	Framing    string `xml:"framing"`
}

// getHandler answers get with the session list of the monitoring model.
func getHandler(registry *Registry) HandlerFunc {
	return func(_ context.Context, req *Request) (Result, error) {
		if !wantsNetconfState(req.Operation.Child("filter")) {
			return Result{Reply: netconf.DataReply(req.RPC.Attrs, []byte{})}, nil
		}

		state := netconfState{Xmlns: MonitoringNamespace}
		for _, s := range registry.Snapshot() {
			info := s.Info()
			state.Sessions = append(state.Sessions, sessionState{
				SessionID:  info.ID,
				Transport:  "netconf-" + transportName(info.Transport),
				Username:   info.User,
				SourceHost: s.SourceHost(),
				LoginTime:  info.OpenedAt.UTC().Format(time.RFC3339),
				InRPCs:     info.RPCs,
				Framing:    info.Framing,
			})
		}

		body, err := xml.Marshal(state)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: netconf.DataReply(req.RPC.Attrs, body)}, nil
	}
}

func transportName(t string) string {
	if t == "" {
		return "ssh"
	}
	return t
}

// wantsNetconfState reports whether filter selects the monitoring subtree.
// No filter selects everything.
func wantsNetconfState(filter *netconf.Node) bool {
	if filter == nil {
		return true
	}
	if typ, _ := filter.Attr("type"); typ == "xpath" {
		sel, _ := filter.Attr("select")
		return sel == "/" || strings.Contains(sel, "netconf-state")
	}
	if len(filter.Children) == 0 {
		return false
	}
	for _, c := range filter.Children {
		if c.Name() == "netconf-state" {
			return true
		}
	}
	return false
}

// lockHandler implements lock (lock=true) and unlock against table.
func lockHandler(table *LockTable, lock bool) HandlerFunc {
	return func(_ context.Context, req *Request) (Result, error) {
		p, rerr := validateParams(req.Operation, []string{"target"}, nil)
		if rerr != nil {
			return Result{}, rerr
		}
		ds, rerr := datastoreName(p["target"])
		if rerr != nil {
			return Result{}, rerr
		}
		if !lockableDatastores[ds] {
			return Result{}, netconf.NewInvalidValue("unknown datastore " + ds)
		}

		if lock {
			rerr = table.Lock(ds, req.SessionID())
		} else {
			rerr = table.Unlock(ds, req.SessionID())
		}
		if rerr != nil {
			return Result{}, rerr
		}
		return Result{}, nil
	}
}
