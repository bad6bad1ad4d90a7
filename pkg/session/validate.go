package session

import (
	"github.com/marmos91/netconfd/pkg/netconf"
)

// params is the validated parameter set of one operation, keyed by local name.
type params map[string]*netconf.Node

// validateParams checks the children of op. Every name in required must
// appear exactly once; names in optional may appear at most once. A child
// that is not listed, or a repeated child, is an unknown element.
func validateParams(op *netconf.Node, required, optional []string) (params, *netconf.RPCError) {
	allowed := make(map[string]bool, len(required)+len(optional))
	for _, n := range required {
		allowed[n] = true
	}
	for _, n := range optional {
		allowed[n] = true
	}

	p := make(params, len(op.Children))
	for _, child := range op.Children {
		name := child.Name()
		if !allowed[name] {
			return nil, netconf.NewUnknownElement(name)
		}
		if _, dup := p[name]; dup {
			return nil, netconf.NewUnknownElement(name)
		}
		p[name] = child
	}

	for _, n := range required {
		if _, ok := p[n]; !ok {
			return nil, netconf.NewMissingElement(n)
		}
	}
	return p, nil
}

// validateFilter accepts a subtree filter (the default) or an xpath filter.
func validateFilter(filter *netconf.Node) *netconf.RPCError {
	if filter == nil {
		return nil
	}
	typ, ok := filter.Attr("type")
	if !ok || typ == "subtree" {
		return nil
	}
	if typ == "xpath" {
		if sel, ok := filter.Attr("select"); !ok || sel == "" {
			return netconf.NewMissingElement("select")
		}
		return nil
	}
	return netconf.NewInvalidValue("unsupported filter type " + typ)
}

// datastoreName returns the datastore element inside a source or target
// parameter.
func datastoreName(param *netconf.Node) (string, *netconf.RPCError) {
	if len(param.Children) != 1 {
		return "", netconf.NewInvalidValue(param.Name() + " must name exactly one datastore")
	}
	return param.Children[0].Name(), nil
}
