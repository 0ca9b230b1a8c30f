package aggregator

import (
	"github.com/veritas-care/evv/common"
	"github.com/veritas-care/evv/common/evverrors"
)

// Registry holds one configured client per aggregator platform.
type Registry struct {
	clients map[common.AggregatorType]Client
}

// NewRegistry builds clients from per-aggregator credentials. Platforms
// without credentials are simply absent; submitting to them fails with
// AuthenticationFailed.
func NewRegistry(creds map[common.AggregatorType]Credentials) *Registry {
	clients := make(map[common.AggregatorType]Client, len(creds))
	for typ, c := range creds {
		switch typ {
		case common.SandataAggregatorType:
			clients[typ] = NewSandata(c)
		case common.HHAeXchangeAggregatorType:
			clients[typ] = NewHHAeXchange(c)
		case common.TellusAggregatorType:
			clients[typ] = NewTellus(c)
		}
	}
	return &Registry{clients: clients}
}

// NewRegistryWithClients wires pre-built clients; used by tests to inject
// fakes.
func NewRegistryWithClients(clients ...Client) *Registry {
	m := make(map[common.AggregatorType]Client, len(clients))
	for _, c := range clients {
		m[c.Type()] = c
	}
	return &Registry{clients: m}
}

// Client returns the client for the given platform.
func (r *Registry) Client(typ common.AggregatorType) (Client, error) {
	c, ok := r.clients[typ]
	if !ok {
		return nil, evverrors.New(evverrors.KindAuthenticationFailed,
			"no credentials configured for aggregator %s", typ)
	}
	return c, nil
}
