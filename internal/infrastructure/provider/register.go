package provider

import "gasfeed/internal/application/port"

const (
	KindJSON   = "json"
	KindRPC    = "rpc"
	KindStatic = "static"
)

func init() {
	Register(KindJSON, func(cfg Config) (port.Provider, error) {
		p, err := NewJSONProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	Register(KindRPC, func(cfg Config) (port.Provider, error) {
		p, err := NewRPCProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	Register(KindStatic, func(cfg Config) (port.Provider, error) {
		p, err := NewStaticProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
