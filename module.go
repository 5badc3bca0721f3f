package realtime

import (
	"context"

	"go.uber.org/fx"

	"github.com/vibely/realtime/bus"
)

// Params bundles the inputs an embedding application supplies to Module.
type Params struct {
	Options Options
	Deps    Deps
}

// Module wires a Session into an fx application, starting it on app start
// and closing it on shutdown.
func Module(p Params) fx.Option {
	return fx.Module("realtime",
		fx.Provide(
			func() (*Session, error) { return NewSession(p.Options, p.Deps) },
			func(s *Session) *bus.Registry { return s.Events() },
		),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, s *Session) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Loops must outlive the startup deadline.
			return s.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
}
