package ops

import (
	"context"
	"fmt"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
)

// Printer renders an outbound value slot for a client.
type Printer func(v any) string

// Print wraps the response path of inner middleware: any response
// carrying a "value" slot has that value rendered by the printer the
// request selected (via the printer slot), or the default printer.
// Print handles no operation itself and must sit outside the
// value-producing middleware.
type Print struct {
	printers map[string]Printer
	fallback Printer
}

// NewPrint builds a Print middleware with the standard printers:
// "default" (fmt %v) and "go" (fmt %#v).
func NewPrint() *Print {
	p := &Print{printers: make(map[string]Printer)}
	p.fallback = func(v any) string { return fmt.Sprintf("%v", v) }
	p.RegisterPrinter("default", p.fallback)
	p.RegisterPrinter("go", func(v any) string { return fmt.Sprintf("%#v", v) })
	return p
}

// RegisterPrinter adds (or replaces) a named printer.
func (p *Print) RegisterPrinter(name string, fn Printer) {
	p.printers[name] = fn
}

func (p *Print) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name:    "print",
		Expects: []middleware.Ref{"eval", "load-file"},
	}
}

func (p *Print) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		printer := p.fallback
		if name, ok := req.Msg.StringSlot(mrepl.SlotPrinter); ok {
			if named, ok := p.printers[name]; ok {
				printer = named
			}
		}

		inner := *req
		inner.Transport = mrepl.TransportFunc(func(ctx context.Context, msg mrepl.Message) error {
			if v, ok := msg["value"]; ok {
				if _, already := v.(string); !already {
					msg = msg.Clone()
					msg["value"] = printer(v)
				}
			}
			return req.Transport.Send(ctx, msg)
		})
		return next.Handle(ctx, &inner)
	})
}
