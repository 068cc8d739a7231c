package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
)

// Describe handles the "describe" operation: a read-only projection of
// the registry's operation directory. The metadata is surfaced exactly
// as registered; describe never edits or augments another middleware's
// OpSpec.
type Describe struct {
	Registry *middleware.Registry

	// ServerName and Version are advertised in the versions slot.
	ServerName string
	Version    string
}

func (d *Describe) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "describe",
		Handles: map[string]middleware.OpSpec{
			"describe": {
				Doc: "Describe the server: available operations and versions.",
				Optional: map[string]string{
					"verbose": "Include a JSON Schema for the response shape.",
					"format":  "Set to \"markdown\" for an additional human-readable rendering.",
				},
				Returns: map[string]string{
					"ops":      "Directory of operations to their documentation.",
					"versions": "Server version information.",
				},
			},
		},
	}
}

type describeArgs struct {
	Verbose bool   `mrepl:"verbose"`
	Format  string `mrepl:"format"`
}

// describeReply is the wire shape of a describe response's payload
// slots. It exists so the verbose rendering can hand clients a JSON
// Schema for what they are parsing.
type describeReply struct {
	Ops      map[string]middleware.OpSpec `json:"ops"`
	Versions map[string]string            `json:"versions"`
}

func (d *Describe) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		if req.Msg.Op() != "describe" {
			return next.Handle(ctx, req)
		}

		var args describeArgs
		if err := decodeArgs(req.Msg, &args); err != nil {
			return err
		}

		opsDir := d.Registry.Ops()
		slots := map[string]any{
			"ops": opsDir,
			"versions": map[string]string{
				"server": d.serverName() + "/" + d.version(),
			},
			mrepl.SlotStatus: []string{mrepl.StatusDone},
		}
		if args.Verbose {
			schema, err := replySchema()
			if err != nil {
				return err
			}
			slots["spec-schema"] = schema
		}
		if args.Format == "markdown" {
			slots["ops-md"] = Markdown(opsDir)
		}
		return req.Reply(ctx, slots)
	})
}

func (d *Describe) serverName() string {
	if d.ServerName == "" {
		return "mrepl"
	}
	return d.ServerName
}

func (d *Describe) version() string {
	if d.Version == "" {
		return "dev"
	}
	return d.Version
}

// replySchema reflects the describe payload shape into a plain map so
// it travels as an ordinary message slot.
func replySchema() (map[string]any, error) {
	raw, err := json.Marshal(jsonschema.Reflect(&describeReply{}))
	if err != nil {
		return nil, fmt.Errorf("marshal describe schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode describe schema: %w", err)
	}
	return out, nil
}

// Markdown renders an operation directory as a markdown document, one
// section per operation in name order.
func Markdown(dir map[string]middleware.OpSpec) string {
	names := make([]string, 0, len(dir))
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Operations\n")
	for _, name := range names {
		spec := dir[name]
		fmt.Fprintf(&b, "\n## %s\n\n", name)
		if spec.Doc != "" {
			b.WriteString(spec.Doc + "\n")
		}
		writeSlotList(&b, "Required slots", spec.Requires)
		writeSlotList(&b, "Optional slots", spec.Optional)
		writeSlotList(&b, "Returns", spec.Returns)
	}
	return b.String()
}

func writeSlotList(b *strings.Builder, heading string, slots map[string]string) {
	if len(slots) == 0 {
		return
	}
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(b, "\n%s:\n\n", heading)
	for _, name := range names {
		fmt.Fprintf(b, "- `%s`: %s\n", name, slots[name])
	}
}
