package ops

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/replkit/mrepl-server-go/mrepl"
)

// decodeArgs maps a message's operation-specific slots onto an argument
// struct. Slots the struct does not name are ignored; weak typing lets
// clients send numbers for strings and vice versa without ceremony.
func decodeArgs(msg mrepl.Message, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mrepl",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build slot decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(msg)); err != nil {
		return fmt.Errorf("decode %s slots: %w", msg.Op(), err)
	}
	return nil
}
