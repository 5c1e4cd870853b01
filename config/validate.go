package config

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSrc string

var compileSchema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({\n"+schemaSrc+"\n})", cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, err
	}
	return schema, nil
})

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := schema.Context().Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
