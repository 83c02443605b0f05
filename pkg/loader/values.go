package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// valueExtensions lists the formats DecodeValue understands.
var valueExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".cue":  true,
	".star": true,
}

// IsValueFile reports whether path has a configuration value extension.
func IsValueFile(path string) bool {
	return valueExtensions[strings.ToLower(filepath.Ext(path))]
}

// DecodeValue parses a configuration value and normalises it. The format is
// chosen by the extension of source.
func (l *Loader) DecodeValue(ctx context.Context, source string, data []byte) (any, error) {
	var (
		raw any
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(source)); ext {
	case ".json":
		raw, err = decodeJSON(data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".cue":
		raw, err = decodeCUEValue(source, data)
	case ".star":
		return l.starlark.Evaluate(ctx, filepath.Base(source), data, l.starlarkInput)
	default:
		return nil, fmt.Errorf("%s: unsupported value format %q", source, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse value: %w", source, err)
	}

	val, err := types.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return val, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// decodeCUEValue evaluates a CUE file that must be concrete and converts it
// through JSON so integers keep their exact value.
func decodeCUEValue(source string, data []byte) (any, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(source))
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, err
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return decodeJSON(out)
}
