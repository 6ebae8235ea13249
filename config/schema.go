package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

const schemaContent = `
#Config: {
    link?: {
        driver?: "bugst" | "tarm"
        port?: string
        baud_rate?: int & >0
        read_timeout?: string
        reconnect_delay?: string
        reconnect?: bool
        width?: int & >0
        buffer_rows?: int & >0
        max_line?: int & >0
    }
    registers?: {
        builtin?: bool
        entries?: [...#Register]
    }
    columns?: [...#Column]
    logging?: {
        level?: "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled" | ""
        format?: "json" | "text" | ""
        file?: {
            path: string
            max_size_mb?: int & >=0
            max_backups?: int & >=0
            max_age_days?: int & >=0
            compress?: bool
        }
        loki?: {
            enabled?: bool
            url?: string
            labels?: [string]: string
        }
    }
    telemetry?: {
        enabled?: bool
    }
    http?: {
        listen?: string
    }
    hot_reload?: bool
}

#Register: {
    address: int & >=0 & <=0xFFFF
    mnemonic: =~"^[A-Za-z]+$"
    name?: string
    description?: string
    default?: int
    range?: {
        kind: "unbounded" | "between" | "zero_to"
        min?: int
        max?: int
    }
    transform?: {
        kind: "identity" | "affine" | "reciprocal"
        scale?: number
        offset?: number
        k?: number
    }
    writable?: bool
    readable?: bool
}

#Column: {
    name: string
    unit?: string
    expr?: string
}
`

// normalize evaluates the document against the schema and renders it as JSON,
// which the YAML decoder reads as-is.
func normalize(filename string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaContent, cue.Filename("drivelink-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	var doc cue.Value
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		doc = ctx.CompileBytes(data, cue.Filename(filename))
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			data = []byte("{}")
		}
		file, err := cueyaml.Extract(filename, data)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %s", filepath.Base(filename), details(err))
		}
		doc = ctx.BuildFile(file)
	}
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("evaluate config %s: %s", filepath.Base(filename), details(err))
	}
	// An empty or comment-only YAML document evaluates to null.
	if doc.Kind() == cue.NullKind {
		doc = ctx.CompileString("{}")
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config %s: %s", filepath.Base(filename), details(err))
	}
	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("render config %s: %s", filepath.Base(filename), details(err))
	}
	return out, nil
}

func details(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
