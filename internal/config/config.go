// Package config loads engine configuration from YAML or CUE files and
// validates it against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/subdispatch/internal/engine"
	"github.com/roach88/subdispatch/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Config is the engine configuration.
type Config struct {
	Concurrency   int64  `yaml:"concurrency" json:"concurrency,omitempty"`
	FailurePolicy string `yaml:"failure_policy" json:"failure_policy,omitempty"`
	StreamBuffer  int    `yaml:"stream_buffer" json:"stream_buffer,omitempty"`
	LogLevel      string `yaml:"log_level" json:"log_level,omitempty"`
	Journal       string `yaml:"journal" json:"journal,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		FailurePolicy: "stream",
		StreamBuffer:  engine.DefaultStreamBuffer,
		LogLevel:      "info",
	}
}

// Load reads the file at path. The format follows the extension:
// .yaml and .yml are YAML, .cue is CUE.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data, path)
	case ".cue":
		return ParseCUE(data, path)
	default:
		return nil, &ir.ConfigurationError{
			Field:   path,
			Message: fmt.Sprintf("unsupported config format %q (want .yaml, .yml or .cue)", ext),
		}
	}
}

// ParseYAML parses YAML configuration. Unknown fields are rejected.
func ParseYAML(data []byte, filename string) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ir.ConfigurationError{Field: filename, Message: err.Error()}
	}

	// Validate the document as written, so omitted fields stay optional.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ir.ConfigurationError{Field: filename, Message: err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(filename, err)
	}

	cfg.normalize()
	return cfg, nil
}

// ParseCUE parses CUE configuration. The file's top-level fields are
// unified with the closed #Config definition.
func ParseCUE(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(filename, err)
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(filename, err)
	}

	cfg := Default()
	if err := v.Decode(cfg); err != nil {
		return nil, formatCUEError(filename, err)
	}

	cfg.normalize()
	return cfg, nil
}

func compileSchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// formatCUEError reports the first CUE error with its position.
func formatCUEError(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ir.ConfigurationError{Field: filename, Message: err.Error()}
	}

	first := errs[0]
	msg := first.Error()
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		msg = fmt.Sprintf("%d:%d: %s", positions[0].Line(), positions[0].Column(), msg)
	}
	return &ir.ConfigurationError{Field: filename, Message: msg}
}

func (c *Config) normalize() {
	if c.FailurePolicy == "" {
		c.FailurePolicy = "stream"
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = engine.DefaultStreamBuffer
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// EngineOptions maps the configuration to engine options. A zero
// concurrency adds no limit option, leaving the caller's default in place.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	policy, err := engine.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithFailurePolicy(policy),
		engine.WithStreamBuffer(c.StreamBuffer),
	}
	if c.Concurrency > 0 {
		opts = append(opts, engine.WithConcurrency(c.Concurrency))
	}
	return opts, nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
