// Package config holds the two configuration layers of docpipe: the server
// configuration loaded once at startup (listen address, generator tool
// locations, sessions directory) and the pipeline configuration supplied
// with each start command.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Server represents the docpipe server configuration.
type Server struct {
	// Listen is the address the HTTP control surface binds to.
	Listen string `mapstructure:"listen"`
	// SessionsDir is where per-session directories (topic files, logs) are
	// created. Relative paths are resolved against the working directory.
	SessionsDir string `mapstructure:"sessions_dir"`
	// IdeaTool locates the idea-generation executable.
	IdeaTool Tool `mapstructure:"idea_tool"`
	// DocTool locates the document-generation executable.
	DocTool Tool `mapstructure:"doc_tool"`
	// Logging controls the structured logger.
	Logging Logging `mapstructure:"logging"`
	// GraceSeconds is how long a terminated subprocess gets between SIGTERM
	// and SIGKILL.
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// Tool locates one external generator executable.
type Tool struct {
	// Command is the executable to invoke.
	Command string `mapstructure:"command"`
	// Args are arguments prepended before the per-run arguments, e.g. the
	// script path when Command is an interpreter.
	Args []string `mapstructure:"args"`
	// Dir is the working directory for the invocation. The idea tool writes
	// its topic files here.
	Dir string `mapstructure:"dir"`
}

// Logging controls log output.
type Logging struct {
	// Level is the log level: "DEBUG", "INFO", "WARN", "ERROR".
	Level string `mapstructure:"level"`
	// Dir is the directory for the log file. Empty means stderr.
	Dir string `mapstructure:"dir"`
}

// Grace returns the termination grace window as a time.Duration.
func (s *Server) Grace() time.Duration {
	return time.Duration(s.GraceSeconds) * time.Second
}

// DefaultServer returns a Server config with sensible default values.
func DefaultServer() *Server {
	return &Server{
		Listen:      "127.0.0.1:5001",
		SessionsDir: "sessions",
		IdeaTool: Tool{
			Command: "doc-idea-generator",
		},
		DocTool: Tool{
			Command: "doc-generator",
		},
		Logging: Logging{
			Level: "INFO",
		},
		GraceSeconds: 5,
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := DefaultServer()

	viper.SetDefault("listen", defaults.Listen)
	viper.SetDefault("sessions_dir", defaults.SessionsDir)
	viper.SetDefault("idea_tool.command", defaults.IdeaTool.Command)
	viper.SetDefault("idea_tool.args", defaults.IdeaTool.Args)
	viper.SetDefault("idea_tool.dir", defaults.IdeaTool.Dir)
	viper.SetDefault("doc_tool.command", defaults.DocTool.Command)
	viper.SetDefault("doc_tool.args", defaults.DocTool.Args)
	viper.SetDefault("doc_tool.dir", defaults.DocTool.Dir)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("grace_seconds", defaults.GraceSeconds)
}

// LoadServer reads the server configuration from viper and validates it.
func LoadServer() (*Server, error) {
	var cfg Server
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Validate checks the Server config and returns all validation errors found.
func (s *Server) Validate() []ValidationError {
	var errs []ValidationError

	if s.Listen == "" {
		errs = append(errs, ValidationError{
			Field:   "listen",
			Value:   s.Listen,
			Message: "listen address must not be empty",
		})
	}
	if s.SessionsDir == "" {
		errs = append(errs, ValidationError{
			Field:   "sessions_dir",
			Value:   s.SessionsDir,
			Message: "sessions directory must not be empty",
		})
	}
	if s.IdeaTool.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "idea_tool.command",
			Value:   s.IdeaTool.Command,
			Message: "idea tool command must not be empty",
		})
	}
	if s.DocTool.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "doc_tool.command",
			Value:   s.DocTool.Command,
			Message: "doc tool command must not be empty",
		})
	}
	if s.GraceSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_seconds",
			Value:   s.GraceSeconds,
			Message: "grace window must be positive",
		})
	}

	validLevel := false
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error"} {
		if s.Logging.Level == lvl {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   s.Logging.Level,
			Message: "must be one of DEBUG, INFO, WARN, ERROR",
		})
	}

	return errs
}

// ResolveSessionsDir returns the absolute sessions directory, resolving
// relative paths against the current working directory.
func (s *Server) ResolveSessionsDir() string {
	if filepath.IsAbs(s.SessionsDir) {
		return s.SessionsDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return s.SessionsDir
	}
	return filepath.Join(wd, s.SessionsDir)
}

// ConfigDir returns the path to the user's docpipe config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docpipe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docpipe"
	}
	return filepath.Join(home, ".config", "docpipe")
}
