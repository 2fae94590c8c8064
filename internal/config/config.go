// Package config loads and represents the YAML configuration document
// (§6 "Configuration"). Parsing/validation here is treated as a
// pre-computed-input concern (an "external collaborator" per §1), but is
// still implemented using the teacher's ecosystem library (gopkg.in/yaml.v3)
// rather than a hand-rolled format.
package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// Config is the top-level configuration document.
type Config struct {
	Servers             []ServerConfig `yaml:"servers"`
	GeneralLoggingConfig LoggingConfig `yaml:"general_logging_config"`
	APILoggingConfig     LoggingConfig `yaml:"api_logging_config"`
}

// ServerConfig describes one server alias and the sockets it listens on.
type ServerConfig struct {
	Alias             string           `yaml:"alias"`
	Sockets           []SocketConfig   `yaml:"sockets"`
	ReflectionEnabled *bool            `yaml:"reflection_enabled"`
	ProtoFiles        StringOrList     `yaml:"proto_files"`
	ProtoFilesBaseDir string           `yaml:"proto_files_base_dir"`
	Mocks             map[string]map[string]any `yaml:"mocks"`
}

// ReflectionEnabledOrDefault returns ReflectionEnabled, defaulting to true
// when unset, per §6.
func (s ServerConfig) ReflectionEnabledOrDefault() bool {
	if s.ReflectionEnabled == nil {
		return true
	}
	return *s.ReflectionEnabled
}

// SocketConfig is one listen address, optionally with TLS material.
type SocketConfig struct {
	Socket       string              `yaml:"socket"`
	Certificates *CertificatesConfig `yaml:"certificates"`
}

// CertificatesConfig carries the TLS/mTLS material for one socket. A
// present RootCertificate implies required mutual authentication (§6).
type CertificatesConfig struct {
	Certificate    string `yaml:"certificate"`
	KeyFile        string `yaml:"key_file"`
	RootCertificate string `yaml:"root_certificate"`
}

// LoggingConfig controls one logging sink (general process logs, or
// per-call API logs).
type LoggingConfig struct {
	Console    bool     `yaml:"console"`
	Files      []string `yaml:"files"`
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"` // "text" or "yaml"
	FormatLine string   `yaml:"format_line"`
}

// StringOrList accepts either a single string or a list of strings for
// proto_files (§6: "string or list; globs accepted").
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Load reads and parses a YAML configuration document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mockerr.New(mockerr.KindConfigLoad, "read", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, mockerr.New(mockerr.KindConfigLoad, "parse", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	metadataKeyPattern   = regexp.MustCompile(`^[a-z0-9-_.]{1,256}$`)
	metadataValuePattern = regexp.MustCompile(`^[a-z0-9-_.]{0,8192}$`)
)

// ValidMetadataKey reports whether key matches the RPC metadata key grammar
// (§6).
func ValidMetadataKey(key string) bool { return metadataKeyPattern.MatchString(key) }

// ValidMetadataValue reports whether value matches the RPC metadata value
// grammar (§6).
func ValidMetadataValue(value string) bool { return metadataValuePattern.MatchString(value) }

// Validate performs minimal structural validation: every server needs an
// alias and at least one socket.
func Validate(cfg *Config) error {
	for i, s := range cfg.Servers {
		if s.Alias == "" {
			return mockerr.Newf(mockerr.KindConfigLoad, "Validate", "servers[%d]: alias is required", i)
		}
		if len(s.Sockets) == 0 {
			return mockerr.Newf(mockerr.KindConfigLoad, "Validate", "servers[%d]: at least one socket is required", i)
		}
	}
	return nil
}
