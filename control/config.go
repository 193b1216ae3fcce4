// control/config.go
// Author: momentics <momentics@gmail.com>
//
// File based pool configuration and Linux cpulist parsing.

package control

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/momentics/hioload-fstack/api"
	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadPoolConfig for keys the file leaves out.
const (
	DefaultIORatio          = 50
	DefaultLogLevel         = "info"
	DefaultMetricsNamespace = "hioload_fstack"
)

// CoreList is a list of CPU core ids. In config files it is either a list of
// integers or a cpulist string such as "2-5,8".
type CoreList []int

// FileConfig mirrors the on-disk pool configuration.
type FileConfig struct {
	ThreadCount      int      `yaml:"thread-count" toml:"thread-count"`
	StackConfig      string   `yaml:"stack-config" toml:"stack-config"`
	Primary          bool     `yaml:"primary" toml:"primary"`
	CoreIDs          CoreList `yaml:"core-ids" toml:"core-ids"`
	IORatio          int      `yaml:"io-ratio" toml:"io-ratio"`
	LogLevel         string   `yaml:"log-level" toml:"log-level"`
	LogFile          string   `yaml:"log-file" toml:"log-file"`
	MetricsNamespace string   `yaml:"metrics-namespace" toml:"metrics-namespace"`
	MetricsAddr      string   `yaml:"metrics-addr" toml:"metrics-addr"`
}

// PoolConfig returns the immutable pool settings carried by c.
func (c *FileConfig) PoolConfig() api.PoolConfig {
	return api.PoolConfig{
		ThreadCount: c.ThreadCount,
		ConfigPath:  c.StackConfig,
		Primary:     c.Primary,
		CoreIDs:     append([]int(nil), c.CoreIDs...),
	}
}

// ApplyDefaults fills zero values with package defaults. A zero thread count
// means one worker per configured core.
func (c *FileConfig) ApplyDefaults() {
	if c.ThreadCount == 0 {
		c.ThreadCount = len(c.CoreIDs)
	}
	if c.IORatio == 0 {
		c.IORatio = DefaultIORatio
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = DefaultMetricsNamespace
	}
}

// ParsePoolConfig decodes data in the given format ("yaml" or "toml") and
// applies defaults.
func ParsePoolConfig(data []byte, format string) (*FileConfig, error) {
	cfg, err := DecodePoolConfig(data, format)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// DecodePoolConfig decodes data without applying defaults, so callers can
// layer overrides on top before calling ApplyDefaults.
func DecodePoolConfig(data []byte, format string) (*FileConfig, error) {
	cfg := &FileConfig{}
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Annotate(err, "parse yaml pool config")
		}
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.Annotate(err, "parse toml pool config")
		}
	default:
		return nil, errors.Annotatef(api.ErrNotSupported, "pool config format %q", format)
	}
	return cfg, nil
}

// LoadPoolConfig reads a YAML or TOML file, chosen by extension, and applies
// defaults.
func LoadPoolConfig(path string) (*FileConfig, error) {
	cfg, err := ReadPoolConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ReadPoolConfig is LoadPoolConfig without defaults.
func ReadPoolConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, errors.New("pool config path is empty")
	}
	// #nosec G304 -- pool config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read pool config %s", path)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	cfg, err := DecodePoolConfig(data, format)
	if err != nil {
		return nil, errors.Annotatef(err, "load pool config %s", path)
	}
	return cfg, nil
}

// ParseCoreList parses Linux cpulist syntax ("0-3,8,10-11"). Order and
// duplicates are kept, since workers rotate over the list as written.
func ParseCoreList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.Errorf("invalid core list %q: empty element", s)
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := parseCore(lo)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid core list %q", s)
		}
		if !isRange {
			out = append(out, first)
			continue
		}
		last, err := parseCore(hi)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid core list %q", s)
		}
		if last < first {
			return nil, errors.Errorf("invalid core list %q: descending range %s", s, part)
		}
		for c := first; c <= last; c++ {
			out = append(out, c)
		}
	}
	return out, nil
}

// FormatCoreList renders cores as a compact cpulist, sorted and deduplicated.
func FormatCoreList(cores []int) string {
	if len(cores) == 0 {
		return ""
	}
	sorted := append([]int(nil), cores...)
	sort.Ints(sorted)
	var b strings.Builder
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] <= sorted[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(sorted[i]))
		if sorted[j] != sorted[i] {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(sorted[j]))
		}
		i = j + 1
	}
	return b.String()
}

func parseCore(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Trace(err)
	}
	if v < 0 {
		return 0, errors.Errorf("negative core id %d", v)
	}
	return v, nil
}

// UnmarshalYAML accepts a sequence of ints or a cpulist scalar.
func (l *CoreList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var ids []int
		if err := node.Decode(&ids); err != nil {
			return errors.Annotate(err, "core-ids")
		}
		for _, id := range ids {
			if id < 0 {
				return errors.Errorf("core-ids: negative core id %d", id)
			}
		}
		*l = ids
		return nil
	case yaml.ScalarNode:
		ids, err := ParseCoreList(node.Value)
		if err != nil {
			return errors.Annotate(err, "core-ids")
		}
		*l = ids
		return nil
	default:
		return errors.Errorf("core-ids: unsupported yaml node kind %d", node.Kind)
	}
}

// UnmarshalTOML accepts an array of integers or a cpulist string.
func (l *CoreList) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		ids, err := ParseCoreList(val)
		if err != nil {
			return errors.Annotate(err, "core-ids")
		}
		*l = ids
	case []any:
		ids := make([]int, 0, len(val))
		for _, item := range val {
			n, ok := item.(int64)
			if !ok || n < 0 {
				return errors.Errorf("core-ids: invalid element %v", item)
			}
			ids = append(ids, int(n))
		}
		*l = ids
	case int64:
		if val < 0 {
			return errors.Errorf("core-ids: negative core id %d", val)
		}
		*l = CoreList{int(val)}
	default:
		return errors.Errorf("core-ids: unsupported toml value %T", v)
	}
	return nil
}
