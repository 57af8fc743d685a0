package brokerlifecycle

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// FileKafkaProperties is the ambient KafkaProperties collaborator: a plain
// Java-properties-style key=value file, as consumed by
// kafka-server-start.sh. It is an out-of-scope external collaborator per
// the core's component design — the core only calls the KafkaProperties
// interface.
type FileKafkaProperties struct {
	mu       sync.Mutex
	path     string
	values   map[string]string
}

// NewFileKafkaProperties loads an existing properties file, or starts empty
// if it does not yet exist.
func NewFileKafkaProperties(path string) (*FileKafkaProperties, error) {
	p := &FileKafkaProperties{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read properties file: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		p.values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return p, nil
}

// GetProperty returns a property's value and whether it is set.
func (p *FileKafkaProperties) GetProperty(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

// SetProperty sets a property, replacing any previous value.
func (p *FileKafkaProperties) SetProperty(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// DeleteProperty removes a property entirely.
func (p *FileKafkaProperties) DeleteProperty(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

// SettingsFile returns the path kafka-server-start.sh should be invoked
// with.
func (p *FileKafkaProperties) SettingsFile() string {
	return p.path
}

// Dump flushes the in-memory properties to disk, keys sorted for
// deterministic output.
func (p *FileKafkaProperties) Dump() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, p.values[k])
	}
	return os.WriteFile(p.path, []byte(sb.String()), 0o644)
}
