package clusterview

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/bubuku-go/pkg/coordination"
)

// fakeClient is an in-memory CoordinationClient standing in for a real
// coordination-store session in tests.
type fakeClient struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{nodes: map[string][]byte{}}
}

func (f *fakeClient) Get(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[p]
	if !ok {
		return nil, coordination.ErrNodeAbsent
	}
	return data, nil
}

func (f *fakeClient) Set(p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; !ok {
		return coordination.ErrNodeAbsent
	}
	f.nodes[p] = data
	return nil
}

func (f *fakeClient) Create(p string, data []byte, ephemeral, makepath bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[p]; ok {
		return coordination.ErrNodeExists
	}
	f.nodes[p] = data
	return nil
}

func (f *fakeClient) Delete(p string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if recursive {
		prefix := p + "/"
		for k := range f.nodes {
			if strings.HasPrefix(k, prefix) {
				delete(f.nodes, k)
			}
		}
	}
	if _, ok := f.nodes[p]; !ok {
		return coordination.ErrNodeAbsent
	}
	delete(f.nodes, p)
	return nil
}

func (f *fakeClient) Children(p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := p + "/"
	seen := map[string]bool{}
	for k := range f.nodes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		child := strings.SplitN(rest, "/", 2)[0]
		seen[child] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeClient) AcquireLock(p string, value []byte) (coordination.Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Unlock() error { return nil }

func (f *fakeClient) put(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[path.Clean(p)] = data
}
