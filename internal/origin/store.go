package origin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrSegmentNotFound = errors.New("segment not found")

	segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.=]+\.(ts|m4s|mp4)$`)
)

// SegmentStore lists and reads the media segments of one live stream.
type SegmentStore interface {
	// Segments returns segment names in playback order.
	Segments() []string
	Open(name string) ([]byte, error)
}

// MemStore serves a fixed set of in-memory segments.
type MemStore struct {
	names []string
	data  map[string][]byte
}

func NewMemStore(segments map[string][]byte) *MemStore {
	s := &MemStore{data: make(map[string][]byte, len(segments))}
	for name, b := range segments {
		s.names = append(s.names, name)
		s.data[name] = b
	}
	sort.Strings(s.names)
	return s
}

// DemoStore is a synthetic stream for running the origin without media.
func DemoStore(count int) *MemStore {
	segments := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		segments[fmt.Sprintf("segment_%05d.ts", i)] = []byte(fmt.Sprintf("demo segment %d", i))
	}
	return NewMemStore(segments)
}

func (s *MemStore) Segments() []string { return s.names }

func (s *MemStore) Open(name string) ([]byte, error) {
	b, ok := s.data[name]
	if !ok {
		return nil, ErrSegmentNotFound
	}
	return b, nil
}

// DirStore serves segments from a directory that an encoder keeps writing
// to. Reads go through an LRU since players hammer the newest segments.
type DirStore struct {
	root  string
	cache *lru.Cache[string, []byte]

	mu       sync.RWMutex
	segments []string

	onChange func(n int)
}

func NewDirStore(root string, cacheSize int) (*DirStore, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	c, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("segment cache: %w", err)
	}
	s := &DirStore{root: root, cache: c}
	if err := s.Rescan(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnChange registers a callback run after every rescan with the segment count.
func (s *DirStore) OnChange(fn func(n int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Rescan rebuilds the segment list from disk.
func (s *DirStore) Rescan() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to read segment dir %s: %w", s.root, err)
	}

	var segments []string
	for _, e := range entries {
		if !e.IsDir() && segmentRegex.MatchString(e.Name()) {
			segments = append(segments, e.Name())
		}
	}
	sort.Strings(segments)

	s.mu.Lock()
	s.segments = segments
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(len(segments))
	}
	return nil
}

func (s *DirStore) Segments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.segments...)
}

func (s *DirStore) Open(name string) ([]byte, error) {
	if b, ok := s.cache.Get(name); ok {
		return b, nil
	}

	path, err := SafeJoin(s.root, name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.Add(name, b)
	return b, nil
}

// Forget drops a cached segment, e.g. after the encoder rewrote it.
func (s *DirStore) Forget(name string) {
	s.cache.Remove(name)
}

// SafeJoin joins path elements and ensures the result stays inside base.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
