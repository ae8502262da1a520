package unwind

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/remotestack/remotestack/pkg/logflags"
)

// DefaultNameCacheSize is the capacity of the per-session procedure-name
// cache when no option overrides it.
const DefaultNameCacheSize = 512

// Session owns one remote address space and creates cursors against it.
// A session is typically created once per unwinder lifetime and reused
// across many target processes. It must outlive every cursor created from
// it and must not be used after Close.
type Session struct {
	lib Lib
	as  AddrSpace

	// names caches resolved procedure names keyed by (pid, pc), shared
	// read-mostly by all cursors of this session. Nil when disabled.
	names *lru.Cache

	log *logrus.Entry
}

type sessionOptions struct {
	policy        CachingPolicy
	nameCacheSize int
}

// Option configures a Session at creation time.
type Option func(*sessionOptions)

// WithCachingPolicy overrides the library caching policy. The default is
// CachePerThread, which favors repeated unwinds from the same calling
// thread.
func WithCachingPolicy(policy CachingPolicy) Option {
	return func(o *sessionOptions) { o.policy = policy }
}

// WithNameCacheSize sets the capacity of the procedure-name cache.
// Zero disables caching.
func WithNameCacheSize(n int) Option {
	return func(o *sessionOptions) { o.nameCacheSize = n }
}

// New creates a session from a resolved entry-point table. It creates the
// remote address space and applies the caching policy exactly once.
func New(lib Lib, opts ...Option) (*Session, error) {
	o := sessionOptions{
		policy:        CachePerThread,
		nameCacheSize: DefaultNameCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	as := lib.CreateAddrSpace()
	if as == 0 {
		return nil, Error{Code: EUnspec}
	}
	if code := lib.SetCachingPolicy(as, o.policy); code != 0 {
		lib.DestroyAddrSpace(as)
		return nil, Error{Code: code}
	}

	s := &Session{
		lib: lib,
		as:  as,
		log: logflags.UnwindLogger(),
	}
	if o.nameCacheSize > 0 {
		// New only fails for a non-positive size.
		s.names, _ = lru.New(o.nameCacheSize)
	}
	s.log.WithField("policy", o.policy).Debug("created address space")
	return s, nil
}

// Cursor attaches to pid and returns a cursor positioned at the frame
// active at the moment of attach. The target must already be stopped under
// ptrace (see Attach). The caller owns the cursor and must Close it.
func (s *Session) Cursor(pid int) (*Cursor, error) {
	upt := s.lib.UPTCreate(pid)
	if upt == 0 {
		return nil, Error{Code: EUnspec}
	}
	c := &Cursor{
		lib:     s.lib,
		session: s,
		upt:     upt,
		pid:     pid,
		initial: true,
		log:     s.log,
	}
	if code := s.lib.InitRemote(&c.state, s.as, upt); code != 0 {
		s.lib.UPTDestroy(upt)
		return nil, Error{Code: code}
	}
	return c, nil
}

// Close releases the address space. It must not be called while a cursor
// from this session is still in use. Close is idempotent.
func (s *Session) Close() {
	if s.as == 0 {
		return
	}
	s.lib.DestroyAddrSpace(s.as)
	s.as = 0
}

func (s *Session) cachedName(pid int, pc uint64) (string, bool) {
	if s.names == nil {
		return "", false
	}
	v, ok := s.names.Get(nameKey{pid, pc})
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *Session) storeName(pid int, pc uint64, name string) {
	if s.names == nil {
		return
	}
	s.names.Add(nameKey{pid, pc}, name)
}

type nameKey struct {
	pid int
	pc  uint64
}
