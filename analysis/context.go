// Package analysis holds the persisted "current analysis" of a session and
// the plumbing that scopes it to request handling.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldscan/models"

	"go.uber.org/zap"
)

// Context holds exactly one current AnalysisResult plus the transient
// isAnalyzing flag. It is only obtainable through Load, so a value that has
// not checked its Store yet is never observable.
type Context struct {
	store Store
	key   string
	log   *zap.Logger

	mu        sync.RWMutex
	result    models.AnalysisResult
	analyzing bool
	subs      map[chan models.AnalysisResult]struct{}
	onCommit  func(models.AnalysisResult)
}

// Load reads the persisted result under key, seeding the default result when
// nothing is stored or the stored document cannot be parsed. Only a Store
// failure other than ErrNotFound is returned as an error.
func Load(ctx context.Context, store Store, key string, log *zap.Logger) (*Context, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Context{
		store: store,
		key:   key,
		log:   log,
		subs:  make(map[chan models.AnalysisResult]struct{}),
	}

	raw, err := store.Load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		c.result = models.DefaultResult(time.Now())
	case err != nil:
		return nil, fmt.Errorf("load analysis %q: %w", key, err)
	default:
		var r models.AnalysisResult
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Warn("persisted analysis unparseable, seeding default", zap.String("key", key), zap.Error(err))
			c.result = models.DefaultResult(time.Now())
		} else {
			c.result = r
		}
	}
	return c, nil
}

// Key returns the storage key of this context.
func (c *Context) Key() string { return c.key }

// Result returns a copy of the current result.
func (c *Context) Result() models.AnalysisResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result.Clone()
}

// SetResult replaces the current result wholesale. The value is persisted
// first and only then becomes visible; on a Store error the previous result
// stays current.
func (c *Context) SetResult(ctx context.Context, r models.AnalysisResult) error {
	r = r.Clone()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	c.mu.Lock()
	if err := c.store.Save(ctx, c.key, data); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist analysis %q: %w", c.key, err)
	}
	c.result = r
	for ch := range c.subs {
		// Latest value wins for slow subscribers.
		select {
		case <-ch:
		default:
		}
		ch <- r.Clone()
	}
	hook := c.onCommit
	c.mu.Unlock()

	c.log.Debug("analysis committed", zap.String("key", c.key), zap.String("image", r.ImageName))
	if hook != nil {
		hook(r.Clone())
	}
	return nil
}

// OnCommit sets fn to run after every successful SetResult, outside the lock.
// It replaces any previous hook.
func (c *Context) OnCommit(fn func(models.AnalysisResult)) {
	c.mu.Lock()
	c.onCommit = fn
	c.mu.Unlock()
}

// IsAnalyzing reports the transient in-flight flag. It is never persisted.
func (c *Context) IsAnalyzing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.analyzing
}

func (c *Context) SetAnalyzing(v bool) {
	c.mu.Lock()
	c.analyzing = v
	c.mu.Unlock()
}

// Subscribe returns a channel that receives every committed result. The
// channel holds only the latest value. Call the returned func to unsubscribe.
func (c *Context) Subscribe() (<-chan models.AnalysisResult, func()) {
	ch := make(chan models.AnalysisResult, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
}
