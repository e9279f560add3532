package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// duties are the loops only one instance should run at a time: the
// scheduler, the reconciler and the rules file watcher. Without leader
// election they start once at boot.
type duties struct {
	mu     sync.Mutex
	loops  []namedLoop
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type namedLoop struct {
	name string
	run  func(ctx context.Context)
}

func (d *duties) add(name string, run func(ctx context.Context)) {
	d.loops = append(d.loops, namedLoop{name: name, run: run})
}

// start launches every loop under a child of parent. It is a no-op while
// the loops are already running.
func (d *duties) start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel

	for _, l := range d.loops {
		d.wg.Add(1)
		go func(l namedLoop) {
			defer d.wg.Done()
			l.run(ctx)
		}(l)
		log.Printf("easyauto: %s started", l.name)
	}
}

// stop cancels the loops and blocks until they return. It is idempotent.
func (d *duties) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	log.Println("easyauto: leader duties stopped")
}

// refreshRules reloads the rule index on every tick so rules written by other
// instances take effect.
func refreshRules(ctx context.Context, interval time.Duration, reload func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reload(ctx); err != nil {
				log.Printf("easyauto: rule refresh error: %v", err)
			}
		}
	}
}
