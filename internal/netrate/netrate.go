// Package netrate turns cumulative interface byte counters into rates.
package netrate

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// Rate is bytes per second in each direction.
type Rate struct {
	RxPerSec float64
	TxPerSec float64
}

type entry struct {
	sample model.NetDevSample
	at     time.Time
}

// Cache remembers the last counters per interface. Interfaces not
// observed for ttl are forgotten so removed devices don't linger.
type Cache struct {
	c *cache.Cache
}

func New(ttl time.Duration) *Cache {
	return &Cache{c: cache.New(ttl, 2*ttl)}
}

// Observe records samples taken at now and returns the rate of every
// interface that was already known. A counter that went backwards, as
// after a driver reload, yields a zero rate for that direction.
func (c *Cache) Observe(samples map[string]model.NetDevSample, now time.Time) map[string]Rate {
	out := make(map[string]Rate, len(samples))
	for name, s := range samples {
		if v, ok := c.c.Get(name); ok {
			prev := v.(entry)
			if dt := now.Sub(prev.at).Seconds(); dt > 0 {
				out[name] = Rate{
					RxPerSec: perSec(prev.sample.RxBytes, s.RxBytes, dt),
					TxPerSec: perSec(prev.sample.TxBytes, s.TxBytes, dt),
				}
			}
		}
		c.c.SetDefault(name, entry{sample: s, at: now})
	}
	return out
}

// Len is the number of remembered interfaces, expired ones included
// until the janitor runs.
func (c *Cache) Len() int { return c.c.ItemCount() }

// Sum adds the rates of every interface except those in skip.
func Sum(rates map[string]Rate, skip ...string) Rate {
	var total Rate
outer:
	for name, r := range rates {
		for _, s := range skip {
			if name == s {
				continue outer
			}
		}
		total.RxPerSec += r.RxPerSec
		total.TxPerSec += r.TxPerSec
	}
	return total
}

func perSec(prev, now uint64, dt float64) float64 {
	if now < prev {
		return 0
	}
	return float64(now-prev) / dt
}
