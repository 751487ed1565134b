package geo

import (
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// Hit is a technician found by a radius query.
type Hit struct {
	TechnicianID string
	DistanceKm   float64
	Position     model.Position
}

// Index answers point-radius queries over technician positions.
type Index interface {
	UpsertPosition(technicianID string, lat, lng float64) error
	Remove(technicianID string)
	SetCapabilities(technicianID string, types []model.VehicleType)
	Nearby(point model.Point, radiusKm float64, vt model.VehicleType) []Hit
	Position(technicianID string) (model.Position, bool)
}

type cellKey struct {
	lat int32
	lng int32
}

type cell struct {
	mu      sync.RWMutex
	entries map[string]model.Position
}

const stripeCount = 64

// GridIndex buckets positions into fixed-size lat/lng cells. Inserts are O(1);
// a query only visits the cells overlapping the radius bounding box.
// Readers and writers lock individual cells; writes for one technician are
// serialized by a striped lock so a move between cells is never observed twice.
type GridIndex struct {
	cellSize   float64
	staleAfter time.Duration
	now        func() time.Time

	cellsMu sync.RWMutex
	cells   map[cellKey]*cell

	where   sync.Map // technician id -> cellKey
	caps    sync.Map // technician id -> map[model.VehicleType]struct{}
	stripes [stripeCount]sync.Mutex
}

// NewGridIndex creates an empty index.
func NewGridIndex(cfg Config) *GridIndex {
	cfg.SetDefaults()
	return &GridIndex{
		cellSize:   cfg.CellSizeDeg,
		staleAfter: cfg.StaleAfter(),
		now:        time.Now,
		cells:      make(map[cellKey]*cell),
	}
}

// SetClock overrides the time source. Used by tests.
func (g *GridIndex) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

func (g *GridIndex) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &g.stripes[h.Sum32()%stripeCount]
}

func (g *GridIndex) keyFor(lat, lng float64) cellKey {
	return cellKey{
		lat: int32(math.Floor(lat / g.cellSize)),
		lng: int32(math.Floor(lng / g.cellSize)),
	}
}

func (g *GridIndex) cellFor(k cellKey, create bool) *cell {
	g.cellsMu.RLock()
	c := g.cells[k]
	g.cellsMu.RUnlock()
	if c != nil || !create {
		return c
	}
	g.cellsMu.Lock()
	defer g.cellsMu.Unlock()
	if c = g.cells[k]; c == nil {
		c = &cell{entries: make(map[string]model.Position)}
		g.cells[k] = c
	}
	return c
}

// UpsertPosition records the latest position of a technician.
func (g *GridIndex) UpsertPosition(technicianID string, lat, lng float64) error {
	p := model.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return err
	}
	mu := g.stripe(technicianID)
	mu.Lock()
	defer mu.Unlock()

	k := g.keyFor(lat, lng)
	if old, ok := g.where.Load(technicianID); ok && old.(cellKey) != k {
		if oc := g.cellFor(old.(cellKey), false); oc != nil {
			oc.mu.Lock()
			delete(oc.entries, technicianID)
			oc.mu.Unlock()
		}
	}
	c := g.cellFor(k, true)
	c.mu.Lock()
	c.entries[technicianID] = model.Position{Point: p, UpdatedAt: g.now()}
	c.mu.Unlock()
	g.where.Store(technicianID, k)
	return nil
}

// Remove drops a technician from the index.
func (g *GridIndex) Remove(technicianID string) {
	mu := g.stripe(technicianID)
	mu.Lock()
	defer mu.Unlock()
	old, ok := g.where.LoadAndDelete(technicianID)
	if !ok {
		return
	}
	if c := g.cellFor(old.(cellKey), false); c != nil {
		c.mu.Lock()
		delete(c.entries, technicianID)
		c.mu.Unlock()
	}
}

// SetCapabilities registers the vehicle types a technician serves.
func (g *GridIndex) SetCapabilities(technicianID string, types []model.VehicleType) {
	set := make(map[model.VehicleType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	g.caps.Store(technicianID, set)
}

func (g *GridIndex) serves(id string, vt model.VehicleType) bool {
	if vt == "" {
		return true
	}
	v, ok := g.caps.Load(id)
	if !ok {
		return false
	}
	_, ok = v.(map[model.VehicleType]struct{})[vt]
	return ok
}

// Position returns the last known position of a technician.
func (g *GridIndex) Position(technicianID string) (model.Position, bool) {
	k, ok := g.where.Load(technicianID)
	if !ok {
		return model.Position{}, false
	}
	c := g.cellFor(k.(cellKey), false)
	if c == nil {
		return model.Position{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[technicianID]
	return p, ok
}

// Nearby returns technicians within radiusKm of point serving vt, closest
// first. Stale positions are skipped silently.
func (g *GridIndex) Nearby(point model.Point, radiusKm float64, vt model.VehicleType) []Hit {
	if radiusKm <= 0 || point.Validate() != nil {
		return nil
	}
	dLat := radiusKm / kmPerDegreeLat
	cosLat := math.Cos(toRad(point.Lat))
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLng := radiusKm / (kmPerDegreeLat * cosLat)
	if dLng > 180 {
		dLng = 180
	}
	lo := g.keyFor(point.Lat-dLat, point.Lng-dLng)
	hi := g.keyFor(point.Lat+dLat, point.Lng+dLng)

	cutoff := g.now().Add(-g.staleAfter)
	var hits []Hit
	for la := lo.lat; la <= hi.lat; la++ {
		for ln := lo.lng; ln <= hi.lng; ln++ {
			c := g.cellFor(cellKey{lat: la, lng: ln}, false)
			if c == nil {
				continue
			}
			c.mu.RLock()
			for id, pos := range c.entries {
				if g.staleAfter > 0 && pos.UpdatedAt.Before(cutoff) {
					continue
				}
				d := Distance(point, pos.Point)
				if d > radiusKm || !g.serves(id, vt) {
					continue
				}
				hits = append(hits, Hit{TechnicianID: id, DistanceKm: d, Position: pos})
			}
			c.mu.RUnlock()
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm != hits[j].DistanceKm {
			return hits[i].DistanceKm < hits[j].DistanceKm
		}
		return hits[i].TechnicianID < hits[j].TechnicianID
	})
	return hits
}
