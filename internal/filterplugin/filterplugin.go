// Package filterplugin implements the magnitude/distance accept predicate
// used by the resolver's new-event filter. The built-in predicate is a
// plain threshold check; an optional WebAssembly
// module (tetratelabs/wazero) can override it without a daemon rebuild.
package filterplugin

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Predicate decides whether an event qualifies for processing based on its
// magnitude and location.
type Predicate interface {
	Allow(mag, lon, lat float64) bool
	Close(ctx context.Context) error
}

// builtin is the default threshold predicate: magnitude at least minMag, and
// (if maxDistanceKm > 0) within maxDistanceKm of (siteLon, siteLat).
type builtin struct {
	minMag        float64
	maxDistanceKm float64
	siteLon       float64
	siteLat       float64
}

// NewBuiltin constructs the default predicate from configuration values.
func NewBuiltin(minMag, maxDistanceKm, siteLon, siteLat float64) Predicate {
	return &builtin{minMag: minMag, maxDistanceKm: maxDistanceKm, siteLon: siteLon, siteLat: siteLat}
}

func (b *builtin) Allow(mag, lon, lat float64) bool {
	if mag < b.minMag {
		return false
	}
	if b.maxDistanceKm <= 0 {
		return true
	}
	return haversineKm(b.siteLon, b.siteLat, lon, lat) <= b.maxDistanceKm
}

func (b *builtin) Close(context.Context) error { return nil }

func haversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// wasmPredicate hosts a site-supplied module exporting
// filter(mag f64, lon f64, lat f64) -> i32 (non-zero accepts), via wazero's
// embedded, dependency-free WebAssembly runtime.
type wasmPredicate struct {
	runtime  wazero.Runtime
	module   api.Module
	filterFn api.Function
	fallback Predicate
}

// LoadWasm compiles and instantiates the module at path. On failure, callers
// should fall back to the built-in predicate and log a warning.
// LoadWasm itself only reports the error, it does not fall back silently.
func LoadWasm(ctx context.Context, path string, fallback Predicate) (Predicate, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter module %s: %w", path, err)
	}

	rt := wazero.NewRuntime(ctx)
	mod, err := rt.Instantiate(ctx, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate filter module %s: %w", path, err)
	}

	fn := mod.ExportedFunction("filter")
	if fn == nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("filter module %s: missing exported filter function", path)
	}

	return &wasmPredicate{runtime: rt, module: mod, filterFn: fn, fallback: fallback}, nil
}

func (w *wasmPredicate) Allow(mag, lon, lat float64) bool {
	res, err := w.filterFn.Call(context.Background(),
		api.EncodeF64(mag), api.EncodeF64(lon), api.EncodeF64(lat))
	if err != nil || len(res) == 0 {
		return w.fallback.Allow(mag, lon, lat)
	}
	return int32(res[0]) != 0
}

func (w *wasmPredicate) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
