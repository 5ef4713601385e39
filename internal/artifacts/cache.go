// Package artifacts loads the scaler bundle and fraud threshold a worker
// scores with. Both are read once at startup and never change afterwards.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// ErrArtifactLoad wraps every startup failure; it is fatal for the worker.
var ErrArtifactLoad = errors.New("artifact load failed")

// ReloadPolicy describes when a loaded Cache is refreshed.
type ReloadPolicy string

// ReloadNever: artifacts are fixed for the worker's lifetime; rolling out a
// new scaler or threshold means restarting workers.
const ReloadNever ReloadPolicy = "never"

// Paths locates the two documents inside a BlobStore.
type Paths struct {
	Scaler    string
	Threshold string
}

// ScalerParams holds per-feature min/max in feature_order.
type ScalerParams struct {
	FeatureOrder []string
	DataMin      []float64
	DataMax      []float64
}

type scalerBundle struct {
	Scaler struct {
		DataMin []float64 `json:"data_min"`
		DataMax []float64 `json:"data_max"`
	} `json:"scaler"`
	FeatureOrder []string `json:"feature_order"`
}

type thresholdDoc struct {
	Threshold *float64 `json:"threshold"`
}

// Cache is the immutable per-worker artifact set shared by every stage.
type Cache struct {
	scaler    ScalerParams
	threshold float64
	loadedAt  time.Time
}

// Load fetches and validates both artifacts.
func Load(ctx context.Context, store BlobStore, paths Paths) (*Cache, error) {
	raw, err := store.Get(ctx, paths.Scaler)
	if err != nil {
		return nil, fmt.Errorf("%w: scaler %s: %v", ErrArtifactLoad, paths.Scaler, err)
	}
	scaler, err := parseScaler(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: scaler %s: %v", ErrArtifactLoad, paths.Scaler, err)
	}

	raw, err = store.Get(ctx, paths.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %s: %v", ErrArtifactLoad, paths.Threshold, err)
	}
	threshold, err := parseThreshold(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %s: %v", ErrArtifactLoad, paths.Threshold, err)
	}

	return New(scaler, threshold)
}

// New builds a Cache from values already in memory.
func New(scaler ScalerParams, threshold float64) (*Cache, error) {
	if err := scaler.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactLoad, err)
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite", ErrArtifactLoad)
	}
	return &Cache{
		scaler: ScalerParams{
			FeatureOrder: append([]string(nil), scaler.FeatureOrder...),
			DataMin:      append([]float64(nil), scaler.DataMin...),
			DataMax:      append([]float64(nil), scaler.DataMax...),
		},
		threshold: threshold,
		loadedAt:  time.Now().UTC(),
	}, nil
}

func parseScaler(raw []byte) (ScalerParams, error) {
	var b scalerBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return ScalerParams{}, err
	}
	return ScalerParams{
		FeatureOrder: b.FeatureOrder,
		DataMin:      b.Scaler.DataMin,
		DataMax:      b.Scaler.DataMax,
	}, nil
}

func parseThreshold(raw []byte) (float64, error) {
	var d thresholdDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, err
	}
	if d.Threshold == nil {
		return 0, errors.New(`missing "threshold"`)
	}
	return *d.Threshold, nil
}

func (s ScalerParams) validate() error {
	n := len(s.FeatureOrder)
	if n == 0 {
		return errors.New("feature_order is empty")
	}
	if len(s.DataMin) != n || len(s.DataMax) != n {
		return fmt.Errorf("scaler width min=%d max=%d does not match feature_order=%d",
			len(s.DataMin), len(s.DataMax), n)
	}
	seen := make(map[string]struct{}, n)
	for _, f := range s.FeatureOrder {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("duplicate feature %q", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// FeatureOrder returns a copy of the canonical feature list.
func (c *Cache) FeatureOrder() []string {
	return append([]string(nil), c.scaler.FeatureOrder...)
}

func (c *Cache) Threshold() float64 { return c.threshold }

func (c *Cache) LoadedAt() time.Time { return c.loadedAt }

func (c *Cache) ReloadPolicy() ReloadPolicy { return ReloadNever }

// Project returns the columns of feature_order not listed in exclude, with
// the matching min/max bounds.
func (c *Cache) Project(exclude []string) (columns []string, mins, maxs []float64) {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	for i, f := range c.scaler.FeatureOrder {
		if _, ok := skip[f]; ok {
			continue
		}
		columns = append(columns, f)
		mins = append(mins, c.scaler.DataMin[i])
		maxs = append(maxs, c.scaler.DataMax[i])
	}
	return columns, mins, maxs
}
