package noise

import (
	"errors"
	"fmt"
	"io/fs"
)

// LoadReport describes how the run input was assembled.
type LoadReport struct {
	Edges   int                       `json:"edges"`
	Layers  map[string]LayerReadStats `json:"layers"`
	Absent  []string                  `json:"absent,omitempty"` // optional layers whose file does not exist
	HasZone bool                      `json:"hasZone"`
}

// LoadInput reads the graph, every configured layer and the nodata zone.
// An optional layer without a file is left out; a required layer that is
// missing or has no polygons fails with ErrMissingLayer.
func LoadInput(cfg *Config) (Input, LoadReport, error) {
	report := LoadReport{Layers: make(map[string]LayerReadStats, len(cfg.Layers))}

	edges, err := ReadEdges(cfg.Graph.Path, cfg.Graph.IDProperty)
	if err != nil {
		return Input{}, report, err
	}
	report.Edges = len(edges)
	in := Input{Edges: edges}

	for _, lc := range cfg.Layers {
		layer, stats, err := ReadNoiseLayer(lc.Path, lc.Name, lc.DBFieldFor())
		switch {
		case errors.Is(err, fs.ErrNotExist) && !lc.Required:
			report.Absent = append(report.Absent, lc.Name)
			continue
		case errors.Is(err, fs.ErrNotExist):
			return Input{}, report, fmt.Errorf("%w: %s: %v", ErrMissingLayer, lc.Name, err)
		case err != nil:
			return Input{}, report, err
		}
		report.Layers[lc.Name] = stats
		if lc.Required && len(layer.Polygons) == 0 {
			return Input{}, report, fmt.Errorf("%w: %s has no usable polygons", ErrMissingLayer, lc.Name)
		}
		in.Layers = append(in.Layers, layer)
	}
	if len(in.Layers) == 0 {
		return Input{}, report, fmt.Errorf("%w: none of %d configured layers could be read", ErrMissingLayer, len(cfg.Layers))
	}

	if cfg.Zone.Path != "" {
		zone, err := ReadZone(cfg.Zone.Path)
		if err != nil {
			return Input{}, report, err
		}
		in.Zone = zone
		report.HasZone = true
	}
	return in, report, nil
}
