package memory

import (
	"log/slog"

	"github.com/ethr-ai/noema/internal/config"
	"github.com/ethr-ai/noema/internal/model"
)

// DecayParams are the exponential-decay parameters of one sector: the base
// time scale in days and an optional lower bound applied after the
// access-count boost.
type DecayParams struct {
	SBase  float64
	SFloor *float64
}

// DecayTable maps every sector to its decay parameters. Immutable after
// construction; owned by the application context, not a package global.
type DecayTable struct {
	params map[model.Sector]DecayParams
}

func floatPtr(v float64) *float64 { return &v }

// defaultParams is the built-in decay table used when no config file is
// present or the file is incomplete.
var defaultParams = map[model.Sector]DecayParams{
	model.SectorEmotional:  {SBase: 200, SFloor: floatPtr(150)},
	model.SectorEpisodic:   {SBase: 150, SFloor: floatPtr(100)},
	model.SectorSemantic:   {SBase: 100},
	model.SectorProcedural: {SBase: 120},
	model.SectorReflective: {SBase: 180, SFloor: floatPtr(120)},
}

// DefaultDecayTable returns the built-in decay table.
func DefaultDecayTable() *DecayTable {
	params := make(map[model.Sector]DecayParams, len(defaultParams))
	for s, p := range defaultParams {
		params[s] = p
	}
	return &DecayTable{params: params}
}

// NewDecayTable builds a decay table from the YAML config section. The
// loaded table must cover all five sectors with positive S_base values;
// anything else falls back to the built-in defaults with a warning, so a
// malformed file can never leave the scorer without parameters.
func NewDecayTable(fromFile map[string]config.DecayParams, logger *slog.Logger) *DecayTable {
	if len(fromFile) == 0 {
		return DefaultDecayTable()
	}

	params := make(map[model.Sector]DecayParams, len(model.Sectors))
	for _, sector := range model.Sectors {
		p, ok := fromFile[string(sector)]
		if !ok || p.SBase <= 0 {
			logger.Warn("decay config: missing or invalid sector, using built-in defaults",
				"sector", sector, "present", ok)
			return DefaultDecayTable()
		}
		params[sector] = DecayParams{SBase: p.SBase, SFloor: p.SFloor}
	}
	return &DecayTable{params: params}
}

// Params returns the decay parameters for a sector, falling back to the
// semantic sector when the sector is unknown.
func (t *DecayTable) Params(sector model.Sector) DecayParams {
	if p, ok := t.params[sector]; ok {
		return p
	}
	return t.params[model.SectorSemantic]
}
