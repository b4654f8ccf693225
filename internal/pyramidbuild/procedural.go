package pyramidbuild

import (
	"gigatile/internal/generator"
	"gigatile/internal/pyramid"
	"gigatile/internal/tile"
	"gigatile/internal/tilestore"
)

// ProceduralSource renders tiles with a generator, exactly as the procedural
// fetch mode does.
type ProceduralSource struct {
	gen      generator.Generator
	transfer generator.Transfer
	layout   *pyramid.Layout
}

func NewProceduralSource(gen generator.Generator, transfer generator.Transfer, layout *pyramid.Layout) *ProceduralSource {
	if transfer == nil {
		transfer = generator.DefaultTransfer()
	}
	return &ProceduralSource{gen: gen, transfer: transfer, layout: layout}
}

func (s *ProceduralSource) RenderTile(c tile.Coordinate, dst []byte) error {
	return tilestore.RenderProcedural(s.gen, s.transfer, s.layout, c, dst)
}
