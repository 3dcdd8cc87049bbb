// Package shapefile reads zipped ESRI shapefiles into GeoJSON feature collections.
package shapefile

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultMaxEntryBytes caps the decompressed size of any single archive member.
const DefaultMaxEntryBytes = 256 << 20

// Collection is one layer (one .shp) from an archive.
type Collection struct {
	Name     string
	Features *geojson.FeatureCollection
	// Skipped counts records with null or unsupported shapes.
	Skipped int
}

// Parser decodes zip archives containing one or more shapefile layers.
type Parser struct {
	MaxEntryBytes int64
}

// NewParser returns a Parser with default limits.
func NewParser() *Parser {
	return &Parser{MaxEntryBytes: DefaultMaxEntryBytes}
}

type layerFiles struct {
	shp *zip.File
	dbf *zip.File
}

// Parse returns every layer that could be read. A layer that fails does not
// prevent the others from being returned; its error is joined into err.
func (p *Parser) Parse(data []byte) ([]Collection, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	layers := make(map[string]*layerFiles)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".shp" && ext != ".dbf" {
			continue
		}
		base := strings.TrimSuffix(f.Name, path.Ext(f.Name))
		layer, ok := layers[base]
		if !ok {
			layer = &layerFiles{}
			layers[base] = layer
		}
		if ext == ".shp" {
			layer.shp = f
		} else {
			layer.dbf = f
		}
	}

	names := make([]string, 0, len(layers))
	for name, layer := range layers {
		if layer.shp != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("archive contains no .shp file")
	}
	sort.Strings(names)

	var (
		collections []Collection
		errs        []error
	)
	for _, name := range names {
		c, err := p.readLayer(path.Base(name), layers[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("layer %s: %w", path.Base(name), err))
			continue
		}
		collections = append(collections, c)
	}
	return collections, errors.Join(errs...)
}

func (p *Parser) readLayer(name string, files *layerFiles) (Collection, error) {
	if files.dbf == nil {
		return Collection{}, fmt.Errorf("missing .dbf attribute file")
	}

	shpReader, err := p.open(files.shp)
	if err != nil {
		return Collection{}, err
	}
	dbfReader, err := p.open(files.dbf)
	if err != nil {
		_ = shpReader.Close()
		return Collection{}, err
	}

	reader := shp.SequentialReaderFromExt(shpReader, dbfReader)
	defer reader.Close()

	fields := reader.Fields()
	fc := geojson.NewFeatureCollection()
	skipped := 0

	for reader.Next() {
		_, shape := reader.Shape()
		geom, ok := toOrb(shape)
		if !ok {
			skipped++
			continue
		}

		feature := geojson.NewFeature(geom)
		for i, field := range fields {
			feature.Properties[field.String()] = cleanAttribute(reader.Attribute(i))
		}
		fc.Append(feature)
	}
	if err := reader.Err(); err != nil {
		return Collection{}, fmt.Errorf("failed to read shapes: %w", err)
	}

	return Collection{Name: name, Features: fc, Skipped: skipped}, nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

func (p *Parser) open(f *zip.File) (io.ReadCloser, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	limit := p.MaxEntryBytes
	if limit <= 0 {
		limit = DefaultMaxEntryBytes
	}
	return limitedReadCloser{Reader: io.LimitReader(rc, limit), Closer: rc}, nil
}

// toOrb converts a shapefile record. Polygon parts are grouped into outer
// rings (clockwise) each followed by its holes (counter-clockwise).
func toOrb(shape shp.Shape) (orb.Geometry, bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}, true
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, true
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil, false
		}
		mp := make(orb.MultiPoint, len(s.Points))
		for i, pt := range s.Points {
			mp[i] = orb.Point{pt.X, pt.Y}
		}
		return mp, true
	case *shp.PolyLine:
		return lines(splitParts(s.Parts, s.Points))
	case *shp.PolyLineZ:
		return lines(splitParts(s.Parts, s.Points))
	case *shp.Polygon:
		return polygons(splitParts(s.Parts, s.Points))
	case *shp.PolygonZ:
		return polygons(splitParts(s.Parts, s.Points))
	default:
		return nil, false
	}
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || int(end) > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, pt := range points[start:end] {
			part = append(part, orb.Point{pt.X, pt.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(parts [][]orb.Point) (orb.Geometry, bool) {
	switch len(parts) {
	case 0:
		return nil, false
	case 1:
		return orb.LineString(parts[0]), true
	default:
		mls := make(orb.MultiLineString, len(parts))
		for i, part := range parts {
			mls[i] = orb.LineString(part)
		}
		return mls, true
	}
}

func polygons(parts [][]orb.Point) (orb.Geometry, bool) {
	var mp orb.MultiPolygon
	for _, part := range parts {
		ring := orb.Ring(part)
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}

	switch len(mp) {
	case 0:
		return nil, false
	case 1:
		return mp[0], true
	default:
		return mp, true
	}
}

// cleanAttribute strips the NUL and space padding DBF writers leave in fixed-width fields.
func cleanAttribute(v string) string {
	return strings.TrimFunc(v, func(r rune) bool { return r == 0 || unicode.IsSpace(r) })
}
