// Package geo converts between geographic coordinates and the Web Mercator
// projection used by the map view.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
)

// Coordinate is a (longitude, latitude) pair in EPSG:4326.
type Coordinate = orb.Point

// ErrInvalidCoordinate is returned for out-of-range or non-finite coordinates.
var ErrInvalidCoordinate = eris.New("invalid coordinate")

// ToProjected converts a geographic coordinate to EPSG:3857.
func ToProjected(c Coordinate) orb.Point {
	return project.WGS84.ToMercator(c)
}

// ToGeographic converts an EPSG:3857 point back to longitude/latitude.
func ToGeographic(p orb.Point) Coordinate {
	return project.Mercator.ToWGS84(p)
}

// Valid reports whether c is a finite, in-range longitude/latitude.
func Valid(c Coordinate) bool {
	lon, lat := c.Lon(), c.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// Validate returns ErrInvalidCoordinate when c is not Valid.
func Validate(c Coordinate) error {
	if !Valid(c) {
		return eris.Wrapf(ErrInvalidCoordinate, "geo: lon=%v lat=%v", c.Lon(), c.Lat())
	}
	return nil
}

// Format renders a coordinate with five decimals, longitude first.
func Format(c Coordinate) string {
	return fmt.Sprintf("%.5f, %.5f", c.Lon(), c.Lat())
}

// ParsePoint parses x/y strings into a geographic coordinate. Values outside
// the geographic range are taken to be Web Mercator meters and unprojected.
func ParsePoint(x, y string) (Coordinate, error) {
	fx, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse x %q", x)
	}
	fy, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse y %q", y)
	}

	c := Coordinate{fx, fy}
	if Valid(c) {
		return c, nil
	}
	c = ToGeographic(orb.Point{fx, fy})
	if err := Validate(c); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}
