package locate

import (
	"regexp"
	"strconv"

	"github.com/twpayne/go-geom"
)

var (
	// Place-data coordinates, the pin itself.
	placeCoordsRe = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	// Viewport center, used when the URL has no place data.
	viewportCoordsRe = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
)

// ParseCoordinates extracts a lat/lng pair from a map URL. text is "lat, lng"
// with the digits exactly as they appear in the URL. The point is in XY
// layout (x = longitude, y = latitude) and only validates the range.
func ParseCoordinates(u string) (text string, p *geom.Point, ok bool) {
	for _, re := range []*regexp.Regexp{placeCoordsRe, viewportCoordsRe} {
		m := re.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lng, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			continue
		}
		return m[1] + ", " + m[2], geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326), true
	}
	return "", nil, false
}
