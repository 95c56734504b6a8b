package util

import "math"

const earthRadius = 6371008.8 // meters

// Coordinate is a WGS84 position as reported by a client's GPS.
type Coordinate struct {
	Latitude  float64 `bson:"latitude" yaml:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" yaml:"longitude" json:"longitude"`
	Altitude  float64 `bson:"altitude" yaml:"altitude" json:"altitude"`
}

func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// Distance returns the great-circle distance in meters between two coordinates.
// Altitude is ignored.
func (c Coordinate) Distance(other Coordinate) float64 {
	lat1 := c.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (other.Longitude - c.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Offset returns a coordinate moved north and east by the given number of meters.
func (c Coordinate) Offset(north, east float64) Coordinate {
	lat := c.Latitude + (north/earthRadius)*180/math.Pi
	lon := c.Longitude + (east/(earthRadius*math.Cos(c.Latitude*math.Pi/180)))*180/math.Pi
	return Coordinate{Latitude: lat, Longitude: lon, Altitude: c.Altitude}
}
