package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-disaster-notify/internal/models"
)

//go:embed default.yaml
var defaultCatalog []byte

type Catalog struct {
	Sensors  []SensorConfig `yaml:"sensors"`
	Cities   []City         `yaml:"cities"`
	Contacts []Contact      `yaml:"contacts"`

	cities  map[string]*City
	regions map[string]*Region
}

type City struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Regions  []Region  `yaml:"regions"`
	Shelters []Shelter `yaml:"shelters"`
}

type Region struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	CityID string `yaml:"-"`
}

type Shelter struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	RegionID string `yaml:"region"`
	Capacity int    `yaml:"capacity"`
	Phone    string `yaml:"phone"`
}

type Contact struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

type SensorConfig struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Type       string       `yaml:"type"`
	Unit       string       `yaml:"unit"`
	CityID     string       `yaml:"city"`
	RegionID   string       `yaml:"region"`
	Latitude   float64      `yaml:"lat"`
	Longitude  float64      `yaml:"lon"`
	Min        *float64     `yaml:"min"`
	Max        *float64     `yaml:"max"`
	Thresholds ThresholdSet `yaml:"thresholds"`
	Hourly     ThresholdSet `yaml:"hourly"`
	Daily      ThresholdSet `yaml:"daily"`
}

// ThresholdSet is any subset of the three alerting bands.
type ThresholdSet struct {
	Warning  *float64 `yaml:"warning"`
	Danger   *float64 `yaml:"danger"`
	Critical *float64 `yaml:"critical"`
}

func (ts ThresholdSet) Thresholds() models.Thresholds {
	var out models.Thresholds
	if ts.Warning != nil {
		out = append(out, models.Threshold{Band: models.BandWarning, Value: *ts.Warning})
	}
	if ts.Danger != nil {
		out = append(out, models.Threshold{Band: models.BandDanger, Value: *ts.Danger})
	}
	if ts.Critical != nil {
		out = append(out, models.Threshold{Band: models.BandCritical, Value: *ts.Critical})
	}
	return out
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return LoadBytes(defaultCatalog)
}

// LoadFile loads a catalog from a YAML file, falling back to the embedded
// default when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadBytes(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.cities = make(map[string]*City, len(c.Cities))
	c.regions = make(map[string]*Region)
	for i := range c.Cities {
		city := &c.Cities[i]
		if city.ID == "" {
			return fmt.Errorf("city at index %d: missing id", i)
		}
		if _, dup := c.cities[city.ID]; dup {
			return fmt.Errorf("duplicate city %q", city.ID)
		}
		if len(city.Regions) == 0 {
			return fmt.Errorf("city %q: at least one region is required", city.ID)
		}
		c.cities[city.ID] = city
		for j := range city.Regions {
			r := &city.Regions[j]
			r.CityID = city.ID
			if _, dup := c.regions[r.ID]; dup {
				return fmt.Errorf("duplicate region %q", r.ID)
			}
			c.regions[r.ID] = r
		}
	}

	seen := make(map[string]bool)
	for i, s := range c.Sensors {
		if s.ID == "" {
			return fmt.Errorf("sensor at index %d: missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sensor %q", s.ID)
		}
		seen[s.ID] = true
		if !models.SensorType(s.Type).Valid() {
			return fmt.Errorf("sensor %s: unknown type %q", s.ID, s.Type)
		}
		if _, ok := c.cities[s.CityID]; !ok {
			return fmt.Errorf("sensor %s: unknown city %q", s.ID, s.CityID)
		}
		for name, ts := range map[string]ThresholdSet{"thresholds": s.Thresholds, "hourly": s.Hourly, "daily": s.Daily} {
			if err := ts.Thresholds().Validate(); err != nil {
				return fmt.Errorf("sensor %s %s: %w", s.ID, name, err)
			}
		}
	}
	return nil
}

// SensorModels converts the configured sensors into fresh models with Normal state.
func (c *Catalog) SensorModels() []models.Sensor {
	out := make([]models.Sensor, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		out = append(out, models.Sensor{
			ID:               s.ID,
			Name:             s.Name,
			Type:             models.SensorType(s.Type),
			Unit:             s.Unit,
			CityID:           s.CityID,
			RegionID:         s.RegionID,
			Latitude:         s.Latitude,
			Longitude:        s.Longitude,
			MinValue:         s.Min,
			MaxValue:         s.Max,
			Thresholds:       s.Thresholds.Thresholds(),
			HourlyThresholds: s.Hourly.Thresholds(),
			DailyThresholds:  s.Daily.Thresholds(),
		})
	}
	return out
}

func (c *Catalog) City(id string) (*City, bool) {
	city, ok := c.cities[id]
	return city, ok
}

func (c *Catalog) Region(id string) (*Region, bool) {
	r, ok := c.regions[id]
	return r, ok
}

func (c *Catalog) HasCity(id string) bool {
	_, ok := c.cities[id]
	return ok
}

// CityName falls back to the id for unknown cities.
func (c *Catalog) CityName(id string) string {
	if city, ok := c.cities[id]; ok {
		return city.Name
	}
	return id
}

func (c *Catalog) RegionName(id string) string {
	if r, ok := c.regions[id]; ok {
		return r.Name
	}
	return id
}

// Shelters returns the shelters of a city, those in regionID first when given.
func (c *Catalog) Shelters(cityID, regionID string) []Shelter {
	city, ok := c.cities[cityID]
	if !ok {
		return nil
	}
	out := append([]Shelter(nil), city.Shelters...)
	if regionID != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].RegionID == regionID && out[j].RegionID != regionID
		})
	}
	return out
}
