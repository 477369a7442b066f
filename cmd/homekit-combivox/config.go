package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	combivox "github.com/caarlos0/homekit-combivox"
	"golang.org/x/exp/slices"
)

type Config struct {
	Host     string `env:"HOST,notEmpty"`
	Port     string `env:"PORT"            envDefault:"80"`
	Code     string `env:"CODE,notEmpty"`
	Username string `env:"USERNAME"        envDefault:"admin"`
	Revision string `env:"REVISION"        envDefault:"auto"`

	MotionZones  []int    `env:"MOTION"`
	ContactZones []int    `env:"CONTACT"`
	BypassZones  []int    `env:"BYPASS"`
	ZoneNames    []string `env:"ZONE_NAMES"`

	AwayAreas   []int  `env:"AWAY"`
	StayAreas   []int  `env:"STAY"`
	NightAreas  []int  `env:"NIGHT"`
	DisarmAreas []int  `env:"DISARM"`
	ArmMode     string `env:"ARM_MODE"        envDefault:"normal"`

	AwayMacro   int `env:"AWAY_MACRO"`
	StayMacro   int `env:"STAY_MACRO"`
	NightMacro  int `env:"NIGHT_MACRO"`
	DisarmMacro int `env:"DISARM_MACRO"`

	Switches []int `env:"SWITCHES"`
	Buttons  []int `env:"BUTTONS"`
	Macros   []int `env:"MACROS"`

	ClearMemoryAfter time.Duration `env:"CLEAR_MEMORY_AFTER"`
	CatalogFile      string        `env:"CATALOG_FILE"    envDefault:"./db/catalog.yaml"`
	CatalogRefresh   time.Duration `env:"CATALOG_REFRESH"`
	Interval         time.Duration `env:"INTERVAL"        envDefault:"30s"`
	MaxFailures      int           `env:"MAX_FAILURES"    envDefault:"2"`
	LogLevel         string        `env:"LOG_LEVEL"       envDefault:"info"`
	Address          string        `env:"LISTEN"          envDefault:":9009"`
}

func (c Config) validate() error {
	if len(c.AwayAreas) == 0 && c.AwayMacro == 0 {
		return fmt.Errorf("either AWAY or AWAY_MACRO must be set")
	}
	if _, err := combivox.ParseArmMode(c.ArmMode); err != nil {
		return err
	}
	if _, err := combivox.ParseRevision(c.Revision); err != nil {
		return fmt.Errorf("invalid REVISION: %w", err)
	}
	return nil
}

// revision expects a validated config.
func (c Config) revision() combivox.Revision {
	rev, _ := combivox.ParseRevision(c.Revision)
	return rev
}

func (c Config) armMode() combivox.ArmMode {
	mode, _ := combivox.ParseArmMode(c.ArmMode)
	return mode
}

type zoneKind uint8

const (
	kindMotion = iota + 1
	kindContact
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	default:
		return "contact"
	}
}

type zoneConfig struct {
	number      int
	name        string
	kind        zoneKind
	allowBypass bool
}

// zoneName prefers ZONE_NAMES, then the name programmed in the panel.
func (c Config) zoneName(cat combivox.Catalog, n int) string {
	names := c.ZoneNames
	if len(names) > n-1 {
		if n := names[n-1]; n != "" {
			return n
		}
	}
	return cat.ZoneName(n)
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.number, zone.name, zone.kind.String()),
		)
	}
	return strings.Join(zones, "\n")
}

// allZones returns the configured zones. With neither MOTION nor CONTACT
// set, every zone in the catalog is exposed as a contact sensor.
func (c Config) allZones(cat combivox.Catalog) []zoneConfig {
	contacts := c.ContactZones
	if len(c.MotionZones) == 0 && len(contacts) == 0 {
		contacts = cat.ZoneIDs()
	}
	var zones []zoneConfig
	for _, z := range c.MotionZones {
		zones = append(zones, zoneConfig{
			number:      z,
			name:        c.zoneName(cat, z),
			kind:        kindMotion,
			allowBypass: slices.Contains(c.BypassZones, z),
		})
	}
	for _, z := range contacts {
		zones = append(zones, zoneConfig{
			number:      z,
			name:        c.zoneName(cat, z),
			kind:        kindContact,
			allowBypass: slices.Contains(c.BypassZones, z),
		})
	}
	slices.SortFunc(zones, func(a, b zoneConfig) int {
		return a.number - b.number
	})
	return zones
}

func (c Config) getAlarmState(status combivox.Status) int {
	if status.Triggered() || (status.HasAlarm && status.Alarm == combivox.AlarmPending) {
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	}
	return c.getArmedState(status.ArmedAreas)
}

// getArmedState maps the armed areas to a mode. An area set matching no
// mode is reported as -1, and the current state is left alone.
func (c Config) getArmedState(armed []int) int {
	if len(armed) == 0 {
		return characteristic.SecuritySystemCurrentStateDisarmed
	}
	armed = sorted(armed)
	if slices.Equal(sorted(c.AwayAreas), armed) {
		return characteristic.SecuritySystemCurrentStateAwayArm
	}
	if slices.Equal(sorted(c.StayAreas), armed) {
		return characteristic.SecuritySystemCurrentStateStayArm
	}
	if slices.Equal(sorted(c.NightAreas), armed) {
		return characteristic.SecuritySystemCurrentStateNightArm
	}
	log.Debug("armed areas match no mode", "armed", armed)
	return -1
}

// target returns how to reach a target state: the areas, or the macro
// when no areas are set for it.
func (c Config) target(state int) (areas []int, macro int) {
	switch state {
	case characteristic.SecuritySystemTargetStateAwayArm:
		return c.AwayAreas, c.AwayMacro
	case characteristic.SecuritySystemTargetStateStayArm:
		return c.StayAreas, c.StayMacro
	case characteristic.SecuritySystemTargetStateNightArm:
		return c.NightAreas, c.NightMacro
	default:
		return c.DisarmAreas, c.DisarmMacro
	}
}

func sorted(s []int) []int {
	s = slices.Clone(s)
	slices.Sort(s)
	return slices.Compact(s)
}
