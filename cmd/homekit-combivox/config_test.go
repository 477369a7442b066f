package main

import (
	"path/filepath"
	"testing"

	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/env/v11"
	combivox "github.com/caarlos0/homekit-combivox"
	"github.com/stretchr/testify/require"
)

func TestAllZones(t *testing.T) {
	cfg := Config{
		ContactZones: []int{1, 3, 5, 6, 7},
		MotionZones:  []int{2, 4, 8, 9, 10},
		BypassZones:  []int{3, 8},
		ZoneNames:    []string{"A", "B", "", "C", "D"},
	}
	cat := combivox.Catalog{
		Zones: []combivox.Label{{ID: 3, Name: "Portone"}, {ID: 1, Name: "Ignored"}},
	}

	zones := cfg.allZones(cat)

	require.Equal(t, []zoneConfig{
		{1, "A", kindContact, false},
		{2, "B", kindMotion, false},
		{3, "Portone", kindContact, true},
		{4, "C", kindMotion, false},
		{5, "D", kindContact, false},
		{6, "Zone 6", kindContact, false},
		{7, "Zone 7", kindContact, false},
		{8, "Zone 8", kindMotion, true},
		{9, "Zone 9", kindMotion, false},
		{10, "Zone 10", kindMotion, false},
	}, zones)
}

func TestAllZonesFromCatalog(t *testing.T) {
	cat := combivox.Catalog{
		Zones: []combivox.Label{{ID: 4, Name: "Finestra"}, {ID: 2, Name: "Porta"}},
	}
	require.Equal(t, []zoneConfig{
		{2, "Porta", kindContact, false},
		{4, "Finestra", kindContact, false},
	}, Config{}.allZones(cat))
}

func TestGetAlarmState(t *testing.T) {
	cfg := Config{
		AwayAreas:  []int{1, 2, 3},
		StayAreas:  []int{3, 1},
		NightAreas: []int{2},
	}

	for name, tt := range map[string]struct {
		status combivox.Status
		want   int
	}{
		"triggered": {
			status: combivox.Status{HasAlarm: true, Alarm: combivox.AlarmTriggered, ArmedAreas: []int{1, 2, 3}},
			want:   characteristic.SecuritySystemCurrentStateAlarmTriggered,
		},
		"pending": {
			status: combivox.Status{HasAlarm: true, Alarm: combivox.AlarmPending, ArmedAreas: []int{2}},
			want:   characteristic.SecuritySystemCurrentStateAlarmTriggered,
		},
		"disarmed": {
			status: combivox.Status{HasAlarm: true, Alarm: combivox.AlarmDisarmed},
			want:   characteristic.SecuritySystemCurrentStateDisarmed,
		},
		"away": {
			status: combivox.Status{ArmedAreas: []int{1, 2, 3}},
			want:   characteristic.SecuritySystemCurrentStateAwayArm,
		},
		"stay": {
			status: combivox.Status{HasAlarm: true, Alarm: combivox.AlarmArmedWithDelay, ArmedAreas: []int{1, 3}},
			want:   characteristic.SecuritySystemCurrentStateStayArm,
		},
		"night": {
			status: combivox.Status{ArmedAreas: []int{2}},
			want:   characteristic.SecuritySystemCurrentStateNightArm,
		},
		"no match": {
			status: combivox.Status{ArmedAreas: []int{4}},
			want:   -1,
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, cfg.getAlarmState(tt.status))
		})
	}
}

func TestTarget(t *testing.T) {
	cfg := Config{
		AwayAreas:   []int{1, 2},
		NightMacro:  4,
		DisarmMacro: 7,
	}
	areas, macro := cfg.target(characteristic.SecuritySystemTargetStateAwayArm)
	require.Equal(t, []int{1, 2}, areas)
	require.Zero(t, macro)

	areas, macro = cfg.target(characteristic.SecuritySystemTargetStateNightArm)
	require.Empty(t, areas)
	require.Equal(t, 4, macro)

	areas, macro = cfg.target(characteristic.SecuritySystemTargetStateDisarm)
	require.Empty(t, areas)
	require.Equal(t, 7, macro)
}

func TestParseConfig(t *testing.T) {
	t.Setenv("HOST", "192.168.1.50")
	t.Setenv("CODE", "123456")
	t.Setenv("AWAY", "1,2,3")
	t.Setenv("STAY_MACRO", "5")
	t.Setenv("CONTACT", "1,4")
	t.Setenv("REVISION", "B")

	var cfg Config
	require.NoError(t, env.Parse(&cfg))
	require.NoError(t, cfg.validate())
	require.Equal(t, "80", cfg.Port)
	require.Equal(t, []int{1, 2, 3}, cfg.AwayAreas)
	require.Equal(t, 5, cfg.StayMacro)
	require.Equal(t, combivox.RevisionB, cfg.revision())
	require.Equal(t, combivox.ArmNormal, cfg.armMode())
	require.Equal(t, ":9009", cfg.Address)
}

func TestValidate(t *testing.T) {
	require.Error(t, Config{ArmMode: "normal"}.validate())
	require.NoError(t, Config{AwayMacro: 1, ArmMode: "normal"}.validate())
	require.Error(t, Config{AwayAreas: []int{1}, ArmMode: "whatever"}.validate())
	require.Error(t, Config{AwayAreas: []int{1}, ArmMode: "normal", Revision: "c"}.validate())
	require.NoError(t, Config{AwayAreas: []int{1}, ArmMode: "normal", Revision: "A"}.validate())
}

func TestCatalogCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "catalog.yaml")
	cat := combivox.Catalog{
		Zones:    []combivox.Label{{ID: 1, Name: "Porta"}},
		Areas:    []combivox.Label{{ID: 1, Name: "Casa"}},
		Macros:   []combivox.Label{{ID: 3, Name: "Notte"}},
		Commands: []combivox.Label{{ID: 2, Name: "Luci"}},
	}

	_, ok, err := loadCatalog(path, "192.168.1.50")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, saveCatalog(path, "192.168.1.50", cat))
	got, ok, err := loadCatalog(path, "192.168.1.50")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cat.Equal(got))

	_, ok, err = loadCatalog(path, "192.168.1.51")
	require.NoError(t, err)
	require.False(t, ok, "catalog of another panel")
}
