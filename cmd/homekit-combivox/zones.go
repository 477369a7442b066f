package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	combivox "github.com/caarlos0/homekit-combivox"
)

func setupZones(
	execute Executor,
	cfg Config,
	cat combivox.Catalog,
	status combivox.Status,
	serial string,
) AlarmSensors {
	var sensors AlarmSensors
	for i, zone := range cfg.allZones(cat) {
		a := newAlarmSensor(accessory.Info{
			Name:         zone.name,
			Manufacturer: manufacturer,
			SerialNumber: serial,
		}, zone)
		a.Id = uint64(100 + i)

		if a.Bypass != nil {
			a.Bypass.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
				include, ok := value.(bool)
				if !ok {
					return nil, hap.JsonStatusInvalidValueInRequest
				}
				log.Info("set zone bypass", "zone", zone.number, "bypass", !include)
				if err := execute(func(ctx context.Context, cli *combivox.Client) error {
					// the panel only toggles, so check where the zone is first
					status, err := cli.Status(ctx)
					if err != nil {
						return err
					}
					if current, ok := status.Zone(zone.number); ok && current.Included == include {
						return nil
					}
					return cli.ToggleBypass(ctx, zone.number)
				}); err != nil {
					log.Error("failed to set bypass", "zone", zone.number, "value", include, "err", err)
					return nil, hap.JsonStatusResourceBusy
				}
				return nil, hap.JsonStatusSuccess
			}
		}

		if current, ok := status.Zone(zone.number); ok {
			a.Update(current)
		}
		sensors = append(sensors, a)
	}
	return sensors
}
