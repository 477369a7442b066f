package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	combivox "github.com/caarlos0/homekit-combivox"
)

type AlarmSensors []*AlarmSensor

func (sensors AlarmSensors) Update(status combivox.Status) {
	for _, sensor := range sensors {
		zone, ok := status.Zone(sensor.Number)
		if !ok {
			continue
		}
		sensor.Update(zone)
	}
}

type AlarmSensor struct {
	*accessory.A
	Number  int
	Kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Bypass  *service.Switch
	Fault   *characteristic.StatusFault
}

func (sensor *AlarmSensor) Update(zone combivox.Zone) {
	name := sensor.Name()
	openGauge.WithLabelValues(name).Set(boolToFloat(zone.Open))
	bypassedGauge.WithLabelValues(name).Set(boolToFloat(zone.Bypassed()))
	memoryGauge.WithLabelValues(name).Set(boolToFloat(zone.AlarmMemory))

	if v := boolToInt(zone.AlarmMemory); sensor.Fault.Value() != v {
		log.Info("alarm memory", "zone", zone.Number, "status", zone.AlarmMemory)
		_ = sensor.Fault.SetValue(v)
	}

	// the switch is on while the zone is included
	if sensor.Bypass != nil && sensor.Bypass.On.Value() != zone.Included {
		log.Info("bypass", "zone", zone.Number, "bypassed", zone.Bypassed())
		sensor.Bypass.On.SetValue(zone.Included)
	}

	switch sensor.Kind {
	case kindContact:
		current := boolToInt(zone.Open)
		if v := sensor.Contact.ContactSensorState.Value(); v == current {
			return
		}
		_ = sensor.Contact.ContactSensorState.SetValue(current)
		log.Info("contact", "zone", zone.Number, "open", zone.Open)
	case kindMotion:
		if v := sensor.Motion.MotionDetected.Value(); v == zone.Open {
			return
		}
		sensor.Motion.MotionDetected.SetValue(zone.Open)
		log.Info("motion", "zone", zone.Number, "open", zone.Open)
	}
}

func newAlarmSensor(info accessory.Info, zone zoneConfig) *AlarmSensor {
	a := AlarmSensor{
		Number: zone.number,
		Kind:   zone.kind,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Fault = characteristic.NewStatusFault()

	switch zone.kind {
	case kindContact:
		a.Contact = service.NewContactSensor()
		a.Contact.AddC(a.Fault.C)
		a.AddS(a.Contact.S)
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.Motion.AddC(a.Fault.C)
		a.AddS(a.Motion.S)
	}

	if zone.allowBypass {
		a.Bypass = service.NewSwitch()
		a.AddS(a.Bypass.S)
	}

	return &a
}

func boolToInt(b bool) int {
	return boolAs[int](b)
}

func boolToFloat(b bool) float64 {
	return boolAs[float64](b)
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}
