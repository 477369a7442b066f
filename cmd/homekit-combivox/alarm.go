package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	combivox "github.com/caarlos0/homekit-combivox"
)

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	AlarmType      *characteristic.SecuritySystemAlarmType
	Fault          *characteristic.StatusFault

	cfg     Config
	execute Executor
	refresh func()
}

func NewSecuritySystem(info accessory.Info, cfg Config, execute Executor, refresh func()) *SecuritySystem {
	a := &SecuritySystem{
		cfg:     cfg,
		execute: execute,
		refresh: refresh,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.AlarmType = characteristic.NewSecuritySystemAlarmType()
	a.SecuritySystem.AddC(a.AlarmType.C)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(status combivox.Status) {
	state := a.cfg.getAlarmState(status)
	armStateGauge.Set(float64(state))
	if status.HasAlarm {
		alarmByteGauge.Set(float64(status.Alarm))
	}
	if status.HasAnomaly {
		anomalyGauge.Set(float64(status.Anomaly))
	}

	if state >= 0 && a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info("set current state", "state", state, "alarm", status.Alarm, "err", err)
	}

	if v := boolToInt(status.Triggered()); a.AlarmType.Value() != v {
		_ = a.AlarmType.SetValue(v)
	}

	anomaly := status.HasAnomaly && status.Anomaly != combivox.AnomalyOK
	if v := boolToInt(anomaly); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "anomaly", status.Anomaly)
	}
}

// SetUnavailable reports the panel as faulty while it can't be polled.
func (a *SecuritySystem) SetUnavailable(unavailable bool) {
	if unavailable {
		_ = a.Fault.SetValue(characteristic.StatusFaultGeneralFault)
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	state, ok := v.(int)
	if !ok {
		return nil, hap.JsonStatusInvalidValueInRequest
	}

	var err error
	switch state {
	case characteristic.SecuritySystemTargetStateDisarm:
		err = a.disarm()
	case characteristic.SecuritySystemTargetStateAwayArm,
		characteristic.SecuritySystemTargetStateStayArm,
		characteristic.SecuritySystemTargetStateNightArm:
		err = a.arm(state)
	default:
		return nil, hap.JsonStatusResourceDoesNotExist
	}

	if errors.Is(err, errNotConfigured) {
		log.Error("could not change state", "state", state, "err", err)
		return nil, hap.JsonStatusInvalidValueInRequest
	}
	if err != nil {
		log.Error("could not change state", "state", state, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	go a.refresh()
	return nil, hap.JsonStatusSuccess
}

var errNotConfigured = errors.New("no areas nor macro configured for this mode")

// arm uses the areas of the mode, or its macro when it has no areas.
func (a *SecuritySystem) arm(state int) error {
	areas, macro := a.cfg.target(state)
	switch {
	case len(areas) > 0:
		if macro != 0 {
			log.Warn("both areas and macro configured, using areas", "state", state)
		}
		log.Info("arm", "state", state, "areas", areas, "mode", a.cfg.armMode())
		return a.execute(func(ctx context.Context, cli *combivox.Client) error {
			return cli.Arm(ctx, areas, a.cfg.armMode())
		})
	case macro != 0:
		log.Info("arm", "state", state, "macro", macro)
		return a.execute(func(ctx context.Context, cli *combivox.Client) error {
			return cli.ExecuteMacro(ctx, macro)
		})
	default:
		return errNotConfigured
	}
}

// disarm disarms DISARM areas, or runs DISARM_MACRO, or disarms everything.
func (a *SecuritySystem) disarm() error {
	areas, macro := a.cfg.target(characteristic.SecuritySystemTargetStateDisarm)
	log.Info("disarm", "areas", areas, "macro", macro)
	if err := a.execute(func(ctx context.Context, cli *combivox.Client) error {
		if len(areas) == 0 && macro != 0 {
			return cli.ExecuteMacro(ctx, macro)
		}
		return cli.Disarm(ctx, areas)
	}); err != nil {
		return err
	}

	if a.cfg.ClearMemoryAfter == 0 {
		return nil
	}
	go func() {
		time.Sleep(a.cfg.ClearMemoryAfter)
		log.Info("clearing alarm memory")
		if err := a.execute(func(ctx context.Context, cli *combivox.Client) error {
			return cli.ClearAlarmMemory(ctx)
		}); err != nil {
			log.Error("could not clear alarm memory", "err", err)
		}
	}()
	return nil
}
