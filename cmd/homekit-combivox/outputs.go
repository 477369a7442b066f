package main

import (
	"context"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	combivox "github.com/caarlos0/homekit-combivox"
)

// momentary is how long buttons and macros stay on in the Home app.
const momentary = time.Second

// Output is a panel command exposed as a switch.
type Output struct {
	*accessory.Switch
	ID     int
	Button bool
}

func (o *Output) Update(status combivox.Status) {
	if o.Button {
		return
	}
	on, ok := status.Command(o.ID)
	if !ok {
		return
	}
	outputGauge.WithLabelValues(o.Name()).Set(boolToFloat(on))
	if o.Switch.Switch.On.Value() != on {
		log.Info("output", "command", o.ID, "on", on)
		o.Switch.Switch.On.SetValue(on)
	}
}

type Outputs []*Output

func (outputs Outputs) Update(status combivox.Status) {
	for _, o := range outputs {
		o.Update(status)
	}
}

func setupOutputs(execute Executor, cfg Config, cat combivox.Catalog) Outputs {
	var outputs Outputs
	add := func(id int, button bool) {
		o := &Output{
			ID:     id,
			Button: button,
			Switch: accessory.NewSwitch(accessory.Info{
				Name:         cat.CommandName(id),
				Manufacturer: manufacturer,
			}),
		}
		o.Id = uint64(400 + len(outputs))
		o.Switch.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
			on, ok := value.(bool)
			if !ok {
				return nil, hap.JsonStatusInvalidValueInRequest
			}
			if button && !on {
				return nil, hap.JsonStatusSuccess
			}
			if err := execute(func(ctx context.Context, cli *combivox.Client) error {
				return cli.SetOutput(ctx, id, on)
			}); err != nil {
				log.Error("could not set output", "command", id, "on", on, "err", err)
				return nil, hap.JsonStatusResourceBusy
			}
			if button {
				release(o.Switch)
			}
			return nil, hap.JsonStatusSuccess
		}
		outputs = append(outputs, o)
	}
	for _, id := range cfg.Switches {
		add(id, false)
	}
	for _, id := range cfg.Buttons {
		add(id, true)
	}
	return outputs
}

// setupMacros exposes each macro as a momentary switch.
func setupMacros(execute Executor, cfg Config, cat combivox.Catalog) []*accessory.Switch {
	var macros []*accessory.Switch
	for i, id := range cfg.Macros {
		a := accessory.NewSwitch(accessory.Info{
			Name:         cat.MacroName(id),
			Manufacturer: manufacturer,
		})
		a.Id = uint64(500 + i)
		a.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
			if on, _ := value.(bool); !on {
				return nil, hap.JsonStatusSuccess
			}
			log.Info("execute macro", "macro", id, "name", cat.MacroName(id))
			if err := execute(func(ctx context.Context, cli *combivox.Client) error {
				return cli.ExecuteMacro(ctx, id)
			}); err != nil {
				log.Error("could not execute macro", "macro", id, "err", err)
				return nil, hap.JsonStatusResourceBusy
			}
			release(a)
			return nil, hap.JsonStatusSuccess
		}
		macros = append(macros, a)
	}
	return macros
}

// setupMemorySwitch is on while any zone holds an alarm memory, turning it
// off clears the memory.
func setupMemorySwitch(execute Executor) *accessory.Switch {
	a := accessory.NewSwitch(accessory.Info{
		Name:         "Alarm Memory",
		Manufacturer: manufacturer,
	})
	a.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
		if on, _ := value.(bool); on {
			return nil, hap.JsonStatusInvalidValueInRequest
		}
		log.Info("clearing alarm memory")
		if err := execute(func(ctx context.Context, cli *combivox.Client) error {
			return cli.ClearAlarmMemory(ctx)
		}); err != nil {
			log.Error("could not clear alarm memory", "err", err)
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}
	return a
}

func hasAlarmMemory(status combivox.Status) bool {
	for _, z := range status.Zones {
		if z.AlarmMemory {
			return true
		}
	}
	return false
}

// release turns a momentary switch back off.
func release(a *accessory.Switch) {
	go func() {
		time.Sleep(momentary)
		a.Switch.On.SetValue(false)
	}()
}
