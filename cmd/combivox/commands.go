package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	combivox "github.com/caarlos0/homekit-combivox"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	host        string
	port        string
	code        string
	revision    string
	catalogFile string
	timeout     time.Duration
	debug       bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", os.Getenv("COMBIVOX_HOST"), "address of the panel")
	rootCmd.PersistentFlags().StringVar(&port, "port", "80", "port of the panel web interface")
	rootCmd.PersistentFlags().StringVar(&code, "code", os.Getenv("COMBIVOX_CODE"), "user access code, defaults to $COMBIVOX_CODE")
	rootCmd.PersistentFlags().StringVar(&revision, "revision", "auto", "status string revision: auto, a or b")
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "catalog file written by the catalog command, skips the download")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per request timeout")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug messages")

	armCmd.Flags().String("mode", "normal", "arm mode: normal, forced or immediate")
	watchCmd.Flags().Duration("interval", 10*time.Second, "polling interval")
	decodeCmd.Flags().Int("zones", 0, "decode zones 1 to n, all of them when 0")
	decodeCmd.Flags().Int("areas", 8, "number of areas")
	catalogCmd.Flags().StringP("output", "o", "", "write the catalog to this file")

	rootCmd.AddCommand(
		statusCmd,
		watchCmd,
		decodeCmd,
		armCmd,
		disarmCmd,
		bypassCmd,
		macroCmd,
		outputCmd,
		clearMemoryCmd,
		catalogCmd,
		infoCmd,
		passwordCmd,
	)
}


// getClient creates a client and logs in. The catalog is downloaded unless
// given with --catalog, or withCatalog is false.
func getClient(cmd *cobra.Command, withCatalog bool) (*combivox.Client, error) {
	if host == "" {
		return nil, errors.New("--host is required")
	}
	rev, err := combivox.ParseRevision(revision)
	if err != nil {
		return nil, err
	}
	opts := []combivox.Option{
		combivox.WithRevision(rev),
		combivox.WithTimeout(timeout),
		combivox.WithLogger(log),
	}
	if catalogFile != "" {
		bts, err := os.ReadFile(catalogFile)
		if err != nil {
			return nil, fmt.Errorf("could not read catalog: %w", err)
		}
		var cat combivox.Catalog
		if err := yaml.Unmarshal(bts, &cat); err != nil {
			return nil, fmt.Errorf("could not parse catalog: %w", err)
		}
		opts = append(opts, combivox.WithCatalog(cat))
	}
	cli, err := combivox.New(host, port, code, opts...)
	if err != nil {
		return nil, err
	}
	if withCatalog {
		err = cli.Connect(cmd.Context())
	} else {
		err = cli.Reauthenticate(cmd.Context())
	}
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			if s == "" {
				continue
			}
			id, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", s)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printStatus(w io.Writer, status combivox.Status, cat combivox.Catalog) {
	fmt.Fprintf(w, "Revision: %s (marker at %d)\n", status.Revision, status.Marker)
	if !status.PanelTime.IsZero() {
		fmt.Fprintf(w, "Panel time: %s\n", status.PanelTime.Format(time.DateTime))
	}
	if status.HasAlarm {
		fmt.Fprintf(w, "Alarm: %s\n", status.Alarm)
	}
	if status.HasAnomaly {
		fmt.Fprintf(w, "Anomaly: %s\n", status.Anomaly)
	}
	if status.GSM.Available {
		fmt.Fprintf(w, "GSM: %s, %s, %d%%\n", status.GSM.Operator, status.GSM.Status, status.GSM.Percent)
	}

	fmt.Fprintln(w, "\nAreas:")
	for _, area := range status.Areas {
		fmt.Fprintf(w, "  %2d %-20s armed=%s\n", area.Number, cat.AreaName(area.Number), yesNo(area.Armed))
	}

	fmt.Fprintln(w, "\nZones:")
	for _, zone := range status.Zones {
		fmt.Fprintf(
			w, "  %3d %-20s open=%-3s bypassed=%-3s memory=%s\n",
			zone.Number, cat.ZoneName(zone.Number),
			yesNo(zone.Open), yesNo(zone.Bypassed()), yesNo(zone.AlarmMemory),
		)
	}

	if len(status.Commands) == 0 {
		return
	}
	fmt.Fprintln(w, "\nCommands:")
	for _, l := range cat.Commands {
		if on, ok := status.Command(l.ID); ok {
			fmt.Fprintf(w, "  %3d %-20s on=%s\n", l.ID, l.Name, yesNo(on))
		}
	}
	for _, m := range status.Modules {
		if !m.A.Known() && !m.B.Known() {
			continue
		}
		fmt.Fprintf(w, "  module %2d: %d=%s %d=%s\n", m.Number, m.FirstCommand, m.A, m.FirstCommand+1, m.B)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of areas, zones and outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient(cmd, true)
		if err != nil {
			return err
		}
		defer cli.Close()

		status, err := cli.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), status, cli.Catalog())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the panel and log every change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		cli, err := getClient(cmd, true)
		if err != nil {
			return err
		}
		defer cli.Close()
		cat := cli.Catalog()

		var last combivox.Status
		var seen bool
		poller := combivox.NewPoller(cli, interval, combivox.WithPollerLogger(log))
		poller.Subscribe(func(u combivox.Update) {
			if u.Err != nil {
				log.Warn("poll failed", "failures", u.Failures, "unavailable", u.Unavailable, "err", u.Err)
				return
			}
			logChanges(last, u.Status, seen, cat)
			last, seen = u.Status, true
		})
		poller.Start(cmd.Context())
		<-cmd.Context().Done()
		poller.Stop()
		return nil
	},
}

func logChanges(prev, cur combivox.Status, seen bool, cat combivox.Catalog) {
	if !seen || prev.Alarm != cur.Alarm {
		log.Info("alarm", "state", cur.Alarm)
	}
	if !seen || prev.AreasMask != cur.AreasMask {
		log.Info("areas", "armed", cur.ArmedAreas)
	}
	for _, zone := range cur.Zones {
		old, ok := prev.Zone(zone.Number)
		if seen && ok && old == zone {
			continue
		}
		if !seen && !zone.Open && zone.Included && !zone.AlarmMemory {
			continue
		}
		log.Info(
			"zone",
			"zone", zone.Number,
			"name", cat.ZoneName(zone.Number),
			"open", zone.Open,
			"bypassed", zone.Bypassed(),
			"memory", zone.AlarmMemory,
		)
	}
	for id, on := range cur.Commands {
		if old, ok := prev.Command(id); seen && ok && old == on {
			continue
		}
		if !seen && !on {
			continue
		}
		log.Info("output", "command", id, "name", cat.CommandName(id), "on", on)
	}
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a status string or a status9.xml response, from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zones, _ := cmd.Flags().GetInt("zones")
		areas, _ := cmd.Flags().GetInt("areas")
		rev, err := combivox.ParseRevision(revision)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		bts, err := io.ReadAll(in)
		if err != nil {
			return err
		}

		var ids []int
		for i := 1; i <= zones; i++ {
			ids = append(ids, i)
		}
		dec := combivox.NewDecoder(rev)
		dec.Logger = log

		var status combivox.Status
		if bytes.Contains(bts, []byte("<si>")) {
			status, err = dec.DecodeXML(bts, ids, areas)
		} else {
			status, err = dec.Decode(string(bytes.TrimSpace(bts)), ids, areas)
		}
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), status, combivox.Catalog{})
		return nil
	},
}

var armCmd = &cobra.Command{
	Use:   "arm [areas...]",
	Short: "Arm areas",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		areas, err := parseIDs(args)
		if err != nil {
			return err
		}
		s, _ := cmd.Flags().GetString("mode")
		mode, err := combivox.ParseArmMode(s)
		if err != nil {
			return err
		}
		cli, err := getClient(cmd, true)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.Arm(cmd.Context(), areas, mode)
	},
}

var disarmCmd = &cobra.Command{
	Use:   "disarm [areas...]",
	Short: "Disarm areas, all of them when none are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		areas, err := parseIDs(args)
		if err != nil {
			return err
		}
		cli, err := getClient(cmd, true)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.Disarm(cmd.Context(), areas)
	},
}

var bypassCmd = &cobra.Command{
	Use:   "bypass [zone]",
	Short: "Toggle the bypass of a zone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid zone %q", args[0])
		}
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.ToggleBypass(cmd.Context(), zone)
	},
}

var macroCmd = &cobra.Command{
	Use:   "macro [id]",
	Short: "Execute a macro",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid macro %q", args[0])
		}
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.ExecuteMacro(cmd.Context(), id)
	},
}

var outputCmd = &cobra.Command{
	Use:       "output [id] [on|off]",
	Short:     "Turn a command output on or off",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid command %q", args[0])
		}
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("invalid state %q, must be on or off", args[1])
		}
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.SetOutput(cmd.Context(), id, on)
	},
}

var clearMemoryCmd = &cobra.Command{
	Use:   "clear-memory",
	Short: "Clear the alarm memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()
		return cli.ClearAlarmMemory(cmd.Context())
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Download the programmed zones, areas, macros and commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()

		cat, err := cli.LoadCatalog(cmd.Context())
		if err != nil {
			return err
		}
		bts, err := yaml.Marshal(cat)
		if err != nil {
			return err
		}
		if out == "" {
			_, err = cmd.OutOrStdout().Write(bts)
			return err
		}
		return os.WriteFile(out, bts, 0o644)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the panel model, active trouble and alarm memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient(cmd, false)
		if err != nil {
			return err
		}
		defer cli.Close()
		w := cmd.OutOrStdout()

		info, err := cli.DeviceInfo(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Model: %s\n", info.Variant)

		trouble, ok, err := cli.ActiveTrouble(cmd.Context())
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(w, "Trouble: %s\n", trouble)
		} else {
			fmt.Fprintln(w, "Trouble: none")
		}

		entries, err := cli.AlarmMemoryLog(cmd.Context())
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(w, "Alarm memory %s: %s\n", e.ID, e.Message)
		}
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Derive a login password and token for the access code, without contacting the panel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := combivox.NewCredential(
			code,
			combivox.DefaultProtocol(),
			rand.New(rand.NewSource(time.Now().UnixNano())),
		)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Username: %s\nPassword: %s\nToken:    %s\n", cred.Username, cred.Password, cred.Token)
		return nil
	},
}
