package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vesper-recorder/internal/app"
	"vesper-recorder/internal/audio"
	"vesper-recorder/internal/platform/config"
	"vesper-recorder/internal/platform/logger"
	"vesper-recorder/internal/recorder"
	"vesper-recorder/internal/schedule"
)

const timeLayout = "2006-01-02 15:04:05 MST"

var rootCmd = &cobra.Command{
	Use:           "recorder",
	Short:         "Scheduled audio recorder",
	Long:          "Records audio from an input device to .wav files according to a schedule, and serves its status over HTTP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record according to the station schedule",
	Args:  cobra.NoArgs,
	RunE:  runRecorder,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the available audio input devices",
	Args:  cobra.NoArgs,
	RunE:  listDevices,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the next scheduled recordings",
	Args:  cobra.NoArgs,
	RunE:  showSchedule,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "recorder.yaml", "Station configuration file path")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json or text)")
	flags.String("log-file", "", "Also write logs to this file, rotating it as it grows")
	scheduleCmd.Flags().IntP("count", "n", 10, "Number of recordings to print")

	for _, name := range []string{"config", "log-level", "log-format", "log-file"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind %s flag: %v\n", name, err)
		}
	}
	viper.SetEnvPrefix("RECORDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, devicesCmd, scheduleCmd)
}

func newLogger() *slog.Logger {
	return logger.New(
		viper.GetString("log-level"),
		viper.GetString("log-format"),
		viper.GetString("log-file"),
	)
}

func runRecorder(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	cfg, err := config.LoadFile(viper.GetString("config"))
	if err != nil {
		return err
	}

	driver, err := audio.Open()
	if err != nil {
		return err
	}
	defer driver.Close()

	a, err := app.New(cfg, driver, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func listDevices(cmd *cobra.Command, _ []string) error {
	driver, err := audio.Open()
	if err != nil {
		return err
	}
	defer driver.Close()

	devices, err := driver.InputDevices()
	if err != nil {
		return err
	}
	def := -1
	if d, err := driver.DefaultInputDevice(); err == nil {
		def = d.Index
	}
	return printDevices(cmd.OutOrStdout(), devices, def)
}

// printDevices writes one line per device, marking the default with an
// asterisk.
func printDevices(w io.Writer, devices []recorder.InputDevice, def int) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No input devices found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tCHANNELS\tDEFAULT RATE")
	for _, d := range devices {
		mark := ""
		if d.Index == def {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s%d\t%s\t%d\t%g\n", mark, d.Index, d.Name, d.NumInputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}

func showSchedule(cmd *cobra.Command, _ []string) error {
	count, err := cmd.Flags().GetInt("count")
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(viper.GetString("config"))
	if err != nil {
		return err
	}
	sched, err := app.CompileSchedule(cfg, newLogger())
	if err != nil {
		return err
	}
	return printSchedule(cmd.OutOrStdout(), sched, time.Now(), count, cfg.Location())
}

// printSchedule writes the first count intervals that end after from.
func printSchedule(w io.Writer, sched *schedule.Schedule, from time.Time, count int, loc *time.Location) error {
	n := 0
	if count > 0 {
		for iv := range sched.Intervals(from, time.Time{}) {
			if _, err := fmt.Fprintf(w, "%s  %s\n",
				iv.Start.In(loc).Format(timeLayout), iv.End.In(loc).Format(timeLayout)); err != nil {
				return err
			}
			n++
			if n == count {
				break
			}
		}
	}
	if n == 0 {
		_, err := fmt.Fprintln(w, "No upcoming recordings.")
		return err
	}
	return nil
}

func main() {
	_ = config.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
