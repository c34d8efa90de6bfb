package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	frida "github.com/wippyai/frida-go"
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/errors"
)

const eventTimeout = 2 * time.Second

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := a.connect()
			if err != nil {
				return err
			}
			defer inv.Close()

			rows := make([][]string, 0, len(inv.devices))
			for _, d := range inv.devices {
				id, err := d.ID()
				if err != nil {
					return err
				}
				name, err := d.Name()
				if err != nil {
					return err
				}
				typ, err := d.Type()
				if err != nil {
					return err
				}
				rows = append(rows, []string{id, typ.String(), name})
			}
			a.styles.table(cmd.OutOrStdout(), []string{"ID", "TYPE", "NAME"}, rows)
			return nil
		},
	}
}

func newPsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List processes on a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd, func(d *frida.Device) error {
				procs, err := d.EnumerateProcesses()
				if err != nil {
					return err
				}
				rows := make([][]string, len(procs))
				for i, p := range procs {
					rows[i] = []string{strconv.FormatUint(uint64(p.PID), 10), p.Name}
				}
				a.styles.table(cmd.OutOrStdout(), []string{"PID", "NAME"}, rows)
				return nil
			})
		},
	}
}

func newSpawnCmd(a *app) *cobra.Command {
	var (
		resume bool
		env    []string
	)

	cmd := &cobra.Command{
		Use:   "spawn PROGRAM [ARGS...]",
		Short: "Spawn a program suspended",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(d *frida.Device) error {
				pid, err := d.Spawn(args[0], args, env)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spawned %s (pid %s)\n",
					args[0], a.styles.id.Render(strconv.FormatUint(uint64(pid), 10)))
				if !resume {
					return nil
				}
				if err := d.Resume(pid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed pid %d\n", pid)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "resume the process after spawning")
	cmd.Flags().StringSliceVarP(&env, "env", "e", nil, "environment entries (KEY=VALUE)")
	return cmd
}

func newKillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kill PID",
		Short: "Kill a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return a.withDevice(cmd, func(d *frida.Device) error {
				if err := d.Kill(pid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Killed pid %d\n", pid)
				return nil
			})
		},
	}
}

func newAttachCmd(a *app) *cobra.Command {
	var (
		scriptPath string
		scriptName string
	)

	cmd := &cobra.Command{
		Use:   "attach PID",
		Short: "Attach to a process, optionally load a script, then detach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}

			var source []byte
			if scriptPath != "" {
				if source, err = os.ReadFile(scriptPath); err != nil {
					return errors.Wrap(errors.PhaseScript, errors.KindInvalidInput, err, "read script")
				}
				if scriptName == "" {
					scriptName = filepath.Base(scriptPath)
				}
			}

			return a.withDevice(cmd, func(d *frida.Device) error {
				out := cmd.OutOrStdout()

				session, err := d.Attach(pid)
				if err != nil {
					return err
				}
				defer session.Close()

				detached := make(chan struct{})
				markDetached := sync.OnceFunc(func() { close(detached) })
				session.Detached.Subscribe(func(*frida.Session, bridge.EventArgs) {
					markDetached()
				})

				id, err := session.ID()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Attached to pid %d (session %s)\n", pid, a.styles.id.Render(id))

				if source != nil {
					script, err := session.CreateScript(scriptName, string(source))
					if err != nil {
						return err
					}
					defer script.Close()
					if err := script.Load(); err != nil {
						return err
					}
					fmt.Fprintf(out, "Loaded script %s\n", scriptName)
				}

				if err := session.Detach(); err != nil {
					return err
				}
				select {
				case <-detached:
					fmt.Fprintln(out, "Detached")
				case <-time.After(eventTimeout):
					a.log.Warn("detached event not received")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "WebAssembly module to load into the session")
	cmd.Flags().StringVar(&scriptName, "name", "", "script name (default is the file name)")
	return cmd
}

// withDevice connects, selects the device named by --device and runs fn.
func (a *app) withDevice(cmd *cobra.Command, fn func(*frida.Device) error) error {
	id, _ := cmd.Flags().GetString("device")

	inv, err := a.connect()
	if err != nil {
		return err
	}
	defer inv.Close()

	d, err := inv.find(id)
	if err != nil {
		return err
	}
	return fn(d)
}

func parsePID(s string) (uint32, error) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil || pid == 0 {
		return 0, errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("invalid pid %q", s))
	}
	return uint32(pid), nil
}
