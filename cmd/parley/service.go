package main

import (
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/app"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service <action>",
		Short: "Run parley under the system service manager",
		Long: `Install, remove, or control parley as a system service
(systemd, launchd, or the Windows service manager).

Actions: install, uninstall, start, stop, restart, run. The "run" action
is what the manager itself executes; it is also usable interactively.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: append(service.ControlAction[:], "run"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcConfig := &service.Config{
				Name:        "parley",
				DisplayName: "Parley chat client",
				Description: "Keeps a parley account connected and posts scheduled reminders.",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			svc, err := service.New(&program{cfgPath: cfgPath}, svcConfig)
			if err != nil {
				return err
			}
			if args[0] == "run" {
				return svc.Run()
			}
			return service.Control(svc, args[0])
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// program adapts the client lifecycle to the service manager callbacks.
type program struct {
	cfgPath string
	done    chan struct{}
	err     error
}

func (p *program) Start(service.Service) error {
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.err = app.Run(app.RunParams{
			ConfigPath: p.cfgPath,
			Version:    version,
			Commit:     commit,
			Date:       date,
		})
	}()
	return nil
}

// Stop waits for the run loop to drain. The loop already shuts down on
// the termination signal the manager delivered to the process.
func (p *program) Stop(service.Service) error {
	select {
	case <-p.done:
		return p.err
	case <-time.After(10 * time.Second):
		return nil
	}
}
