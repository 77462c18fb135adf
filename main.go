package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scanner-voice/control"
	"scanner-voice/listener"
	"scanner-voice/voice_config"
	"scanner-voice/voice_output"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "scanner-voice",
		Short:         "Offline voice control for a scanner unit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := bindSettings(root, v); err != nil {
		panic(err)
	}

	// setup builds the shared components for a subcommand.
	setup := func(cmd *cobra.Command, withFileLog bool) (*app, error) {
		settings, err := loadSettings(cmd, v)
		if err != nil {
			return nil, err
		}
		return newApp(settings, withFileLog)
	}

	root.AddCommand(
		runCmd(setup),
		showCmd(setup),
		startCmd(setup),
		stopCmd(setup),
		modeCmd(setup),
		scriptCmd(setup),
		dispatchCmd(setup),
		askCmd(setup),
		sayCmd(setup),
		listenOnceCmd(setup),
	)

	return root
}

type setupFunc func(cmd *cobra.Command, withFileLog bool) (*app, error)

func runCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the voice loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}

			stt, err := a.newSpeechToText()
			if err != nil {
				return err
			}

			capture, cleanup, err := a.newCapture(stt)
			if err != nil {
				return err
			}
			defer cleanup()

			output, err := a.newOutput()
			if err != nil {
				return err
			}

			llmClient, err := a.newLLM()
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			voice, err := listener.New(&listener.Config{
				Store:     a.store,
				Capture:   capture,
				Output:    output,
				LLMClient: llmClient,
				Services:  a.services,
				Engine:    stt,
				Identity:  a.identity(),
				Logger:    a.log,
				Metrics:   listener.NewMetrics(registry),
			})
			if err != nil {
				return fmt.Errorf("error with listener.New: %w", err)
			}

			if a.settings.MetricsAddr != "" {
				stop := serveMetrics(a, registry)
				defer stop()
			}

			return voice.ListenLoop(cmd.Context())
		},
	}
}

func serveMetrics(a *app, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              a.settings.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.WithField("addr", server.Addr).Info("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics listener")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func showCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the voice config document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			cfg, err := a.store.Load()
			if err != nil {
				return err
			}

			data, err := voice_config.Encode(cfg)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), string(data))
			fmt.Fprintf(cmd.OutOrStdout(), "identity: %q\n", a.identity())

			return nil
		},
	}
}

func startCmd(setup setupFunc) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Set the start mode and start the voice service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			detail, err := a.control.Start(cmd.Context(), control.StartArgs{Mode: voice_config.Mode(mode)})
			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return err
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(voice_config.ModeNameListen), "deaf or name_listen")

	return cmd
}

func stopCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the voice service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			detail, err := a.control.Stop(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return err
		},
	}
}

func modeCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <deaf|name_listen>",
		Short: "Request a mode change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			detail, err := a.control.SetMode(voice_config.Mode(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return nil
		},
	}
}

func scriptCmd(setup setupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Replace the conversation script",
	}

	set := func(cmd *cobra.Command, entries []voice_config.ScriptEntry) error {
		a, err := setup(cmd, false)
		if err != nil {
			return err
		}

		detail, err := a.control.SetScript(entries)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), detail)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every script entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return set(cmd, nil)
			},
		},
		&cobra.Command{
			Use:   "demo",
			Short: "Install the demo script",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return set(cmd, control.DemoScript)
			},
		},
		&cobra.Command{
			Use:   "set <file.json>",
			Short: "Install a script from a JSON list of {phrase, reply, action}",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := afero.ReadFile(afero.NewOsFs(), args[0])
				if err != nil {
					return err
				}

				var raw any
				if err := json.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}

				entries, err := control.ScriptFrom(raw)
				if err != nil {
					return err
				}

				return set(cmd, entries)
			},
		},
	)

	return cmd
}

func dispatchCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <action> [args-json]",
		Short: "Run a remote control action locally",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			actionArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &actionArgs); err != nil {
					return fmt.Errorf("parse args: %w", err)
				}
			}

			detail, err := a.control.Dispatch(cmd.Context(), args[0], actionArgs)
			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return err
		},
	}
}

func askCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one utterance to the LLM and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			cfg, err := a.store.Load()
			if err != nil {
				return err
			}

			client, err := a.newLLM()
			if err != nil {
				return err
			}

			reply, err := client.Exchange(cmd.Context(), cfg.LLM, strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func sayCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Beep, then speak text through the TTS script",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			cfg, err := a.store.Load()
			if err != nil {
				return err
			}

			output, err := a.newOutput()
			if err != nil {
				return err
			}

			detail, err := output.Beep(cmd.Context(), voice_output.DefaultBeep)
			if err != nil {
				a.log.WithError(err).Warn("beep failed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), detail)
			}

			detail, err = output.Say(cmd.Context(), strings.Join(args, " "), voice_output.SayOptionsFrom(cfg))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), detail)
			return nil
		},
	}
}

func listenOnceCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "listen-once",
		Short: "Record one chunk and print what was recognized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}

			cfg, err := a.store.Load()
			if err != nil {
				return err
			}

			stt, err := a.newSpeechToText()
			if err != nil {
				return err
			}

			capture, cleanup, err := a.newCapture(stt)
			if err != nil {
				return err
			}
			defer cleanup()

			transcript, err := capture.CaptureAndTranscribe(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "raw:  %q\nnorm: %q\n", transcript.Raw, transcript.Normalized)
			return nil
		},
	}
}
