package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/babelcloud/gbox/packages/headunit/config"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/audio"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/decode"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/render"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/session"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/settings"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/usb"
	"github.com/babelcloud/gbox/packages/headunit/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the head unit",
		Long: `Run the head unit: wait for the accessory, start a session through the decoder helper
and serve settings to display clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHeadunit(ctx, cmd.OutOrStdout())
		},
		Example: `  # Run with the decoder helper on its default socket
  headunit run

  # Write the video stream to a file and record playback
  headunit run --video-output session.h264 --audio-output-dir ./audio

  # Serve settings on another port
  headunit run --port 4100`,
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", 4000, "First port the settings server tries")
	flags.String("decoder", "", "Decoder helper address (unix:///path or tcp://host:port)")
	flags.String("video-output", "", "Write the H.264 stream to this file, - for stdout")
	flags.String("audio-output-dir", "", "Record playback to wav files in this directory")
	flags.String("mic-file", "", "Replay this wav file as microphone input")

	for key, name := range map[string]string{
		"settings.port":    "port",
		"decoder.address":  "decoder",
		"video.output":     "video-output",
		"audio.output_dir": "audio-output-dir",
		"audio.mic_file":   "mic-file",
	} {
		if err := config.BindFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func runHeadunit(ctx context.Context, out io.Writer) error {
	logger := util.GetLogger()

	cfg, err := config.SessionConfig()
	if err != nil {
		return errors.Wrap(err, "invalid session configuration")
	}
	channel := settings.NewChannel()
	channel.Publish(cfg)

	reloader := newProcessReloader()

	address := config.GetDecoderAddress()
	engine, err := decode.NewRemoteEngine(address)
	if err != nil {
		return err
	}
	if command := config.GetDecoderCommand(); len(command) > 0 {
		helper, err := decode.StartHelper(command, address)
		if err != nil {
			return err
		}
		defer func() {
			if err := helper.Stop(); err != nil {
				logger.Warn("Failed to stop decoder helper", "error", err)
			}
		}()
		reloader.OnReload(helper.Stop)
	}

	video, closeVideo, err := openVideoOutput(config.GetVideoOutput(), out)
	if err != nil {
		return err
	}
	defer closeVideo()
	reloader.OnReload(func() error {
		closeVideo()
		return nil
	})
	surface := render.NewStreamSurface(video, cfg.Width, cfg.Height)

	output, err := openAudioOutput(config.GetAudioOutputDir())
	if err != nil {
		return err
	}
	var mic audio.Input
	if path := config.GetMicrophoneFile(); path != "" {
		mic = audio.WavInput{Path: path, Format: audio.MicrophoneFormat, Loop: true}
	}

	watcher := usb.NewWatcher(usb.Config{
		SysfsRoot:    config.GetSysfsRoot(),
		DevRoot:      config.GetDevRoot(),
		PollInterval: config.GetPollInterval(),
	})

	server := settings.NewServer(channel, settings.ServerConfig{
		Host:            config.GetSettingsHost(),
		Port:            config.GetSettingsPort(),
		MaxPortAttempts: config.GetSettingsMaxPortAttempts(),
	})

	orch, err := session.New(session.Options{
		Settings:        channel,
		Finder:          watcher,
		Workers:         session.ProxyWorkers{Engine: engine},
		Surface:         surface,
		AudioOutput:     output,
		AudioInput:      mic,
		AudioQueueDepth: config.GetAudioQueueDepth(),
		Reloader:        reloader,
		Notifier:        server,
		RetryDelay:      config.GetRetryDelay(),
		OnError: func(err error) {
			switch {
			case errors.Is(err, core.ErrDeviceNotFound):
				logger.Info("No accessory attached", "error", err)
			case errors.Is(err, core.ErrPermissionDenied):
				logger.Error("Accessory access denied, check udev rules", "error", err)
			default:
				logger.Error("Session error", "error", err)
			}
		},
		OnCommand: func(code core.CommandCode) {
			logger.Debug("Phone command", "command", code.String())
		},
	})
	if err != nil {
		return err
	}

	server.SetInputHandler(orch)
	server.OnStream(func(data json.RawMessage) {
		logger.Debug("Stream message from display", "size", len(data))
	})
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Close()
	reloader.OnReload(server.Close)

	fmt.Fprintf(out, "%s %s\n", color.GreenString("Head unit running, settings on"),
		color.CyanString("ws://%s/", net.JoinHostPort(settings.ReachableHost(config.GetSettingsHost()), strconv.Itoa(server.Port()))))
	fmt.Fprintf(out, "Press %s to stop.\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("USB watcher stopped", "error", err)
		}
	})
	wg.Go(func() {
		orch.Run(ctx)
	})
	wg.Go(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-watcher.Events():
				switch ev.Kind {
				case usb.Attached:
					orch.Attach(ev.Device)
				case usb.Detached:
					orch.Detach(ev.Device)
				}
			}
		}
	})
	wg.Wait()

	logger.Info("Head unit stopped", "drawn", surface.Frames())
	return nil
}

func openVideoOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	switch path {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create video output %s", path)
	}
	return f, func() { f.Close() }, nil
}

func openAudioOutput(dir string) (audio.Output, error) {
	if dir == "" {
		return &audio.NullOutput{}, nil
	}
	return audio.NewWavOutput(dir)
}
