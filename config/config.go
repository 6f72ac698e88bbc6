package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/babelcloud/gbox/packages/headunit/internal/carlink/core"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables, e.g. HEADUNIT_SETTINGS_PORT
	v.SetEnvPrefix("HEADUNIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("decoder.address", "HEADUNIT_DECODER_ADDRESS", "HEADUNIT_DECODER")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "headunit"),
		"/etc/headunit",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	def := core.DefaultSessionConfig()
	v.SetDefault("session.fps", def.FrameRate)
	v.SetDefault("session.width", def.Width)
	v.SetDefault("session.height", def.Height)
	v.SetDefault("session.media_delay", def.MediaDelayMs)
	v.SetDefault("session.dpi", def.DPI)
	v.SetDefault("session.kiosk", def.Kiosk)
	v.SetDefault("session.camera", def.Camera)
	v.SetDefault("session.microphone", def.Microphone)
	// Zero reloads on the next tick.
	v.SetDefault("session.retry_delay", time.Duration(0))

	for action, key := range core.DefaultKeyBindings() {
		v.SetDefault(bindingKey(action), string(key))
	}

	// Empty listens on every interface so display clients on other hosts
	// can connect.
	v.SetDefault("settings.host", "")
	v.SetDefault("settings.port", 4000)
	v.SetDefault("settings.max_port_attempts", 100)
	v.SetDefault("settings.client_max_attempts", 100)

	v.SetDefault("usb.sysfs_root", "/sys/bus/usb/devices")
	v.SetDefault("usb.dev_root", "/dev/bus/usb")
	v.SetDefault("usb.poll_interval", 2*time.Second)

	v.SetDefault("decoder.address", "unix://"+filepath.Join(xdg.RuntimeDir, "headunit", "decoder.sock"))
	v.SetDefault("decoder.command", []string{})

	v.SetDefault("audio.output_dir", "")
	v.SetDefault("audio.queue_depth", 32)
	v.SetDefault("audio.mic_file", "")

	v.SetDefault("video.output", "")
}

// viper keys are case-insensitive, so bindings are looked up per action.
func bindingKey(action core.Action) string {
	return "bindings." + strings.ToLower(string(action))
}

// BindFlag lets a command line flag override key.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.Errorf("no flag for config key %s", key)
	}
	return errors.Wrapf(v.BindPFlag(key, flag), "failed to bind flag %s", flag.Name)
}

// SetConfigFile reads configuration from path instead of the search paths.
func SetConfigFile(path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// ConfigFileUsed returns the config file in effect, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// SessionConfig builds the initial session configuration.
func SessionConfig() (core.SessionConfig, error) {
	bindings := make(map[core.Action]core.KeyCode, len(core.BindableActions))
	for _, action := range core.BindableActions {
		if key := v.GetString(bindingKey(action)); key != "" {
			bindings[action] = core.KeyCode(key)
		}
	}
	table, err := core.NewKeyBindingTable(bindings)
	if err != nil {
		return core.SessionConfig{}, errors.Wrap(err, "invalid key bindings")
	}

	cfg := core.SessionConfig{
		FrameRate:    v.GetInt("session.fps"),
		Width:        v.GetInt("session.width"),
		Height:       v.GetInt("session.height"),
		MediaDelayMs: v.GetInt("session.media_delay"),
		DPI:          v.GetInt("session.dpi"),
		Kiosk:        v.GetBool("session.kiosk"),
		Camera:       v.GetString("session.camera"),
		Microphone:   v.GetString("session.microphone"),
		KeyBindings:  table,
	}
	if err := cfg.Validate(); err != nil {
		return core.SessionConfig{}, err
	}
	return cfg, nil
}

// GetRetryDelay returns the delay before a failed session reloads.
func GetRetryDelay() time.Duration {
	return v.GetDuration("session.retry_delay")
}

func GetSettingsHost() string {
	return v.GetString("settings.host")
}

// GetSettingsPort returns the first port the settings server tries.
func GetSettingsPort() int {
	return v.GetInt("settings.port")
}

func GetSettingsMaxPortAttempts() int {
	return v.GetInt("settings.max_port_attempts")
}

func GetClientMaxAttempts() int {
	return v.GetInt("settings.client_max_attempts")
}

func GetSysfsRoot() string {
	return v.GetString("usb.sysfs_root")
}

func GetDevRoot() string {
	return v.GetString("usb.dev_root")
}

func GetPollInterval() time.Duration {
	return v.GetDuration("usb.poll_interval")
}

// GetDecoderAddress returns the decoder helper address, unix:// or tcp://.
func GetDecoderAddress() string {
	return v.GetString("decoder.address")
}

// GetDecoderCommand returns the helper command the head unit launches
// itself. Empty means the helper is managed elsewhere.
func GetDecoderCommand() []string {
	return v.GetStringSlice("decoder.command")
}

// GetAudioOutputDir returns where playback is recorded as wav files.
// Empty discards playback.
func GetAudioOutputDir() string {
	return v.GetString("audio.output_dir")
}

func GetAudioQueueDepth() int {
	return v.GetInt("audio.queue_depth")
}

// GetMicrophoneFile returns a wav file replayed as microphone input.
func GetMicrophoneFile() string {
	return v.GetString("audio.mic_file")
}

// GetVideoOutput returns the file the H.264 stream is written to. "-" is
// stdout, empty discards video.
func GetVideoOutput() string {
	return v.GetString("video.output")
}
