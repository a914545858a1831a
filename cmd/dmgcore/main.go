package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/kestrelcore/dmgcore/jeebie"
	"github.com/kestrelcore/dmgcore/jeebie/timing"
	"github.com/kestrelcore/dmgcore/jeebie/video"
)

func main() {
	app := cli.NewApp()
	app.Name = "dmgcore"
	app.Description = "Headless Game Boy emulation core runner"
	app.Usage = "dmgcore [options] <ROM file>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rom",
			Usage: "Path to the ROM file",
		},
		cli.StringFlag{
			Name:  "boot-rom",
			Usage: "Path to an optional 256-byte boot ROM",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run",
			Value: 60,
		},
		cli.IntFlag{
			Name:  "cycles",
			Usage: "Run for N T-cycles instead of frames (overrides --frames)",
			Value: 0,
		},
		cli.BoolFlag{
			Name:  "realtime",
			Usage: "Pace frames at real hardware speed instead of running flat out",
		},
		cli.BoolFlag{
			Name:  "save-sram",
			Usage: "Write battery RAM to the .sram sidecar when done",
		},
		cli.StringFlag{
			Name:  "screenshot",
			Usage: "Write the final frame to this PNG file",
		},
		cli.IntFlag{
			Name:  "mute-channel",
			Usage: "Mute one APU channel (1-4) for the whole run",
			Value: 0,
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
	}
	app.Action = runEmulator

	if err := app.Run(os.Args); err != nil {
		slog.Error("Error running emulator", "error", err)
		os.Exit(1)
	}
}

func runEmulator(c *cli.Context) error {
	configureLogging(c.String("log-level"))

	romPath := c.String("rom")
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	emu, err := jeebie.NewWithFile(romPath)
	if err != nil {
		return err
	}

	if bootPath := c.String("boot-rom"); bootPath != "" {
		boot, err := os.ReadFile(bootPath)
		if err != nil {
			return fmt.Errorf("reading boot ROM: %w", err)
		}
		emu.LoadBootROM(boot)
		emu.Reset(false)
	}

	if ch := c.Int("mute-channel"); ch >= 1 && ch <= 4 {
		emu.GetMMU().APU.ToggleChannel(ch - 1)
	}

	if cycles := c.Int("cycles"); cycles > 0 {
		ran := emu.RunCycles(cycles)
		slog.Info("Run complete", "cycles", ran, "instructions", emu.GetInstructionCount())
	} else {
		limiter := timing.NewNoOpLimiter()
		if c.Bool("realtime") {
			limiter = timing.NewAdaptiveLimiter()
		}

		frames := c.Int("frames")
		for i := 0; i < frames; i++ {
			emu.RunUntilFrame()
			limiter.WaitForNextFrame()
		}
		slog.Info("Run complete", "frames", frames, "instructions", emu.GetInstructionCount())
	}

	if path := c.String("screenshot"); path != "" {
		if err := writeScreenshot(path, emu.GetCurrentFrame()); err != nil {
			return err
		}
		slog.Info("Wrote screenshot", "path", path)
	}

	if c.Bool("save-sram") {
		if err := emu.SaveSRAM(); err != nil {
			return err
		}
	}

	return nil
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func writeScreenshot(path string, fb *video.FrameBuffer) error {
	img := image.NewRGBA(image.Rect(0, 0, video.FramebufferWidth, video.FramebufferHeight))
	data := fb.ToBinaryData()
	for i := 0; i < len(data); i += 4 {
		px := i / 4
		img.SetRGBA(px%video.FramebufferWidth, px/video.FramebufferWidth, color.RGBA{
			R: data[i], G: data[i+1], B: data[i+2], A: data[i+3],
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating screenshot: %w", err)
	}
	defer f.Close()
	return png.Encode(f, img)
}
