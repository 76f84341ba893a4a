// Command wchisp flashes and inspects WCH CH32V/CH32F/CH5xx/CH32X0xx
// microcontrollers through their USB or UART in-system-programmer
// bootloader.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ch32-rs/wchisp/internal/config"
	"github.com/ch32-rs/wchisp/pkg/wchisp"
)

const defaultConfigFileName = "wchisp.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to config yaml (optional)")
	transportKind := flag.String("transport", "", "usb or serial, overrides config")
	port := flag.String("port", "", "serial port path, overrides config")
	portIndex := flag.Int("port-index", -1, "serial port index from list-ports, alternative to -port")
	expectChip := flag.String("chip", "", "expect the identified chip's name to contain this substring")
	yes := flag.Bool("yes", false, "skip confirmation prompts for destructive operations")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("usage: wchisp [flags] <command> [args...]\ncommands: list-ports, info, flash, verify, erase, read-eeprom, write-eeprom, config-dump, config-reset, enable-debug, disable-debug, unprotect, reset")
	}
	cmd, rest := args[0], args[1:]

	if cmd == "list-ports" {
		ports, err := wchisp.ScanPorts()
		if err != nil {
			log.Fatalf("list-ports failed: %v", err)
		}
		for i, p := range ports {
			fmt.Printf("%d: %s\n", i, p)
		}
		return
	}

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	} else if fileExists(defaultConfigFileName) {
		var err error
		cfg, err = config.Load(defaultConfigFileName)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	} else {
		cfg = &config.Config{}
	}

	if *transportKind != "" {
		cfg.Transport.Kind = *transportKind
	} else if *portIndex >= 0 {
		cfg.Transport.Kind = "serial"
	}
	if *port != "" {
		cfg.Transport.Port = *port
	}
	if *expectChip != "" {
		cfg.Chip.ExpectName = *expectChip
	}

	transport, err := openTransport(cfg, *portIndex)
	if err != nil {
		log.Fatalf("open transport failed: %v", err)
	}
	defer transport.Close()

	cat, err := wchisp.LoadCatalog()
	if err != nil {
		log.Fatalf("load chip catalog failed: %v", err)
	}

	link := wchisp.NewLink(transport)
	sess, err := wchisp.Open(link, cat)
	if err != nil {
		log.Fatalf("open session failed: %v", err)
	}
	if err := sess.ExpectChipName(cfg.Chip.ExpectName); err != nil {
		log.Fatalf("chip identity check failed: %v", err)
	}

	ctx := context.Background()
	if err := dispatch(ctx, sess, cmd, rest, cfg, *yes); err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func dispatch(ctx context.Context, sess *wchisp.Session, cmd string, args []string, cfg *config.Config, yes bool) error {
	switch cmd {
	case "info":
		printInfo(sess.Info())
		return nil

	case "flash":
		path := flashImagePath(args, cfg)
		if path == "" {
			return fmt.Errorf("no image file given (pass it as an argument or set flash.image_file in config)")
		}
		if !confirm(yes, fmt.Sprintf("erase and program %s", sess.Chip.Name)) {
			return fmt.Errorf("aborted")
		}
		image, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := sess.Flash(ctx, image); err != nil {
			return err
		}
		shouldVerify := cfg.Flash.Verify == nil || *cfg.Flash.Verify
		if shouldVerify {
			if err := sess.Verify(ctx, image); err != nil {
				return err
			}
			fmt.Println("verify ok")
		}
		return sess.End(0)

	case "verify":
		path := flashImagePath(args, cfg)
		if path == "" {
			return fmt.Errorf("no image file given")
		}
		image, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := sess.Verify(ctx, image); err != nil {
			return err
		}
		fmt.Println("verify ok")
		return sess.End(0)

	case "erase":
		if !confirm(yes, fmt.Sprintf("erase all code flash on %s", sess.Chip.Name)) {
			return fmt.Errorf("aborted")
		}
		if err := sess.EraseCode(); err != nil {
			return err
		}
		return sess.End(0)

	case "read-eeprom":
		data, err := sess.DumpEEPROM(ctx)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err

	case "write-eeprom":
		if len(args) < 1 {
			return fmt.Errorf("usage: write-eeprom <file>")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if !confirm(yes, fmt.Sprintf("erase and program data flash on %s", sess.Chip.Name)) {
			return fmt.Errorf("aborted")
		}
		sectors := uint32((len(data) + int(wchisp.SectorSize) - 1) / wchisp.SectorSize)
		if sectors == 0 {
			sectors = 1
		}
		if err := sess.EraseData(sectors); err != nil {
			return err
		}
		if err := sess.WriteEEPROM(ctx, 0, data); err != nil {
			return err
		}
		return sess.End(0)

	case "config-dump":
		for name, fields := range sess.ConfigExplanation() {
			fmt.Printf("%s:\n", name)
			for _, f := range fields {
				fmt.Printf("  %s = %d  %s\n", f.Field, f.Value, f.Text)
			}
		}
		return nil

	case "config-reset":
		if !confirm(yes, fmt.Sprintf("reset config registers to factory defaults on %s", sess.Chip.Name)) {
			return fmt.Errorf("aborted")
		}
		if err := sess.ResetConfig(); err != nil {
			return err
		}
		return sess.End(1)

	case "enable-debug":
		if err := sess.EnableDebug(); err != nil {
			return err
		}
		return sess.End(1)

	case "disable-debug":
		if err := sess.DisableDebug(); err != nil {
			return err
		}
		return sess.End(1)

	case "unprotect":
		if !confirm(yes, fmt.Sprintf("clear code-flash read protection on %s", sess.Chip.Name)) {
			return fmt.Errorf("aborted")
		}
		if err := sess.Unprotect(); err != nil {
			return err
		}
		return sess.End(1)

	case "reset":
		return sess.Reset()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func flashImagePath(args []string, cfg *config.Config) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Flash.ImageFile
}

func printInfo(info wchisp.InfoReport) {
	fmt.Printf("Chip:       %s\n", info.ChipName)
	fmt.Printf("Chip ID:    0x%02x\n", info.ChipID)
	fmt.Printf("Device ID:  0x%02x\n", info.DeviceType)
	fmt.Printf("UID:        % x\n", info.UID)
	fmt.Printf("BTVER:      %d.%d\n", info.BTVERMajor, info.BTVERMinor)
	fmt.Printf("Flash:      %d bytes\n", info.FlashSize)
	fmt.Printf("EEPROM:     %d bytes\n", info.EepromSize)
	fmt.Printf("SRAM:       %d bytes\n", info.SRAMSize)
	fmt.Printf("Protected:  %v\n", info.CodeFlashLocked)
}

// confirm prompts the user before a destructive operation unless yes is
// set or stdin is not an interactive terminal (e.g. CI).
func confirm(yes bool, action string) bool {
	if yes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Printf("About to %s. Continue? [y/N] ", action)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// openTransport opens the configured transport. portIndex, when >= 0,
// overrides cfg.Transport.Port and instead opens the nth entry reported
// by ScanPorts — useful when the serial device's OS path isn't known or
// stable across reboots.
func openTransport(cfg *config.Config, portIndex int) (wchisp.Transport, error) {
	switch strings.ToLower(cfg.Transport.Kind) {
	case "serial":
		baud := 0
		if cfg.Transport.BaudRate != nil {
			baud = *cfg.Transport.BaudRate
		}
		if portIndex >= 0 {
			return wchisp.OpenNthSerialPort(portIndex, baud)
		}
		return wchisp.OpenSerial(cfg.Transport.Port, baud)
	case "usb", "":
		return wchisp.OpenUSB()
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
