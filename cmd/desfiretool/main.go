// Command desfiretool connects to a PC/SC reader, authenticates against a
// DESFire card using a YAML session config, and prints the card's PICC
// and application inventory. It is a diagnostic harness over pkg/desfire,
// not a provisioning tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/barnettlynn/desfirecore/internal/config"
	"github.com/barnettlynn/desfirecore/pkg/desfire"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
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

	configPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	fmt.Printf("Using config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	key, err := config.LoadKeyHexFile(cfg.Key.KeyFile)
	if err != nil {
		log.Fatalf("key file invalid: %v", err)
	}

	conn, err := desfire.ConnectPCSC(*cfg.Runtime.ReaderIndex)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	ctx, err := desfire.NewContext(conn, byte(*cfg.Key.KeyNum), keyTypeOf(cfg.Key.KeyType), key, commandSetOf(cfg.Session.CommandSet))
	if err != nil {
		log.Fatalf("new context failed: %v", err)
	}

	channel := secureChannelOf(cfg.Session.SecureChannel)
	if channel != desfire.ChannelNone {
		fmt.Printf("Authenticating key slot %d (%s) under %s...\n", ctx.KeyNum, cfg.Key.KeyType, channel)
		if err := ctx.Authenticate(channel); err != nil {
			log.Fatalf("authenticate failed: %v", err)
		}
		fmt.Println("Authenticated.")
	}

	info, err := ctx.FillPiccInfo()
	if err != nil {
		log.Fatalf("fill picc info failed: %v", err)
	}
	fmt.Printf("Free memory: %d bytes\n", info.FreeMem)
	fmt.Printf("Key settings: %#02x, number of keys: %d\n", info.KeySettings, info.NumberOfKeys)

	apps, err := ctx.FillAppList()
	if err != nil {
		log.Fatalf("fill app list failed: %v", err)
	}
	fmt.Printf("Applications (%d):\n", len(apps))
	for _, app := range apps {
		fmt.Printf("  AID %06X  ISO %04X  DF %q  keys=%d  type=%s\n",
			app.AppNum, app.AppISONum, app.AppDFName, app.NumberOfKeys, app.KeyType)
	}
}

func keyTypeOf(s string) desfire.KeyType {
	switch strings.ToLower(s) {
	case "des":
		return desfire.KeyDES
	case "2tdea":
		return desfire.Key2TDEA
	case "3tdea":
		return desfire.Key3TDEA
	default:
		return desfire.KeyAES
	}
}

func commandSetOf(s string) desfire.CommandSet {
	switch strings.ToLower(s) {
	case "native_iso":
		return desfire.CommandSetNativeISO
	case "iso":
		return desfire.CommandSetISO
	default:
		return desfire.CommandSetNative
	}
}

func secureChannelOf(s string) desfire.SecureChannel {
	switch strings.ToLower(s) {
	case "d40":
		return desfire.ChannelD40
	case "ev1":
		return desfire.ChannelEV1
	case "ev2":
		return desfire.ChannelEV2
	default:
		return desfire.ChannelNone
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
