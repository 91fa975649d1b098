package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

func initFlags(ko *koanf.Koanf) error {
	f := flag.NewFlagSet("sluice", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", []string{"config.yaml"}, "path to one or more config files (merged in order)")
	f.String("port", "", "port for the admin server; empty disables it")
	f.String("checkpoint.backend", "badger", "checkpoint store backend: badger, bbolt or memory")
	f.String("checkpoint.path", "data/checkpoints", "checkpoint store directory or file")
	f.Duration("drain_timeout", 0, "bound on graceful drain; 0 uses the default")
	f.Bool("debug", false, "human-readable console logs")
	f.Bool("version", false, "show the build version")

	if err := f.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	paths, _ := f.GetStringSlice("config")
	for _, path := range paths {
		var parser koanf.Parser
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return fmt.Errorf("config %s: unsupported file extension", path)
		}
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Flags override file values.
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return fmt.Errorf("load flag config: %w", err)
	}
	return nil
}
