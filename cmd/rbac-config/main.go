package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corvina/rbac"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rbac-config - Configuration tool for rbac")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rbac-config convert <input> <output>  - Convert between formats")
	fmt.Println("  rbac-config validate <file>           - Validate configuration")
	fmt.Println("  rbac-config stats <file>              - Show configuration statistics")
	fmt.Println("  rbac-config apply <file>              - Apply configuration to an in-memory engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rbac-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:     %d\n", cfg.Version)
	fmt.Printf("  Tenants:     %d\n", len(cfg.Tenants))
	fmt.Printf("  Departments: %d\n", len(cfg.Departments))
	fmt.Printf("  Users:       %d\n", len(cfg.Users))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Tenants:     %d\n", len(cfg.Tenants))
	fmt.Printf("  Departments: %d\n", len(cfg.Departments))
	fmt.Printf("  Users:       %d\n", len(cfg.Users))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Println()

	if len(cfg.Policies) > 0 {
		allowCount := 0
		denyCount := 0
		conditional := 0
		for _, p := range cfg.Policies {
			if p.Effect == rbac.EffectAllow {
				allowCount++
			} else {
				denyCount++
			}
			if p.Condition != "" {
				conditional++
			}
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow policies:       %d\n", allowCount)
		fmt.Printf("  Deny policies:        %d\n", denyCount)
		fmt.Printf("  Conditional policies: %d\n", conditional)
		fmt.Println()
	}

	if len(cfg.Departments) > 0 {
		roots := 0
		for _, d := range cfg.Departments {
			if d.ParentID == "" {
				roots++
			}
		}
		fmt.Println("Department Details:")
		fmt.Printf("  Root departments: %d\n", roots)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL: %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Audit buffer:       %d\n", cfg.Engine.AuditBuffer)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := rbac.NewEngine(rbac.NewMemoryStores())
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Tenants loaded:     %d\n", len(cfg.Tenants))
	fmt.Printf("  Roles loaded:       %d\n", len(cfg.Roles))
	fmt.Printf("  Policies loaded:    %d\n", len(cfg.Policies))
	fmt.Printf("  Assignments loaded: %d\n", len(cfg.Assignments))
}

func loadConfig(filename string) (*rbac.Config, error) {
	loader := rbac.NewConfigLoader()
	return loader.LoadFile(filename)
}

func saveConfig(cfg *rbac.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
