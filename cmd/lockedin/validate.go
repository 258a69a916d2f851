package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file and bypass policies",
	Long:  `Validate the LockedIn configuration file for syntax and semantic errors and compile the bypass policies.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if err := cfg.ValidateServer(); err != nil {
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintf(os.Stdout, "⚠️  Not usable for 'lockedin server': %v\n", err)
	}

	if _, err := policy.NewEngine(cfg.Client.BypassPolicyDir, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Bypass policy validation failed: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, "✅ Bypass policies compile")

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys returns the keys set in the file that no setting reads.
func findUnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, err
	}

	known := make(map[string]bool)
	for _, key := range config.Keys() {
		known[key] = true
	}

	var unknown []string
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	dumpStruct("", reflect.ValueOf(*cfg), reflect.ValueOf(*defaultCfg), yellow, green, cyan)
}

// dumpStruct walks a config section using its mapstructure keys.
func dumpStruct(prefix string, value, defaultValue reflect.Value, modifiedColor, defaultColor, sectionColor *color.Color) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(field.Name)
		}
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		if field.Type.Kind() == reflect.Struct {
			if prefix == "" {
				_, _ = sectionColor.Printf("\n[%s]\n", name)
			}
			dumpStruct(name, value.Field(i), defaultValue.Field(i), modifiedColor, defaultColor, sectionColor)
			continue
		}

		current := value.Field(i).Interface()
		def := defaultValue.Field(i).Interface()
		if isSecret(key) {
			current = redactSecret(fmt.Sprint(current))
			def = redactSecret(fmt.Sprint(def))
		}
		dumpField(name, current, def, modifiedColor, defaultColor)
	}
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

func isSecret(key string) bool {
	switch key {
	case "password", "jwt_secret", "api_key", "token":
		return true
	}
	return false
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
